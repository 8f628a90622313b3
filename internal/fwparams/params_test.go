package fwparams

import "testing"

func TestValidate(t *testing.T) {
	t.Run("AcceptsWellFormedParams", func(t *testing.T) {
		p := FirewallParams{
			Adapter:           &AdapterInfo{Name: "tun0"},
			BypassIPv4Subnets: []string{"10.1.0.0/16"},
			BypassIPv6Subnets: []string{"fd00::/8"},
		}
		if err := p.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("RejectsMalformedAdapterName", func(t *testing.T) {
		p := FirewallParams{Adapter: &AdapterInfo{Name: "tun0; rm -rf /"}}
		if err := p.Validate(); err == nil {
			t.Errorf("expected an error for an unsafe adapter name")
		}
	})

	t.Run("RejectsMalformedSubnet", func(t *testing.T) {
		p := FirewallParams{BypassIPv4Subnets: []string{"not-a-subnet"}}
		if err := p.Validate(); err == nil {
			t.Errorf("expected an error for a malformed subnet")
		}
	})
}
