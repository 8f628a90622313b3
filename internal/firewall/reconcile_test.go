package firewall

import (
	"context"
	"strings"
	"testing"

	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/metrics"
	"aegisvpn.dev/fwcore/internal/testutil"
)

func newTestReconciler(ex *testutil.FakeExecutor, m *metrics.Metrics) *Reconciler {
	ex.ScriptPrefix("iptables", testutil.FakeResult{ExitCode: 0})
	ex.ScriptPrefix("ip6tables", testutil.FakeResult{ExitCode: 0})
	ex.ScriptPrefix("sysctl", testutil.FakeResult{ExitCode: 0, Output: "0"})
	return NewReconciler(ex, fwparams.DefaultGlobals(), nil, m)
}

func TestUpdateRulesValidatesParams(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	r := newTestReconciler(ex, nil)

	p := fwparams.FirewallParams{Adapter: &fwparams.AdapterInfo{Name: "tun0; rm -rf /"}}
	if err := r.UpdateRules(context.Background(), p); err == nil {
		t.Fatalf("expected UpdateRules to reject an unsafe adapter name")
	}
	if len(ex.Commands) != 0 {
		t.Errorf("expected no kernel commands before validation passes, got %v", ex.Commands)
	}
}

func TestUpdateRulesNoopOnRepeat(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	m := metrics.NewMetrics()
	r := newTestReconciler(ex, m)

	p := fwparams.FirewallParams{
		Adapter:    &fwparams.AdapterInfo{Name: "tun0", LocalAddress: "10.64.0.2"},
		Connection: &fwparams.ConnectionSettings{DNSServers: []string{"10.64.0.1"}},
	}

	if err := r.UpdateRules(context.Background(), p); err != nil {
		t.Fatalf("first UpdateRules: %v", err)
	}
	first := len(ex.Commands)
	if first == 0 {
		t.Fatalf("expected the first reconcile to issue kernel commands")
	}

	if err := r.UpdateRules(context.Background(), p); err != nil {
		t.Fatalf("second UpdateRules: %v", err)
	}
	if len(ex.Commands) != first {
		t.Errorf("expected the second reconcile with identical params to issue no new commands, went from %d to %d", first, len(ex.Commands))
	}

	if counterValue(t, m.ReconcileRunTotal) != 2 {
		t.Errorf("expected ReconcileRunTotal = 2")
	}
	if counterValue(t, m.ReconcileNoopTotal) != 1 {
		t.Errorf("expected ReconcileNoopTotal = 1 after the repeat call")
	}
}

func TestUpdateRulesChangedAdapterReplacesAnchors(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	r := newTestReconciler(ex, nil)

	p1 := fwparams.FirewallParams{Adapter: &fwparams.AdapterInfo{Name: "tun0"}}
	if err := r.UpdateRules(context.Background(), p1); err != nil {
		t.Fatalf("first UpdateRules: %v", err)
	}

	p2 := fwparams.FirewallParams{Adapter: &fwparams.AdapterInfo{Name: "tun1"}}
	if err := r.UpdateRules(context.Background(), p2); err != nil {
		t.Fatalf("second UpdateRules: %v", err)
	}

	if len(ex.CommandsContaining("-o tun1 -j ACCEPT")) == 0 {
		t.Errorf("expected 200.allowVPN to be replaced with the new adapter name, got %v", ex.Commands)
	}
}

func TestUpdateRulesBypassSubnetsTagForwardedPerFamily(t *testing.T) {
	t.Run("IPv4TagsBothSubnetsAndForwardedAnchorOnIPv4Only", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		r := newTestReconciler(ex, nil)

		p := fwparams.FirewallParams{BypassIPv4Subnets: []string{"10.1.0.0/16"}}
		if err := r.UpdateRules(context.Background(), p); err != nil {
			t.Fatalf("UpdateRules: %v", err)
		}

		if len(ex.CommandsContaining("iptables")) == 0 {
			t.Fatalf("expected some iptables commands, got %v", ex.Commands)
		}
		if len(ex.CommandsContaining("200.tagFwdSubnets -d 10.1.0.0/16")) == 0 {
			t.Errorf("expected 200.tagFwdSubnets to be replaced for the v4 bypass subnet, got %v", ex.Commands)
		}
		for _, cmd := range ex.CommandsContaining("200.tagFwdSubnets") {
			if !strings.HasPrefix(cmd, "iptables") {
				t.Errorf("expected 200.tagFwdSubnets to only touch iptables for an IPv4-only change, got %q", cmd)
			}
		}
		if len(ex.CommandsContaining("90.tagSubnets")) == 0 {
			t.Errorf("expected 90.tagSubnets to be replaced for the v4 bypass subnet, got %v", ex.Commands)
		}
	})

	t.Run("IPv6AlsoTagsForwardedAnchorOnIPv6Only", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		r := newTestReconciler(ex, nil)

		p := fwparams.FirewallParams{BypassIPv6Subnets: []string{"fd00::/8"}}
		if err := r.UpdateRules(context.Background(), p); err != nil {
			t.Fatalf("UpdateRules: %v", err)
		}

		found := false
		for _, cmd := range ex.CommandsContaining("200.tagFwdSubnets") {
			if strings.HasPrefix(cmd, "ip6tables") && strings.Contains(cmd, "fd00::/8") {
				found = true
			}
			if strings.HasPrefix(cmd, "iptables") {
				t.Errorf("expected 200.tagFwdSubnets for an IPv6-only change to stay off ip4tables, got %q", cmd)
			}
		}
		if !found {
			t.Errorf("expected 200.tagFwdSubnets to be replaced on ip6tables for the v6 bypass subnet, got %v", ex.Commands)
		}
		if len(ex.CommandsContaining("90.tagSubnets")) != 0 {
			t.Errorf("expected 90.tagSubnets to stay v4-only, got %v", ex.Commands)
		}
	})
}

func TestUpdateRulesRouteLocalnetTogglesWithSplitTunnel(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	r := newTestReconciler(ex, nil)

	on := fwparams.FirewallParams{EnableSplitTunnel: true}
	if err := r.UpdateRules(context.Background(), on); err != nil {
		t.Fatalf("enable UpdateRules: %v", err)
	}
	if len(ex.CommandsContaining("sysctl -w net.ipv4.conf.all.route_localnet=1")) != 1 {
		t.Errorf("expected route_localnet to be enabled once, got %v", ex.Commands)
	}

	off := fwparams.FirewallParams{EnableSplitTunnel: false}
	if err := r.UpdateRules(context.Background(), off); err != nil {
		t.Fatalf("disable UpdateRules: %v", err)
	}
	if len(ex.CommandsContaining("sysctl -w net.ipv4.conf.all.route_localnet=0")) != 1 {
		t.Errorf("expected route_localnet to be restored to 0, got %v", ex.Commands)
	}
}
