// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fwparams defines the input record the reconciler diffs against
// on every reconfiguration (FirewallParams) and the daemon-supplied
// constants (Globals) the firewall/routing components are parameterized
// by, so neither the firewall package nor the splitdns/routing packages
// need to agree on a shared "config" type.
package fwparams

import "aegisvpn.dev/fwcore/internal/validation"

// AdapterInfo describes the VPN tunnel adapter. A nil *AdapterInfo in
// FirewallParams means "no adapter" (VPN disconnected).
type AdapterInfo struct {
	Name          string
	LocalAddress  string // tunnel-local IP, used as sourceIp for VpnOnly split DNS
}

// ConnectionSettings carries the user's DNS and routing preferences for
// the active connection. A nil *ConnectionSettings means "no settings"
// (VPN disconnected or not yet configured).
type ConnectionSettings struct {
	DNSServers      []string // user-configured DNS servers to use over the tunnel
	ForceVpnOnlyDNS bool
	ForceBypassDNS  bool
	DefaultRoute    bool
}

// NetScan carries host network-scan results independent of VPN state.
type NetScan struct {
	HostLANv4      string // host's LAN IPv4 address, used as sourceIp for Bypass split DNS
	GlobalIPv6     string // host's global IPv6 address; its /64 is the allowed prefix
}

// FirewallParams is the full input record the reconciler diffs on every
// call to UpdateRules.
type FirewallParams struct {
	Adapter    *AdapterInfo
	Connection *ConnectionSettings
	Scan       NetScan

	// ExistingDNSServers are the system's pre-VPN DNS servers, used by the
	// Bypass split-DNS resolution (so bypass apps keep using the DNS they
	// had before the tunnel came up).
	ExistingDNSServers []string

	EnableSplitTunnel  bool
	RoutedPacketsOnVPN bool

	BypassIPv4Subnets []string
	BypassIPv6Subnets []string
}

// Connected reports whether a VPN adapter is present.
func (p FirewallParams) Connected() bool {
	return p.Adapter != nil
}

// Validate rejects a FirewallParams whose untrusted, externally-sourced
// fields (adapter name, bypass subnets) don't look like what they claim to
// be, before any of it reaches a shell command.
func (p FirewallParams) Validate() error {
	if p.Adapter != nil {
		if err := validation.ValidateInterfaceName(p.Adapter.Name); err != nil {
			return err
		}
	}
	for _, s := range p.BypassIPv4Subnets {
		if err := validation.ValidateIPOrCIDR(s); err != nil {
			return err
		}
	}
	for _, s := range p.BypassIPv6Subnets {
		if err := validation.ValidateIPOrCIDR(s); err != nil {
			return err
		}
	}
	return nil
}
