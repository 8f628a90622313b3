// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package splitdns implements the C6 split-DNS resolver: given the current
// FirewallParams and daemon Globals, decides which DNS server, cgroup, and
// source address a DNS-redirect rule should use for a given split kind.
package splitdns

import (
	"net"

	"aegisvpn.dev/fwcore/internal/errors"
	"aegisvpn.dev/fwcore/internal/fwparams"
)

// Kind selects which class of traffic a SplitDNSInfo is resolved for.
type Kind int

const (
	// Bypass resolves DNS for traffic explicitly routed around the tunnel.
	Bypass Kind = iota
	// VpnOnly resolves DNS for traffic confined to the tunnel.
	VpnOnly
)

const loopback = "127.0.0.1"

// Info is the resolved (dnsServer, cgroupId, sourceIp) triple a DNAT/SNAT
// pair is built from. It is invalid (zero value) unless every field is
// non-empty.
type Info struct {
	DNSServer string
	CgroupID  string
	SourceIP  string
}

// Valid reports whether every field of Info is populated.
func (i Info) Valid() bool {
	return i.DNSServer != "" && i.CgroupID != "" && i.SourceIP != ""
}

// Resolve computes the split-DNS info for kind, given the current params and
// globals. It returns an error if the caller violates the documented
// precondition that ForceVpnOnlyDNS and ForceBypassDNS are mutually
// exclusive.
func Resolve(kind Kind, p fwparams.FirewallParams, g fwparams.Globals) (Info, error) {
	if p.Connection != nil && p.Connection.ForceVpnOnlyDNS && p.Connection.ForceBypassDNS {
		return Info{}, errors.New(errors.KindValidation, "splitdns: ForceVpnOnlyDNS and ForceBypassDNS are mutually exclusive")
	}

	var info Info
	switch kind {
	case Bypass:
		info = resolveBypass(p, g)
	case VpnOnly:
		info = resolveVpnOnly(p, g)
	default:
		return Info{}, errors.Errorf(errors.KindInternal, "splitdns: unknown kind %d", kind)
	}

	if ip := net.ParseIP(info.DNSServer); ip != nil && ip.IsLoopback() {
		info.SourceIP = loopback
	}
	return info, nil
}

func resolveBypass(p fwparams.FirewallParams, g fwparams.Globals) Info {
	var dnsServer string
	if len(p.ExistingDNSServers) > 0 {
		dnsServer = p.ExistingDNSServers[0]
	}
	return Info{
		DNSServer: dnsServer,
		CgroupID:  g.BypassCgroup,
		SourceIP:  p.Scan.HostLANv4,
	}
}

func resolveVpnOnly(p fwparams.FirewallParams, g fwparams.Globals) Info {
	var dnsServer string
	if p.Connection != nil && len(p.Connection.DNSServers) > 0 {
		dnsServer = p.Connection.DNSServers[0]
	}
	var sourceIP string
	if p.Adapter != nil {
		sourceIP = p.Adapter.LocalAddress
	}
	return Info{
		DNSServer: dnsServer,
		CgroupID:  g.VpnOnlyCgroup,
		SourceIP:  sourceIP,
	}
}
