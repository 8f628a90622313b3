// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"context"
	"fmt"
	"net"
	"reflect"

	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/logging"
	"aegisvpn.dev/fwcore/internal/metrics"
	"aegisvpn.dev/fwcore/internal/netfam"
	"aegisvpn.dev/fwcore/internal/routing"
	"aegisvpn.dev/fwcore/internal/shellexec"
	"aegisvpn.dev/fwcore/internal/splitdns"
)

// cache is the reconciler's memory of what it last applied, so UpdateRules
// only touches anchors whose inputs actually changed.
type cache struct {
	adapterName       string
	ipv6Prefix        string
	dnsServers        []string
	bypassV4          []string
	bypassV6          []string
	routedDNSInfo     splitdns.Info
	appDNSInfo        splitdns.Info
	prevRouteLocalnet string
	routeLocalnetSet  bool
}

// Reconciler implements the C5 dynamic reconciler: given the current
// FirewallParams, diffs against its cache and replaces only the anchors
// whose inputs changed.
type Reconciler struct {
	Anchors *Anchors
	Routing *routing.Manager
	Globals fwparams.Globals
	Log     *logging.Logger
	Metrics *metrics.Metrics

	installer *Installer
	cache     cache
}

// NewReconciler builds a Reconciler (and the Installer it reports
// install-state through) from an Executor and Globals.
func NewReconciler(ex shellexec.Executor, g fwparams.Globals, log *logging.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = logging.Default()
	}
	chains := NewChains(ex, log)
	anchors := NewAnchors(chains, g.BrandPrefix, log, m)
	installer := &Installer{
		Anchors: anchors,
		Chains:  chains,
		Routing: routing.NewManager(ex, g, log),
		Brand:   g.BrandPrefix,
		Log:     log,
	}
	return &Reconciler{
		Anchors:   anchors,
		Routing:   installer.Routing,
		Globals:   g,
		Log:       log,
		Metrics:   m,
		installer: installer,
	}
}

// UpdateRules runs the 8-step reconciliation against the cache, swallowing
// and logging individual step failures so one bad step never blocks the
// rest (§7 Kind 1/2 semantics for C5).
func (r *Reconciler) UpdateRules(ctx context.Context, p fwparams.FirewallParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if r.Metrics != nil {
		r.Metrics.ReconcileRunTotal.Inc()
	}
	noop := true

	if r.stepDNSEgress(ctx, p) {
		noop = false
	}
	if r.stepAdapter(ctx, p) {
		noop = false
	}
	if r.stepIPv6Prefix(ctx, p) {
		noop = false
	}
	if r.stepBypassSubnets(ctx, p, netfam.V4) {
		noop = false
	}
	if r.stepBypassSubnets(ctx, p, netfam.V6) {
		noop = false
	}
	if r.stepRoutedDNS(ctx, p) {
		noop = false
	}
	if r.stepAppDNS(ctx, p) {
		noop = false
	}
	r.stepRouteLocalnet(ctx, p)

	if noop && r.Metrics != nil {
		r.Metrics.ReconcileNoopTotal.Inc()
	}
	return nil
}

func (r *Reconciler) warn(step string, err error) {
	if err != nil {
		r.Log.Warn("reconcile step failed, continuing", "step", step, "error", err)
	}
}

// step 1: DNS egress rules. 320.allowDNS (v4) accepts (adapter, dnsServer)
// pairs on udp/tcp 53, plus the vpn-only/bypass cgroup tail rules.
func (r *Reconciler) stepDNSEgress(ctx context.Context, p fwparams.FirewallParams) bool {
	servers := connectionDNSServers(p)
	if reflect.DeepEqual(servers, r.cache.dnsServers) && adapterNameOf(p) == r.cache.adapterName {
		return false
	}

	var rules []string
	if p.Connected() {
		for _, dns := range servers {
			rules = append(rules,
				fmt.Sprintf("-o %s -p udp -d %s --dport 53 -j ACCEPT", p.Adapter.Name, dns),
				fmt.Sprintf("-o %s -p tcp -d %s --dport 53 -j ACCEPT", p.Adapter.Name, dns),
			)
		}
	}
	rules = append(rules,
		fmt.Sprintf("-m cgroup --cgroup %s -p udp --dport 53 -j ACCEPT", r.Globals.VpnOnlyCgroup),
		fmt.Sprintf("-m cgroup --cgroup %s -p tcp --dport 53 -j ACCEPT", r.Globals.VpnOnlyCgroup),
		fmt.Sprintf("-m cgroup --cgroup %s -p udp --dport 53 -j ACCEPT", r.Globals.BypassCgroup),
		fmt.Sprintf("-m cgroup --cgroup %s -p tcp --dport 53 -j ACCEPT", r.Globals.BypassCgroup),
	)

	err := r.Anchors.ReplaceAnchor(ctx, netfam.V4, netfam.TableFilter, "320.allowDNS", rules)
	r.warn("320.allowDNS", err)
	r.cache.dnsServers = servers
	return true
}

// step 2: adapter-dependent anchors.
func (r *Reconciler) stepAdapter(ctx context.Context, p fwparams.FirewallParams) bool {
	name := adapterNameOf(p)
	if name == r.cache.adapterName {
		return false
	}

	var vpnRules, hnsdRules []string
	if p.Connected() {
		vpnRules = []string{fmt.Sprintf("-o %s -j ACCEPT", name)}
		hnsdRules = []string{
			fmt.Sprintf("-m cgroup --cgroup %s -o %s -p tcp -m multiport --dports 53,%d -j ACCEPT", r.Globals.HelperGroup, name, r.Globals.HelperControlPort),
			fmt.Sprintf("-m cgroup --cgroup %s -o %s -p udp -m multiport --dports 53,%d -j ACCEPT", r.Globals.HelperGroup, name, r.Globals.HelperControlPort),
			fmt.Sprintf("-m cgroup --cgroup %s -j REJECT", r.Globals.HelperGroup),
		}
	}

	err := r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableFilter, "200.allowVPN", vpnRules)
	r.warn("200.allowVPN", err)
	err = r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableFilter, "350.allowHnsd", hnsdRules)
	r.warn("350.allowHnsd", err)

	r.cache.adapterName = name
	return true
}

// step 3: host global IPv6 prefix.
func (r *Reconciler) stepIPv6Prefix(ctx context.Context, p fwparams.FirewallParams) bool {
	prefix := ipv6Prefix64(p.Scan.GlobalIPv6)
	if prefix == r.cache.ipv6Prefix {
		return false
	}

	var allow, blockFwd []string
	if prefix != "" {
		allow = []string{fmt.Sprintf("-d %s -j ACCEPT", prefix)}
		blockFwd = []string{fmt.Sprintf("-d %s -j REJECT", prefix)}
	}

	err := r.Anchors.ReplaceAnchor(ctx, netfam.V6, netfam.TableFilter, "299.allowIPv6Prefix", allow)
	r.warn("299.allowIPv6Prefix", err)
	err = r.Anchors.ReplaceAnchor(ctx, netfam.V6, netfam.TableFilter, "299.blockFwdIPv6Prefix", blockFwd)
	r.warn("299.blockFwdIPv6Prefix", err)

	r.cache.ipv6Prefix = prefix
	return true
}

// step 4: bypass subnets, v4 and v6 handled independently via fam.
func (r *Reconciler) stepBypassSubnets(ctx context.Context, p fwparams.FirewallParams, fam netfam.Family) bool {
	subnets := p.BypassIPv4Subnets
	cachedPtr := &r.cache.bypassV4
	if fam == netfam.V6 {
		subnets = p.BypassIPv6Subnets
		cachedPtr = &r.cache.bypassV6
	}

	if reflect.DeepEqual(subnets, *cachedPtr) {
		return false
	}

	var allow []string
	for _, s := range subnets {
		allow = append(allow, fmt.Sprintf("-d %s -j ACCEPT", s))
	}
	if fam == netfam.V6 {
		allow = append(allow, "-d fe80::/10 -j ACCEPT", "-d ff00::/8 -j ACCEPT")
	}
	err := r.Anchors.ReplaceAnchor(ctx, fam, netfam.TableFilter, "305.allowSubnets", allow)
	r.warn("305.allowSubnets", err)

	if fam == netfam.V4 {
		var tagRules []string
		for _, s := range subnets {
			tagRules = append(tagRules, fmt.Sprintf("-d %s -j MARK --set-mark %s", s, r.Globals.ExcludeTag))
		}
		err := r.Anchors.ReplaceAnchor(ctx, netfam.V4, netfam.TableMangle, "90.tagSubnets", tagRules)
		r.warn("90.tagSubnets", err)
	}

	var fwdTagRules []string
	for _, s := range subnets {
		fwdTagRules = append(fwdTagRules, fmt.Sprintf("-d %s -j MARK --set-mark %s", s, r.Globals.ExcludeTag))
	}
	err = r.Anchors.ReplaceAnchor(ctx, fam, netfam.TableMangle, "200.tagFwdSubnets", fwdTagRules)
	r.warn("200.tagFwdSubnets", err)

	*cachedPtr = append([]string(nil), subnets...)
	return true
}

// step 5: routed (forwarded-traffic) DNS. Bypass when split tunneling is on
// and forwarded packets are not routed over the VPN; VpnOnly otherwise.
func (r *Reconciler) stepRoutedDNS(ctx context.Context, p fwparams.FirewallParams) bool {
	kind := splitdns.VpnOnly
	if p.EnableSplitTunnel && !p.RoutedPacketsOnVPN {
		kind = splitdns.Bypass
	}

	info, err := splitdns.Resolve(kind, p, r.Globals)
	if err != nil {
		r.warn("routed split-dns resolve", err)
		return false
	}
	if info == r.cache.routedDNSInfo {
		return false
	}

	if info.Valid() {
		mark := r.Globals.ForwardedTag
		snat := []string{fmt.Sprintf("-m mark --mark %s -p tcp --dport 53 -j SNAT --to-source %s", mark, info.SourceIP),
			fmt.Sprintf("-m mark --mark %s -p udp --dport 53 -j SNAT --to-source %s", mark, info.SourceIP)}
		dnat := []string{fmt.Sprintf("-m mark --mark %s -p tcp --dport 53 -j DNAT --to-destination %s:53", mark, info.DNSServer),
			fmt.Sprintf("-m mark --mark %s -p udp --dport 53 -j DNAT --to-destination %s:53", mark, info.DNSServer)}
		r.warn("90.fwdSnatDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "90.fwdSnatDNS", snat))
		r.warn("80.fwdSplitDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "80.fwdSplitDNS", dnat))
	} else {
		r.warn("90.fwdSnatDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "90.fwdSnatDNS", nil))
		r.warn("80.fwdSplitDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "80.fwdSplitDNS", nil))
	}

	r.cache.routedDNSInfo = info
	return true
}

// step 6: app (locally generated) DNS, driven by the mutually exclusive
// ForceVpnOnlyDNS/ForceBypassDNS flags.
func (r *Reconciler) stepAppDNS(ctx context.Context, p fwparams.FirewallParams) bool {
	var info splitdns.Info
	var err error
	switch {
	case p.Connection != nil && p.Connection.ForceVpnOnlyDNS:
		info, err = splitdns.Resolve(splitdns.VpnOnly, p, r.Globals)
	case p.Connection != nil && p.Connection.ForceBypassDNS:
		info, err = splitdns.Resolve(splitdns.Bypass, p, r.Globals)
	}
	if err != nil {
		r.warn("app split-dns resolve", err)
		return false
	}
	if info == r.cache.appDNSInfo {
		return false
	}

	if info.Valid() {
		cg := info.CgroupID
		snat := []string{fmt.Sprintf("-m cgroup --cgroup %s -p tcp --dport 53 -j SNAT --to-source %s", cg, info.SourceIP),
			fmt.Sprintf("-m cgroup --cgroup %s -p udp --dport 53 -j SNAT --to-source %s", cg, info.SourceIP)}
		dnat := []string{fmt.Sprintf("-m cgroup --cgroup %s -p tcp --dport 53 -j DNAT --to-destination %s:53", cg, info.DNSServer),
			fmt.Sprintf("-m cgroup --cgroup %s -p udp --dport 53 -j DNAT --to-destination %s:53", cg, info.DNSServer)}
		r.warn("90.snatDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "90.snatDNS", snat))
		r.warn("80.splitDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "80.splitDNS", dnat))
	} else {
		r.warn("90.snatDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "90.snatDNS", nil))
		r.warn("80.splitDNS", r.Anchors.ReplaceAnchor(ctx, netfam.Both, netfam.TableNAT, "80.splitDNS", nil))
	}

	r.cache.appDNSInfo = info
	return true
}

// step 7: route_localnet sysctl, enabled while split tunneling is active
// (SNAT is evaluated after the routing decision, so localnet destinations
// must remain routable for the return path to be NATed correctly).
func (r *Reconciler) stepRouteLocalnet(ctx context.Context, p fwparams.FirewallParams) {
	if p.EnableSplitTunnel {
		if r.cache.routeLocalnetSet {
			return
		}
		prev, err := r.Routing.EnableRouteLocalnet(ctx)
		if err != nil {
			r.warn("route_localnet enable", err)
			return
		}
		r.cache.prevRouteLocalnet = prev
		r.cache.routeLocalnetSet = true
		if r.Metrics != nil {
			r.Metrics.RouteLocalnetToggles.Inc()
		}
		return
	}
	if !r.cache.routeLocalnetSet {
		return
	}
	if err := r.Routing.DisableRouteLocalnet(ctx, r.cache.prevRouteLocalnet); err != nil {
		r.warn("route_localnet disable", err)
		return
	}
	r.cache.routeLocalnetSet = false
	if r.Metrics != nil {
		r.Metrics.RouteLocalnetToggles.Inc()
	}
}

func adapterNameOf(p fwparams.FirewallParams) string {
	if p.Adapter == nil {
		return ""
	}
	return p.Adapter.Name
}

func connectionDNSServers(p fwparams.FirewallParams) []string {
	if p.Connection == nil {
		return nil
	}
	return p.Connection.DNSServers
}

func ipv6Prefix64(globalIPv6 string) string {
	if globalIPv6 == "" {
		return ""
	}
	ip := net.ParseIP(globalIPv6)
	if ip == nil || ip.To16() == nil {
		return ""
	}
	_, network, err := net.ParseCIDR(fmt.Sprintf("%s/64", globalIPv6))
	if err != nil {
		return ""
	}
	return network.String()
}
