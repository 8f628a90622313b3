// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"context"
	"fmt"

	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/logging"
	"aegisvpn.dev/fwcore/internal/netfam"
	"aegisvpn.dev/fwcore/internal/routing"
	"aegisvpn.dev/fwcore/internal/rttables"
	"aegisvpn.dev/fwcore/internal/shellexec"
)

// rootChainUse names one (table, built-in) pair the installer links a root
// chain into.
type rootChainUse struct {
	table   netfam.Table
	builtin netfam.BuiltinChain
}

// anchorSpec is one row of the static skeleton: a label, the family it is
// installed under, and its initial rule-body fragments (appended after
// "-A <chain>"). Rows are listed in installation order, which is also
// placeholder precedence order (§4.2-§4.4).
type anchorSpec struct {
	table   netfam.Table
	builtin netfam.BuiltinChain
	label   string
	fam     netfam.Family
	rules   []string
}

// Installer implements the C4 static ruleset installer: builds and tears
// down the complete priority-ordered anchor skeleton across the filter,
// nat, mangle, and raw tables.
type Installer struct {
	Anchors  *Anchors
	Chains   *Chains
	Routing  *routing.Manager
	RTTables *rttables.Initializer
	Brand    string
	Log      *logging.Logger
}

// NewInstaller wires an Installer from an Executor and Globals.
func NewInstaller(ex shellexec.Executor, g fwparams.Globals, log *logging.Logger) *Installer {
	if log == nil {
		log = logging.Default()
	}
	chains := NewChains(ex, log)
	return &Installer{
		Anchors:  NewAnchors(chains, g.BrandPrefix, log, nil),
		Chains:   chains,
		Routing:  routing.NewManager(ex, g, log),
		RTTables: rttables.NewInitializer(g.BrandPrefix),
		Brand:    g.BrandPrefix,
		Log:      log,
	}
}

func (in *Installer) rootChains() []rootChainUse {
	return []rootChainUse{
		{netfam.TableFilter, netfam.OUTPUT},
		{netfam.TableFilter, netfam.INPUT},
		{netfam.TableNAT, netfam.OUTPUT},
		{netfam.TableNAT, netfam.PREROUTING},
		{netfam.TableNAT, netfam.POSTROUTING},
		{netfam.TableMangle, netfam.OUTPUT},
		{netfam.TableMangle, netfam.PREROUTING},
		{netfam.TableRaw, netfam.PREROUTING},
	}
}

func (in *Installer) skeleton(g fwparams.Globals) []anchorSpec {
	f, m := netfam.TableFilter, netfam.TableMangle
	n, r := netfam.TableNAT, netfam.TableRaw

	hnsdPorts := fmt.Sprintf("53,%d", g.HelperControlPort)

	return []anchorSpec{
		// Filter / OUTPUT, in priority order.
		{f, netfam.OUTPUT, "400.allowPIA", netfam.Both, []string{
			fmt.Sprintf("-m owner --gid-owner %s -j ACCEPT", g.VPNGroup),
		}},
		{f, netfam.OUTPUT, "390.allowWg", netfam.Both, []string{
			fmt.Sprintf("-m mark --mark %s -j ACCEPT", g.WireguardFwmark),
		}},
		{f, netfam.OUTPUT, "350.allowHnsd", netfam.Both, nil}, // filled at runtime with adapter
		{f, netfam.OUTPUT, "350.cgAllowHnsd", netfam.Both, []string{
			fmt.Sprintf("-m cgroup --cgroup %s -p tcp -m multiport --dports %s -j ACCEPT", g.HelperGroup, hnsdPorts),
			fmt.Sprintf("-m cgroup --cgroup %s -p udp -m multiport --dports %s -j ACCEPT", g.HelperGroup, hnsdPorts),
			fmt.Sprintf("-m cgroup --cgroup %s -j REJECT", g.HelperGroup),
		}},
		{f, netfam.OUTPUT, "340.blockVpnOnly", netfam.Both, []string{
			fmt.Sprintf("-m cgroup --cgroup %s -j REJECT", g.VpnOnlyCgroup),
		}},
		{f, netfam.OUTPUT, "320.allowDNS", netfam.V4, nil},
		{f, netfam.OUTPUT, "310.blockDNS", netfam.Both, []string{
			"-p tcp --dport 53 -j REJECT",
			"-p udp --dport 53 -j REJECT",
		}},
		// 305.allowSubnets: per the resolved open question, installed as
		// distinct v4/v6 anchors rather than one Both anchor, since the
		// reconciler always replaces them per-family.
		{f, netfam.OUTPUT, "305.allowSubnets", netfam.V4, nil},
		{f, netfam.OUTPUT, "305.allowSubnets", netfam.V6, nil},
		{f, netfam.OUTPUT, "300.allowLAN", netfam.V4, []string{
			"-d 10.0.0.0/8 -j ACCEPT",
			"-d 172.16.0.0/12 -j ACCEPT",
			"-d 192.168.0.0/16 -j ACCEPT",
			"-d 169.254.0.0/16 -j ACCEPT",
			"-d 224.0.0.0/4 -j ACCEPT",
			"-d 255.255.255.255/32 -j ACCEPT",
		}},
		{f, netfam.OUTPUT, "300.allowLAN", netfam.V6, []string{
			"-d fc00::/7 -j ACCEPT",
			"-d fe80::/10 -j ACCEPT",
			"-d ff00::/8 -j ACCEPT",
		}},
		{f, netfam.OUTPUT, "299.allowIPv6Prefix", netfam.V6, nil},
		// 299.blockFwdIPv6Prefix: per the resolved open question, installed
		// alongside 299.allowIPv6Prefix even though install() in the
		// original never created it.
		{f, netfam.OUTPUT, "299.blockFwdIPv6Prefix", netfam.V6, nil},
		{f, netfam.OUTPUT, "290.allowDHCP", netfam.V4, []string{
			"-p udp -d 255.255.255.255 --sport 68 --dport 67 -j ACCEPT",
		}},
		{f, netfam.OUTPUT, "290.allowDHCP", netfam.V6, []string{
			"-p udp -d ff00::/8 --sport 546 --dport 547 -j ACCEPT",
		}},
		{f, netfam.OUTPUT, "250.blockIPv6", netfam.V6, []string{
			"! -o lo -j REJECT",
		}},
		{f, netfam.OUTPUT, "200.allowVPN", netfam.Both, nil}, // filled at runtime with adapter
		{f, netfam.OUTPUT, "100.blockAll", netfam.Both, []string{
			"-j REJECT",
		}},
		{f, netfam.OUTPUT, "000.allowLoopback", netfam.Both, []string{
			"-o lo+ -j ACCEPT",
		}},

		// Filter / INPUT.
		{f, netfam.INPUT, "100.protectLoopback", netfam.V4, []string{
			"! -i lo -d 127.0.0.0/8 -j REJECT",
		}},

		// NAT table: all initially empty, filled at runtime (§4.5 steps 5-6).
		{n, netfam.OUTPUT, "80.splitDNS", netfam.Both, nil},
		{n, netfam.PREROUTING, "80.fwdSplitDNS", netfam.Both, nil},
		{n, netfam.POSTROUTING, "90.snatDNS", netfam.Both, nil},
		{n, netfam.POSTROUTING, "90.fwdSnatDNS", netfam.Both, nil},
		{n, netfam.POSTROUTING, "100.transIp", netfam.Both, nil},

		// Mangle / OUTPUT. 90.tagSubnets must precede 100.tagVpnOnly so
		// vpn-only tags win over bypass tags (last-mark-wins).
		{m, netfam.OUTPUT, "90.tagSubnets", netfam.V4, nil},
		{m, netfam.OUTPUT, "100.tagBypass", netfam.Both, []string{
			fmt.Sprintf("-m cgroup --cgroup %s -j MARK --set-mark %s", g.BypassCgroup, g.ExcludeTag),
		}},
		{m, netfam.OUTPUT, "100.tagVpnOnly", netfam.Both, []string{
			fmt.Sprintf("-m cgroup --cgroup %s -j MARK --set-mark %s", g.VpnOnlyCgroup, g.VpnOnlyTag),
		}},

		// Mangle / PREROUTING.
		{m, netfam.PREROUTING, "100.tagFwd", netfam.Both, []string{
			fmt.Sprintf("-j MARK --set-mark %s", g.ForwardedTag),
		}},
		{m, netfam.PREROUTING, "200.tagFwdSubnets", netfam.Both, nil},

		// Raw table.
		{r, netfam.PREROUTING, "100.vpnTunOnly", netfam.Both, []string{
			"-j ACCEPT", // CVE-2019-14899 mitigation is tightened at runtime
		}},
	}
}

// Install tears down any prior state, then builds the complete skeleton:
// root chains, anchors in priority order, root-chain linkage, and policy
// routes.
func (in *Installer) Install(ctx context.Context, g fwparams.Globals) error {
	if err := in.Uninstall(ctx, g); err != nil {
		in.Log.Warn("pre-install teardown reported an error, continuing", "error", err)
	}

	for _, rc := range in.rootChains() {
		name := in.Anchors.RootChainName(rc.builtin)
		if err := in.Chains.CreateChain(ctx, netfam.Both, rc.table, name); err != nil {
			return err
		}
	}

	for _, spec := range in.skeleton(g) {
		root := in.Anchors.RootChainName(spec.builtin)
		if err := in.Anchors.InstallAnchor(ctx, spec.fam, spec.table, root, spec.label, spec.rules); err != nil {
			return err
		}
	}

	for _, rc := range in.rootChains() {
		name := in.Anchors.RootChainName(rc.builtin)
		if err := in.Chains.LinkChain(ctx, netfam.Both, rc.table, name, string(rc.builtin), true); err != nil {
			return err
		}
	}

	if in.RTTables != nil && !in.RTTables.Install() {
		in.Log.Warn("routing table name bootstrap reported a failure, continuing with numeric table ids only")
	}

	return in.Routing.InstallRoutes(ctx)
}

// Uninstall is the inverse of Install: remove policy routes, then unlink
// and delete every root chain (flushing it drops its jumps to the anchor
// placeholders), then uninstall every anchor, deleting both its placeholder
// and its actual chain.
func (in *Installer) Uninstall(ctx context.Context, g fwparams.Globals) error {
	if err := in.Routing.UninstallRoutes(ctx); err != nil {
		in.Log.Warn("removing policy routes reported an error, continuing", "error", err)
	}

	for _, rc := range in.rootChains() {
		name := in.Anchors.RootChainName(rc.builtin)
		if err := in.Chains.UnlinkAndDeleteChain(ctx, netfam.Both, rc.table, name, string(rc.builtin)); err != nil {
			in.Log.Warn("unlink/delete root chain reported an error, continuing", "chain", name, "error", err)
		}
	}

	for _, spec := range in.skeleton(g) {
		root := in.Anchors.RootChainName(spec.builtin)
		if err := in.Anchors.UninstallAnchor(ctx, spec.fam, spec.table, root, spec.label); err != nil {
			in.Log.Warn("uninstall anchor reported an error, continuing", "label", spec.label, "error", err)
		}
	}
	return nil
}

// IsInstalled reports whether the filter/OUTPUT root chain is already
// linked at the top of OUTPUT, used as the cheap single-probe signal for
// "has Install() already run".
func (in *Installer) IsInstalled(ctx context.Context) bool {
	root := in.Anchors.RootChainName(netfam.OUTPUT)
	code, _, err := in.Chains.run(ctx, netfam.V4, fmt.Sprintf("-t %s -C %s -j %s", netfam.TableFilter, netfam.OUTPUT, root))
	if err != nil {
		return false
	}
	return code == 0
}
