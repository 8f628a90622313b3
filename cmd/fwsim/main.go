// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command fwsim dry-runs the firewall core against a recording executor
// instead of the kernel, printing every iptables/ip6tables/ip/sysctl
// invocation the install-then-reconcile sequence would issue. It is the
// quickest way to inspect what a given FirewallParams produces without root
// or a real netfilter stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"aegisvpn.dev/fwcore/internal/firewall"
	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/install"
	"aegisvpn.dev/fwcore/internal/logging"
	"aegisvpn.dev/fwcore/internal/metrics"
	"aegisvpn.dev/fwcore/internal/testutil"
)

func main() {
	globalsPath := flag.String("globals", "", "Path to an HCL globals file (defaults to the brand config path, falling back to built-in defaults, if omitted)")
	adapter := flag.String("adapter", "", "VPN adapter name; omit for disconnected state")
	localAddr := flag.String("local-addr", "", "Tunnel-local address, paired with -adapter")
	splitTunnel := flag.Bool("split-tunnel", false, "Enable split tunneling")
	routedOnVPN := flag.Bool("routed-on-vpn", false, "Route forwarded (LAN client) traffic over the VPN")
	bypassV4 := flag.String("bypass-v4", "", "Comma-separated IPv4 CIDRs to bypass the tunnel")
	dnsServers := flag.String("dns", "", "Comma-separated connection DNS servers")
	uninstall := flag.Bool("uninstall", false, "Print the teardown sequence instead of install+reconcile")
	flag.Parse()

	lg := logging.Default()

	g := fwparams.DefaultGlobals()
	effectivePath := *globalsPath
	if effectivePath == "" {
		effectivePath = install.GlobalsPath()
	}
	if _, err := os.Stat(effectivePath); err == nil {
		loaded, err := fwparams.LoadGlobals(effectivePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		g = loaded
	} else if *globalsPath != "" {
		// An explicitly named globals file that doesn't exist is an error;
		// the brand-default path is only ever a best-effort fallback.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ex := testutil.NewFakeExecutor()
	m := metrics.NewMetrics()
	recon := firewall.NewReconciler(ex, g, lg, m)

	ctx := context.Background()

	if *uninstall {
		if err := recon.Uninstall(ctx); err != nil {
			logFatal(err)
		}
		printCommands(ex)
		return
	}

	if err := recon.Install(ctx); err != nil {
		logFatal(err)
	}

	params := fwparams.FirewallParams{
		EnableSplitTunnel:  *splitTunnel,
		RoutedPacketsOnVPN: *routedOnVPN,
		BypassIPv4Subnets:  splitCSV(*bypassV4),
	}
	if *adapter != "" {
		params.Adapter = &fwparams.AdapterInfo{Name: *adapter, LocalAddress: *localAddr}
		params.Connection = &fwparams.ConnectionSettings{DNSServers: splitCSV(*dnsServers)}
	}

	if err := recon.UpdateRules(ctx, params); err != nil {
		logFatal(err)
	}

	printCommands(ex)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printCommands(ex *testutil.FakeExecutor) {
	for _, cmd := range ex.Commands {
		fmt.Println(cmd)
	}
}

func logFatal(err error) {
	log.Fatalf("fwsim: %v", err)
}
