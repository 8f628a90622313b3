package firewall

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/testutil"
)

func newTestInstaller(ex *testutil.FakeExecutor) *Installer {
	ex.ScriptPrefix("iptables", testutil.FakeResult{ExitCode: 1})
	ex.ScriptPrefix("ip6tables", testutil.FakeResult{ExitCode: 1})
	ex.ScriptPrefix("ip ", testutil.FakeResult{ExitCode: 0})
	ex.ScriptPrefix("ip -6", testutil.FakeResult{ExitCode: 0})
	ex.ScriptPrefix("sysctl", testutil.FakeResult{ExitCode: 0, Output: "0"})
	return NewInstaller(ex, fwparams.DefaultGlobals(), nil)
}

func TestInstallerInstall(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	in := newTestInstaller(ex)
	dir := t.TempDir()
	rtPath := filepath.Join(dir, "rt_tables")
	in.RTTables.PrimaryPath = rtPath
	in.RTTables.FallbackPath = filepath.Join(dir, "absent")

	if err := in.Install(context.Background(), fwparams.DefaultGlobals()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, rc := range in.rootChains() {
		root := in.Anchors.RootChainName(rc.builtin)
		if len(ex.CommandsContaining("-N "+root)) == 0 {
			t.Errorf("expected root chain %s to be created, got %v", root, ex.Commands)
		}
	}

	if len(ex.CommandsContaining("400.allowPIA")) == 0 {
		t.Errorf("expected the 400.allowPIA anchor to be installed")
	}
	if len(ex.CommandsContaining("rule add lookup main")) == 0 {
		t.Errorf("expected policy routes to be installed after the skeleton")
	}
	rt, err := os.ReadFile(rtPath)
	if err != nil || !strings.Contains(string(rt), "vpnrt") {
		t.Errorf("expected routing table names to be bootstrapped into %s, got %q (%v)", rtPath, rt, err)
	}
}

func TestInstallerUninstall(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	in := newTestInstaller(ex)

	if err := in.Uninstall(context.Background(), fwparams.DefaultGlobals()); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if len(ex.CommandsContaining("rule del lookup main")) == 0 {
		t.Errorf("expected policy routes to be removed, got %v", ex.Commands)
	}
	root := in.Anchors.RootChainName(in.rootChains()[0].builtin)
	if len(ex.CommandsContaining("-X "+root)) == 0 {
		t.Errorf("expected root chain %s to be deleted, got %v", root, ex.Commands)
	}
}

func TestInstallerIsInstalled(t *testing.T) {
	t.Run("FalseWhenJumpAbsent", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		ex.ScriptPrefix("iptables", testutil.FakeResult{ExitCode: 1})
		in := NewInstaller(ex, fwparams.DefaultGlobals(), nil)

		if in.IsInstalled(context.Background()) {
			t.Errorf("expected IsInstalled to be false when the -C probe fails")
		}
	})

	t.Run("TrueWhenJumpPresent", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		ex.ScriptPrefix("iptables", testutil.FakeResult{ExitCode: 0})
		in := NewInstaller(ex, fwparams.DefaultGlobals(), nil)

		if !in.IsInstalled(context.Background()) {
			t.Errorf("expected IsInstalled to be true when the -C probe succeeds")
		}
	})
}
