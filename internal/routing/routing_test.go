package routing

import (
	"context"
	"testing"

	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/testutil"
)

func TestInstallRoutes(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	ex.ScriptPrefix("ip", testutil.FakeResult{ExitCode: 0})
	g := fwparams.DefaultGlobals()
	m := NewManager(ex, g, nil)

	if err := m.InstallRoutes(context.Background()); err != nil {
		t.Fatalf("InstallRoutes: %v", err)
	}

	if len(ex.CommandsContaining("rule add lookup main suppress_prefixlength 1")) != 2 {
		t.Errorf("expected a suppress-main rule for both families, got %v", ex.Commands)
	}
	if len(ex.CommandsContaining("lookup 16600")) != 2 {
		t.Errorf("expected a forwarded-table rule for both families, got %v", ex.Commands)
	}
	if len(ex.CommandsContaining("ip -6")) == 0 {
		t.Errorf("expected at least one ip -6 invocation, got %v", ex.Commands)
	}
}

func TestRouteLocalnetToggle(t *testing.T) {
	t.Run("EnableStashesPriorValue", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		ex.ScriptPrefix("sysctl -n net.ipv4.conf.all.route_localnet", testutil.FakeResult{ExitCode: 0, Output: "0"})
		ex.ScriptPrefix("sysctl -w net.ipv4.conf.all.route_localnet=1", testutil.FakeResult{ExitCode: 0})
		m := NewManager(ex, fwparams.DefaultGlobals(), nil)

		prev, err := m.EnableRouteLocalnet(context.Background())
		if err != nil {
			t.Fatalf("EnableRouteLocalnet: %v", err)
		}
		if prev != "0" {
			t.Errorf("previous = %q, want 0", prev)
		}
	})

	t.Run("EnableIsNoopWhenAlreadyOne", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		ex.ScriptPrefix("sysctl -n net.ipv4.conf.all.route_localnet", testutil.FakeResult{ExitCode: 0, Output: "1"})
		m := NewManager(ex, fwparams.DefaultGlobals(), nil)

		if _, err := m.EnableRouteLocalnet(context.Background()); err != nil {
			t.Fatalf("EnableRouteLocalnet: %v", err)
		}
		if len(ex.CommandsContaining("sysctl -w")) != 0 {
			t.Errorf("expected no write when already 1, got %v", ex.Commands)
		}
	})

	t.Run("DisableRestoresOnlyWhenNotAlreadyOne", func(t *testing.T) {
		ex := testutil.NewFakeExecutor()
		ex.ScriptPrefix("sysctl -w", testutil.FakeResult{ExitCode: 0})
		m := NewManager(ex, fwparams.DefaultGlobals(), nil)

		if err := m.DisableRouteLocalnet(context.Background(), "1"); err != nil {
			t.Fatalf("DisableRouteLocalnet: %v", err)
		}
		if len(ex.CommandsContaining("sysctl -w")) != 0 {
			t.Errorf("expected no restore when previous was already 1, got %v", ex.Commands)
		}

		if err := m.DisableRouteLocalnet(context.Background(), "0"); err != nil {
			t.Fatalf("DisableRouteLocalnet: %v", err)
		}
		if len(ex.CommandsContaining("sysctl -w net.ipv4.conf.all.route_localnet=0")) != 1 {
			t.Errorf("expected a restore to 0, got %v", ex.Commands)
		}
	})
}
