package firewall

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"aegisvpn.dev/fwcore/internal/metrics"
	"aegisvpn.dev/fwcore/internal/netfam"
	"aegisvpn.dev/fwcore/internal/testutil"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func newTestAnchors(ex *testutil.FakeExecutor) *Anchors {
	return NewAnchors(NewChains(ex, nil), "aegis", nil, metrics.NewMetrics())
}

func TestAnchorNaming(t *testing.T) {
	a := newTestAnchors(testutil.NewFakeExecutor())

	if got := a.PlaceholderName("200.allowVPN"); got != "aegis.a.200.allowVPN" {
		t.Errorf("PlaceholderName = %q", got)
	}
	if got := a.ActualName("200.allowVPN"); got != "aegis.200.allowVPN" {
		t.Errorf("ActualName = %q", got)
	}
	if got := a.RootChainName(netfam.OUTPUT); got != "aegis.OUTPUT" {
		t.Errorf("RootChainName = %q", got)
	}
}

func TestInstallAnchor(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	ex.ScriptPrefix("iptables -w", testutil.FakeResult{ExitCode: 0})
	a := newTestAnchors(ex)

	err := a.InstallAnchor(context.Background(), netfam.V4, netfam.TableFilter, "aegis.OUTPUT", "200.allowVPN",
		[]string{"-o tun0 -j ACCEPT"})
	if err != nil {
		t.Fatalf("InstallAnchor: %v", err)
	}

	if len(ex.CommandsContaining("-N aegis.a.200.allowVPN")) != 1 {
		t.Errorf("expected placeholder creation, got %v", ex.Commands)
	}
	if len(ex.CommandsContaining("-N aegis.200.allowVPN")) != 1 {
		t.Errorf("expected actual chain creation, got %v", ex.Commands)
	}
	if len(ex.CommandsContaining("-A aegis.200.allowVPN -o tun0 -j ACCEPT")) != 1 {
		t.Errorf("expected rule append, got %v", ex.Commands)
	}
}

func TestReplaceAnchorIncrementsMetric(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	ex.ScriptPrefix("iptables -w", testutil.FakeResult{ExitCode: 0})
	m := metrics.NewMetrics()
	a := NewAnchors(NewChains(ex, nil), "aegis", nil, m)

	if err := a.ReplaceAnchor(context.Background(), netfam.V4, netfam.TableFilter, "200.allowVPN",
		[]string{"-o tun0 -j ACCEPT"}); err != nil {
		t.Fatalf("ReplaceAnchor: %v", err)
	}

	if len(ex.CommandsContaining("-F aegis.200.allowVPN")) != 1 {
		t.Errorf("expected a flush before repopulate, got %v", ex.Commands)
	}
	if got := counterValue(t, m.AnchorsReplaced); got != 1 {
		t.Errorf("expected AnchorsReplaced == 1, got %v", got)
	}
}

func TestIsAnchorEnabled(t *testing.T) {
	ex := testutil.NewFakeExecutor()
	ex.ScriptPrefix("iptables -w -t filter -C aegis.a.200.allowVPN -j aegis.200.allowVPN", testutil.FakeResult{ExitCode: 0})
	a := newTestAnchors(ex)

	enabled, err := a.IsAnchorEnabled(context.Background(), netfam.V4, netfam.TableFilter, "200.allowVPN")
	if err != nil {
		t.Fatalf("IsAnchorEnabled: %v", err)
	}
	if !enabled {
		t.Errorf("expected enabled")
	}
}
