// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routing implements the C7 policy-route manager: the `ip rule`
// entries that suppress the main table's default-route lookup and send
// fwmark-tagged forwarded traffic through the forwarded table, plus the
// route_localnet sysctl toggle SNAT-based split tunneling depends on.
package routing

import (
	"context"
	"fmt"
	"strings"

	"aegisvpn.dev/fwcore/internal/errors"
	"aegisvpn.dev/fwcore/internal/fwparams"
	"aegisvpn.dev/fwcore/internal/logging"
	"aegisvpn.dev/fwcore/internal/netfam"
	"aegisvpn.dev/fwcore/internal/shellexec"
)

// Manager issues `ip`/`ip -6 rule` commands and toggles net.ipv4.conf.*.route_localnet.
type Manager struct {
	Ex      shellexec.Executor
	Globals fwparams.Globals
	Log     *logging.Logger
}

// NewManager builds a Manager.
func NewManager(ex shellexec.Executor, g fwparams.Globals, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{Ex: ex, Globals: g, Log: log}
}

func (m *Manager) run(ctx context.Context, fam netfam.Family, args string) (int, string, error) {
	tool := "ip"
	if fam == netfam.V6 {
		tool = "ip -6"
	}
	cmd := fmt.Sprintf("%s %s", tool, args)
	code, out, err := m.Ex.Run(ctx, cmd)
	if err != nil {
		m.Log.Warn("routing command could not be started", "cmd", cmd, "error", err)
	}
	return code, out, err
}

// InstallRoutes adds the suppress-main and forwarded-table rules for both
// families. Idempotent: an `ip rule add` that already exists fails with a
// benign, ignorable exit code.
func (m *Manager) InstallRoutes(ctx context.Context) error {
	return netfam.ForEach(netfam.Both, func(f netfam.Family) error {
		if _, _, err := m.run(ctx, f, fmt.Sprintf(
			"rule add lookup main suppress_prefixlength 1 prio %d", m.Globals.SuppressedMainPrio)); err != nil {
			return err
		}
		_, _, err := m.run(ctx, f, fmt.Sprintf(
			"rule add from all fwmark %s lookup %d prio %d",
			m.Globals.ForwardedTag, m.Globals.ForwardedTable, m.Globals.ForwardedPrio))
		return err
	})
}

// UninstallRoutes removes both rules for both families.
func (m *Manager) UninstallRoutes(ctx context.Context) error {
	return netfam.ForEach(netfam.Both, func(f netfam.Family) error {
		if _, _, err := m.run(ctx, f, fmt.Sprintf(
			"rule del lookup main suppress_prefixlength 1 prio %d", m.Globals.SuppressedMainPrio)); err != nil {
			return err
		}
		_, _, err := m.run(ctx, f, fmt.Sprintf(
			"rule del from all fwmark %s lookup %d prio %d",
			m.Globals.ForwardedTag, m.Globals.ForwardedTable, m.Globals.ForwardedPrio))
		return err
	})
}

const routeLocalnetSysctl = "net.ipv4.conf.all.route_localnet"

// EnableRouteLocalnet stashes the prior sysctl value (as the reconciler's
// cache entry) and sets it to 1, unless it is already 1, in which case the
// stash is a no-op and previous==1 is returned so a later Disable does not
// clobber a value this process didn't set.
func (m *Manager) EnableRouteLocalnet(ctx context.Context) (previous string, err error) {
	prev, err := m.readSysctl(ctx)
	if err != nil {
		return "", err
	}
	if prev == "1" {
		return prev, nil
	}
	if _, _, err := m.Ex.Run(ctx, fmt.Sprintf("sysctl -w %s=1", routeLocalnetSysctl)); err != nil {
		return "", errors.Wrap(err, errors.KindUnavailable, "enable route_localnet")
	}
	return prev, nil
}

// DisableRouteLocalnet restores previous, unless previous was already "1"
// (meaning some other owner wanted it on before this process ran), in which
// case it leaves the sysctl untouched.
func (m *Manager) DisableRouteLocalnet(ctx context.Context, previous string) error {
	if previous == "1" || previous == "" {
		return nil
	}
	_, _, err := m.Ex.Run(ctx, fmt.Sprintf("sysctl -w %s=%s", routeLocalnetSysctl, previous))
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "restore route_localnet")
	}
	return nil
}

func (m *Manager) readSysctl(ctx context.Context) (string, error) {
	_, out, err := m.Ex.Run(ctx, fmt.Sprintf("sysctl -n %s", routeLocalnetSysctl))
	if err != nil {
		return "", errors.Wrap(err, errors.KindUnavailable, "read route_localnet")
	}
	return strings.TrimSpace(out), nil
}
