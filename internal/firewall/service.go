// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package firewall

import (
	"context"

	"aegisvpn.dev/fwcore/internal/fwparams"
)

// Name returns the service name.
func (r *Reconciler) Name() string {
	return "Firewall"
}

// Start registers the reconciler's Prometheus instruments. The installer
// itself is applied explicitly via Install, not on service start, so a
// daemon can sequence it after interface/routing setup.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.Metrics != nil {
		r.Metrics.Register()
	}
	return nil
}

// Stop leaves installed rules in place. The daemon calls Uninstall
// explicitly when tearing down the VPN, not on service stop.
func (r *Reconciler) Stop(ctx context.Context) error {
	return nil
}

// Reload re-runs UpdateRules against the new params. It always returns
// false for "restart required": every field the reconciler tracks can be
// updated in place.
func (r *Reconciler) Reload(ctx context.Context, params fwparams.FirewallParams) (bool, error) {
	err := r.UpdateRules(ctx, params)
	return false, err
}

// Status reports whether the static skeleton has been installed.
type Status struct {
	Name      string
	Installed bool
}

// IsRunning reports whether the static ruleset is currently installed.
func (r *Reconciler) IsRunning() bool {
	return r.installer.IsInstalled(context.Background())
}

// Install builds the complete static skeleton and policy routes.
func (r *Reconciler) Install(ctx context.Context) error {
	return r.installer.Install(ctx, r.Globals)
}

// Uninstall tears down the static skeleton and policy routes.
func (r *Reconciler) Uninstall(ctx context.Context) error {
	return r.installer.Uninstall(ctx, r.Globals)
}
