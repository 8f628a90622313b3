// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"context"
	"fmt"

	"aegisvpn.dev/fwcore/internal/logging"
	"aegisvpn.dev/fwcore/internal/metrics"
	"aegisvpn.dev/fwcore/internal/netfam"
)

// Anchors implements the C3 anchor manager: install/uninstall/enable/
// disable/replace of placeholder+actual chain pairs under a root chain,
// preserving the placeholder's position once created.
type Anchors struct {
	Chains *Chains
	Brand  string // lowercase brand prefix, e.g. "aegis"
	Log    *logging.Logger
	Metrics *metrics.Metrics
}

// NewAnchors builds an Anchors manager.
func NewAnchors(chains *Chains, brand string, log *logging.Logger, m *metrics.Metrics) *Anchors {
	if log == nil {
		log = logging.Default()
	}
	return &Anchors{Chains: chains, Brand: brand, Log: log, Metrics: m}
}

// PlaceholderName returns the placeholder chain name for an anchor label.
func (a *Anchors) PlaceholderName(label string) string {
	return fmt.Sprintf("%s.a.%s", a.Brand, label)
}

// ActualName returns the actual (content) chain name for an anchor label.
func (a *Anchors) ActualName(label string) string {
	return fmt.Sprintf("%s.%s", a.Brand, label)
}

// RootChainName returns the root chain name for a built-in chain.
func (a *Anchors) RootChainName(builtin netfam.BuiltinChain) string {
	return fmt.Sprintf("%s.%s", a.Brand, builtin)
}

// InstallAnchor creates the placeholder (linked, appended, into root) and
// the actual chain (populated with rules), in that order: the placeholder
// always exists before any jump to the actual chain could be evaluated.
func (a *Anchors) InstallAnchor(ctx context.Context, fam netfam.Family, table netfam.Table, rootChain, label string, rules []string) error {
	ph := a.PlaceholderName(label)
	actual := a.ActualName(label)

	if err := a.Chains.CreateChain(ctx, fam, table, ph); err != nil {
		return err
	}
	if err := a.Chains.LinkChain(ctx, fam, table, ph, rootChain, false); err != nil {
		return err
	}
	if err := a.Chains.CreateChain(ctx, fam, table, actual); err != nil {
		return err
	}
	return a.appendRules(ctx, fam, table, actual, rules)
}

// UninstallAnchor removes both chains of an anchor.
func (a *Anchors) UninstallAnchor(ctx context.Context, fam netfam.Family, table netfam.Table, rootChain, label string) error {
	ph := a.PlaceholderName(label)
	actual := a.ActualName(label)

	if err := a.Chains.UnlinkAndDeleteChain(ctx, fam, table, ph, rootChain); err != nil {
		return err
	}
	return a.Chains.DeleteChain(ctx, fam, table, actual)
}

// EnableAnchor appends a jump from the placeholder to the actual chain,
// idempotently (LinkChain already no-ops if the jump exists).
func (a *Anchors) EnableAnchor(ctx context.Context, fam netfam.Family, table netfam.Table, label string) error {
	return a.Chains.LinkChain(ctx, fam, table, a.ActualName(label), a.PlaceholderName(label), false)
}

// DisableAnchor flushes the placeholder, removing any jump to the actual chain.
func (a *Anchors) DisableAnchor(ctx context.Context, fam netfam.Family, table netfam.Table, label string) error {
	return netfam.ForEach(fam, func(f netfam.Family) error {
		_, _, err := a.Chains.run(ctx, f, fmt.Sprintf("-t %s -F %s", table, a.PlaceholderName(label)))
		return err
	})
}

// ReplaceAnchor flushes the actual chain and appends newRules in order.
// The placeholder, and therefore the anchor's position in the root chain,
// is never touched.
func (a *Anchors) ReplaceAnchor(ctx context.Context, fam netfam.Family, table netfam.Table, label string, newRules []string) error {
	actual := a.ActualName(label)
	if err := netfam.ForEach(fam, func(f netfam.Family) error {
		_, _, err := a.Chains.run(ctx, f, fmt.Sprintf("-t %s -F %s", table, actual))
		return err
	}); err != nil {
		return err
	}
	if err := a.appendRules(ctx, fam, table, actual, newRules); err != nil {
		return err
	}
	if a.Metrics != nil {
		a.Metrics.AnchorsReplaced.Inc()
	}
	return nil
}

// IsAnchorEnabled reports whether the placeholder currently jumps to the
// actual chain, for the given concrete family.
func (a *Anchors) IsAnchorEnabled(ctx context.Context, fam netfam.Family, table netfam.Table, label string) (bool, error) {
	code, _, err := a.Chains.run(ctx, fam, fmt.Sprintf("-t %s -C %s -j %s", table, a.PlaceholderName(label), a.ActualName(label)))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

func (a *Anchors) appendRules(ctx context.Context, fam netfam.Family, table netfam.Table, chain string, rules []string) error {
	return netfam.ForEach(fam, func(f netfam.Family) error {
		for _, r := range rules {
			if _, _, err := a.Chains.run(ctx, f, fmt.Sprintf("-t %s -A %s %s", table, chain, r)); err != nil {
				return err
			}
		}
		return nil
	})
}
