// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"aegisvpn.dev/fwcore/internal/logging"
	"aegisvpn.dev/fwcore/internal/netfam"
	"aegisvpn.dev/fwcore/internal/shellexec"
)

// Chains implements the C2 chain primitives: idempotent create/delete/link/
// unlink of named chains, fanned out across IP families via netfam.ForEach.
// Every mutation routes through a single Executor, matching the "-w" wait
// flag contract so concurrent external editors are serialized by the
// kernel rather than by this process.
type Chains struct {
	Ex  shellexec.Executor
	Log *logging.Logger
}

// NewChains builds a Chains using ex for every mutation.
func NewChains(ex shellexec.Executor, log *logging.Logger) *Chains {
	if log == nil {
		log = logging.Default()
	}
	return &Chains{Ex: ex, Log: log}
}

func (c *Chains) run(ctx context.Context, fam netfam.Family, args string) (int, string, error) {
	cmd := fmt.Sprintf("%s -w %s", fam.Tool(), args)
	code, out, err := c.Ex.Run(ctx, cmd)
	if err != nil {
		c.Log.Warn("kernel command could not be started", "cmd", cmd, "error", err)
	}
	return code, out, err
}

// CreateChain creates name in table if absent, else flushes it.
func (c *Chains) CreateChain(ctx context.Context, fam netfam.Family, table netfam.Table, name string) error {
	return netfam.ForEach(fam, func(f netfam.Family) error {
		code, out, err := c.run(ctx, f, fmt.Sprintf("-t %s -N %s", table, name))
		if err != nil {
			return err
		}
		if code != 0 {
			// Chain already exists: flush it instead.
			if _, _, ferr := c.run(ctx, f, fmt.Sprintf("-t %s -F %s", table, name)); ferr != nil {
				return ferr
			}
			_ = out
		}
		return nil
	})
}

// DeleteChain flushes and removes name from table if present; otherwise no-op.
func (c *Chains) DeleteChain(ctx context.Context, fam netfam.Family, table netfam.Table, name string) error {
	return netfam.ForEach(fam, func(f netfam.Family) error {
		// Both commands are allowed to fail silently: a missing chain
		// makes -F and -X fail with a benign, expected error (Kind 1).
		if _, _, err := c.run(ctx, f, fmt.Sprintf("-t %s -F %s", table, name)); err != nil {
			return err
		}
		if _, _, err := c.run(ctx, f, fmt.Sprintf("-t %s -X %s", table, name)); err != nil {
			return err
		}
		return nil
	})
}

// LinkChain ensures a jump from parent to child exists in table.
//
// When mustBeFirst is false, it appends a jump only if one is not already
// present anywhere in parent.
//
// When mustBeFirst is true, it guarantees the jump sits at line 1 of
// parent: if line 1 is already the jump, it is left alone; otherwise a
// jump is inserted at line 1 and any *other* jump to child (at a line
// number greater than 1) is deleted, one rule at a time, highest line
// number first so earlier deletions don't renumber later targets.
func (c *Chains) LinkChain(ctx context.Context, fam netfam.Family, table netfam.Table, child, parent string, mustBeFirst bool) error {
	return netfam.ForEach(fam, func(f netfam.Family) error {
		if !mustBeFirst {
			return c.linkChainAppend(ctx, f, table, child, parent)
		}
		return c.linkChainFirst(ctx, f, table, child, parent)
	})
}

func (c *Chains) linkChainAppend(ctx context.Context, fam netfam.Family, table netfam.Table, child, parent string) error {
	code, _, err := c.run(ctx, fam, fmt.Sprintf("-t %s -C %s -j %s", table, parent, child))
	if err != nil {
		return err
	}
	if code == 0 {
		return nil // already linked
	}
	_, _, err = c.run(ctx, fam, fmt.Sprintf("-t %s -A %s -j %s", table, parent, child))
	return err
}

func (c *Chains) linkChainFirst(ctx context.Context, fam netfam.Family, table netfam.Table, child, parent string) error {
	lines, err := c.listRules(ctx, fam, table, parent)
	if err != nil {
		return err
	}

	if len(lines) > 0 && isJumpTo(lines[0].rule, child) {
		return nil
	}

	if _, _, err := c.run(ctx, fam, fmt.Sprintf("-t %s -I %s 1 -j %s", table, parent, child)); err != nil {
		return err
	}

	// Re-list: line numbers have shifted by one after the insert.
	lines, err = c.listRules(ctx, fam, table, parent)
	if err != nil {
		return err
	}

	// Guard (per design notes): only invoke per-line deletes when the
	// listing actually contains stale duplicate jumps past line 1.
	var stale []int
	for _, l := range lines {
		if l.num > 1 && isJumpTo(l.rule, child) {
			stale = append(stale, l.num)
		}
	}
	for i := len(stale) - 1; i >= 0; i-- {
		if _, _, err := c.run(ctx, fam, fmt.Sprintf("-t %s -D %s %d", table, parent, stale[i])); err != nil {
			return err
		}
	}
	return nil
}

// UnlinkChain removes a single parent->child jump if present.
func (c *Chains) UnlinkChain(ctx context.Context, fam netfam.Family, table netfam.Table, child, parent string) error {
	return netfam.ForEach(fam, func(f netfam.Family) error {
		code, _, err := c.run(ctx, f, fmt.Sprintf("-t %s -C %s -j %s", table, parent, child))
		if err != nil {
			return err
		}
		if code != 0 {
			return nil // not linked
		}
		_, _, err = c.run(ctx, f, fmt.Sprintf("-t %s -D %s -j %s", table, parent, child))
		return err
	})
}

// UnlinkAndDeleteChain unlinks child from parent, then deletes child.
func (c *Chains) UnlinkAndDeleteChain(ctx context.Context, fam netfam.Family, table netfam.Table, child, parent string) error {
	if err := c.UnlinkChain(ctx, fam, table, child, parent); err != nil {
		return err
	}
	return c.DeleteChain(ctx, fam, table, child)
}

type ruleLine struct {
	num  int
	rule string
}

// listRules runs `-L parent -n --line-numbers` and parses the rule lines,
// skipping the two-line header nftables^H^H^Hiptables emits ("Chain X..."
// and the column header).
func (c *Chains) listRules(ctx context.Context, fam netfam.Family, table netfam.Table, chain string) ([]ruleLine, error) {
	_, out, err := c.run(ctx, fam, fmt.Sprintf("-t %s -L %s -n --line-numbers", table, chain))
	if err != nil {
		return nil, err
	}

	var rules []ruleLine
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Chain ") || strings.HasPrefix(line, "num ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		rules = append(rules, ruleLine{num: n, rule: line})
	}
	return rules, nil
}

// isJumpTo reports whether an iptables -L -n --line-numbers rule line
// targets the given chain name. With -n, the target column holds the bare
// chain name, so a substring match on word boundaries is sufficient.
func isJumpTo(rule, target string) bool {
	return strings.Contains(rule, " "+target+" ") || strings.HasSuffix(rule, " "+target)
}
