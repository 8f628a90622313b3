// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rttables implements the C8 routing-table-name installer: appends
// the named routing tables the policy-route manager (internal/routing)
// depends on to the system's iproute2 rt_tables file, without disturbing
// any pre-existing entry.
package rttables

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"aegisvpn.dev/fwcore/internal/errors"
)

const (
	primaryPath  = "/etc/iproute2/rt_tables"
	fallbackPath = "/usr/lib/iproute2/rt_tables"
)

// Initializer appends brand-prefixed routing table names to the iproute2
// rt_tables file.
type Initializer struct {
	Brand string

	// PrimaryPath/FallbackPath are overridable for testing; production
	// callers leave them zero and get the real iproute2 locations.
	PrimaryPath  string
	FallbackPath string
}

// NewInitializer builds an Initializer for brand against the real iproute2 paths.
func NewInitializer(brand string) *Initializer {
	return &Initializer{Brand: brand, PrimaryPath: primaryPath, FallbackPath: fallbackPath}
}

// TableNames returns the four brand-prefixed routing table names, in the
// fixed order they are appended.
func (in *Initializer) TableNames() []string {
	return []string{
		in.Brand + "vpnrt",
		in.Brand + "vpnOnlyrt",
		in.Brand + "vpnWgrt",
		in.Brand + "vpnFwdrt",
	}
}

type entry struct {
	index int
	name  string
}

// line is one physical line of an rt_tables file. Every line is rewritten
// verbatim from raw; parsed "<index>\t<name>" lines also carry a non-nil
// entry, while comment and blank lines carry nil entry.
type line struct {
	raw   string
	entry *entry
}

// Install appends any of TableNames() not already present in the target
// rt_tables file, assigning each the next unused index above the file's
// current maximum. It returns false (no partial write performed) on any
// parse or I/O failure, per the C8 "fatal, never half-write" contract.
func (in *Initializer) Install() bool {
	primary := in.PrimaryPath
	if primary == "" {
		primary = primaryPath
	}
	fallback := in.FallbackPath
	if fallback == "" {
		fallback = fallbackPath
	}

	target, seedFrom := in.selectTarget(primary, fallback)

	var raw []byte
	if seedFrom != "" {
		data, err := os.ReadFile(seedFrom)
		if err != nil {
			return false
		}
		raw = data
	} else if data, err := os.ReadFile(target); err == nil {
		raw = data
	} else if !os.IsNotExist(err) {
		return false
	}

	lines, existingNames, maxIndex, err := parseRTTables(raw)
	if err != nil {
		return false
	}

	nextIndex := maxIndex + 1
	var toAdd []entry
	for _, name := range in.TableNames() {
		if existingNames[name] {
			continue
		}
		toAdd = append(toAdd, entry{index: nextIndex, name: name})
		nextIndex++
	}

	if len(toAdd) == 0 && seedFrom == "" {
		return true // already fully installed, nothing to write
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.raw)
		b.WriteString("\n")
	}
	for _, e := range toAdd {
		b.WriteString(fmt.Sprintf("%d\t%s\n", e.index, e.name))
	}

	if err := os.WriteFile(target, []byte(b.String()), 0o644); err != nil {
		return false
	}
	return true
}

// selectTarget picks the file Install() writes to: the first of primary/
// fallback that exists is the target; if only fallback exists, its content
// is seeded into primary (returned as seedFrom, meaning the caller must
// read from seedFrom to build the initial content but still write to
// primary).
func (in *Initializer) selectTarget(primary, fallback string) (target, seedFrom string) {
	if _, err := os.Stat(primary); err == nil {
		return primary, ""
	}
	if _, err := os.Stat(fallback); err == nil {
		return primary, fallback
	}
	return primary, ""
}

// parseRTTables splits raw into physical lines, parsing "<index>\t<name>"
// lines into entries while keeping comment lines, blank lines, and
// malformed-but-non-fatal lines (fewer than two fields) verbatim, so
// Install() can rewrite the file byte-for-byte except for appended
// entries. It also returns the set of table names already present and the
// highest index seen. A non-numeric index on an otherwise well-formed
// "<index>\t<name>" line is a fatal parse error: the caller must not write
// a partial file.
func parseRTTables(raw []byte) (lines []line, names map[string]bool, maxIndex int, err error) {
	names = make(map[string]bool)

	rawLines := strings.Split(string(raw), "\n")
	// A trailing newline produces one spurious empty element after Split;
	// drop it so Install() doesn't grow the file by a blank line on every
	// rewrite. A genuine blank line elsewhere in the file is unaffected.
	if len(rawLines) > 0 && rawLines[len(rawLines)-1] == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}

	for _, ln := range rawLines {
		trimmed := strings.TrimSpace(ln)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			lines = append(lines, line{raw: ln})
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			lines = append(lines, line{raw: ln})
			continue
		}
		idx, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			return nil, nil, 0, errors.Wrapf(convErr, errors.KindValidation, "rt_tables: non-numeric index %q", fields[0])
		}
		e := entry{index: idx, name: fields[1]}
		lines = append(lines, line{raw: ln, entry: &e})
		names[e.name] = true
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	return lines, names, maxIndex, nil
}
