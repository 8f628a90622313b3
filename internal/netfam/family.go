// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netfam holds the IP-family and netfilter-table vocabulary shared
// by every component that builds or reasons about iptables/ip6tables
// commands, so those two small enums don't force an import cycle between
// the packages that need them.
package netfam

// Family selects which iptables binding(s) an operation targets.
type Family int

const (
	V4 Family = iota
	V6
	Both
)

func (f Family) String() string {
	switch f {
	case V4:
		return "v4"
	case V6:
		return "v6"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// Tool returns the CLI binary name for a concrete family. Calling it on
// Both is a programmer error: fan it out with ForEach first.
func (f Family) Tool() string {
	switch f {
	case V4:
		return "iptables"
	case V6:
		return "ip6tables"
	default:
		panic("netfam: Tool() called on non-concrete family " + f.String())
	}
}

// ForEach invokes fn once per concrete family that f expands to: itself for
// V4/V6, and both V4 then V6 for Both. It returns the first non-nil error,
// matching the reference implementation's "return the first non-zero
// status" fan-out for Both.
func ForEach(f Family, fn func(Family) error) error {
	if f == Both {
		err := fn(V4)
		if err6 := fn(V6); err == nil {
			err = err6
		}
		return err
	}
	return fn(f)
}

// Table identifies a netfilter table.
type Table int

const (
	TableFilter Table = iota
	TableNAT
	TableMangle
	TableRaw
)

func (t Table) String() string {
	switch t {
	case TableFilter:
		return "filter"
	case TableNAT:
		return "nat"
	case TableMangle:
		return "mangle"
	case TableRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// BuiltinChain names one of the five built-in iptables chains.
type BuiltinChain string

const (
	INPUT       BuiltinChain = "INPUT"
	OUTPUT      BuiltinChain = "OUTPUT"
	FORWARD     BuiltinChain = "FORWARD"
	PREROUTING  BuiltinChain = "PREROUTING"
	POSTROUTING BuiltinChain = "POSTROUTING"
)
