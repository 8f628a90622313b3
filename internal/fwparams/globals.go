// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwparams

import (
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"aegisvpn.dev/fwcore/internal/brand"
	"aegisvpn.dev/fwcore/internal/errors"
)

// Globals collects every daemon-supplied constant the firewall, split-DNS,
// and routing components are parameterized by, loadable from an HCL file
// so an operator can retarget brand, cgroups, and fwmarks without a
// rebuild.
type Globals struct {
	BrandPrefix string `hcl:"brand_prefix"`

	VPNGroup   string `hcl:"vpn_group"`
	HelperGroup string `hcl:"helper_group"`

	BypassCgroup   string `hcl:"bypass_cgroup"`
	VpnOnlyCgroup  string `hcl:"vpn_only_cgroup"`

	WireguardFwmark string `hcl:"wireguard_fwmark"`
	ExcludeTag      string `hcl:"exclude_tag"`
	VpnOnlyTag      string `hcl:"vpn_only_tag"`
	ForwardedTag    string `hcl:"forwarded_tag"`

	ForwardedTable int `hcl:"forwarded_table"`

	SuppressedMainPrio int `hcl:"suppressed_main_prio"`
	ForwardedPrio      int `hcl:"forwarded_prio"`

	// HelperControlPort is the resolver helper's secondary port (alongside
	// DNS port 53) that 350.allowHnsd/350.cgAllowHnsd must also permit.
	HelperControlPort int `hcl:"helper_control_port,optional"`
}

// DefaultGlobals returns the values used when no globals file is present,
// matching the constants named in the external-interface contract.
func DefaultGlobals() Globals {
	return Globals{
		BrandPrefix:        brand.LowerName,
		VPNGroup:           brand.LowerName + "vpn",
		HelperGroup:        brand.LowerName + "helper",
		BypassCgroup:       "0x00010001",
		VpnOnlyCgroup:      "0x00010002",
		WireguardFwmark:    "0x00004000",
		ExcludeTag:         "0x00011000",
		VpnOnlyTag:         "0x00012000",
		ForwardedTag:       "0x00013000",
		ForwardedTable:     16600,
		SuppressedMainPrio: 15000,
		ForwardedPrio:      15001,
		HelperControlPort:  13038,
	}
}

// LoadGlobals parses an HCL globals file, following the gohcl.DecodeBody
// idiom used for the rest of this codebase's HCL-backed configuration.
// Every attribute except helper_control_port is required; a file that omits
// helper_control_port keeps its DefaultGlobals() value.
func LoadGlobals(path string) (Globals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Globals{}, errors.Wrapf(err, errors.KindUnavailable, "read globals file %s", path)
	}
	return ParseGlobals(data, path)
}

// ParseGlobals decodes HCL bytes into a Globals, defaulting HelperControlPort.
func ParseGlobals(data []byte, filename string) (Globals, error) {
	g := DefaultGlobals()

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return Globals{}, errors.Wrapf(diags, errors.KindValidation, "parse globals HCL %s", filename)
	}

	if diags := gohcl.DecodeBody(file.Body, nil, &g); diags.HasErrors() {
		return Globals{}, errors.Wrapf(diags, errors.KindValidation, "decode globals HCL %s", filename)
	}

	if g.HelperControlPort == 0 {
		g.HelperControlPort = DefaultGlobals().HelperControlPort
	}
	return g, nil
}
