// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package brand provides centralized branding constants for the firewall
// core. Forking or white-labeling the product is a matter of editing
// brand.json; the brand prefix and group names in fwparams.DefaultGlobals
// build on top of LowerName rather than hard-coding a vendor string.
package brand

import (
	_ "embed"
	"encoding/json"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information.
type Brand struct {
	Name            string `json:"name"`
	LowerName       string `json:"lowerName"`
	Vendor          string `json:"vendor"`
	Website         string `json:"website"`
	Repository      string `json:"repository"`
	Description     string `json:"description"`
	Tagline         string `json:"tagline"`
	ConfigEnvPrefix string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	SocketName      string `json:"socketName"`
	BinaryName      string `json:"binaryName"`
	ServiceName     string `json:"serviceName"`
	ConfigFileName  string `json:"configFileName"`
	Copyright       string `json:"copyright"`
	License         string `json:"license"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Website = b.Website
	Repository = b.Repository
	Description = b.Description
	Tagline = b.Tagline
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	SocketName = b.SocketName
	BinaryName = b.BinaryName
	ServiceName = b.ServiceName
	ConfigFileName = b.ConfigFileName
	Copyright = b.Copyright
	License = b.License
}

// Exported variables for convenient access without calling Get().
var (
	Name            string
	LowerName       string
	Vendor          string
	Website         string
	Repository      string
	Description     string
	Tagline         string
	ConfigEnvPrefix string
	DefaultConfigDir string
	SocketName      string
	BinaryName      string
	ServiceName     string
	ConfigFileName  string
	Copyright       string
	License         string

	// Version is set at build time via -ldflags.
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// UserAgent returns a User-Agent string for diagnostic HTTP calls.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}
