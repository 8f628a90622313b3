// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves the on-disk locations the daemon reads
// configuration from, honoring environment overrides the way the rest of
// the brand-aware tooling does.
package install

import (
	"os"
	"path/filepath"

	"aegisvpn.dev/fwcore/internal/brand"
)

// DefaultConfigDir is the brand's configured default, overridable at build
// time via -ldflags (set BuildDefaultConfigDir before init runs).
var DefaultConfigDir string

// BuildDefaultConfigDir overrides DefaultConfigDir when set via -ldflags.
var BuildDefaultConfigDir = ""

func init() {
	if BuildDefaultConfigDir != "" {
		DefaultConfigDir = BuildDefaultConfigDir
	} else {
		DefaultConfigDir = brand.DefaultConfigDir
	}
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: AEGIS_CONFIG_DIR > AEGIS_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(brand.ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(brand.ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GlobalsPath returns the default path of the globals HCL file.
func GlobalsPath() string {
	return filepath.Join(GetConfigDir(), brand.ConfigFileName)
}
