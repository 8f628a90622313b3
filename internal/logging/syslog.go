// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"

	"aegisvpn.dev/fwcore/internal/errors"
)

// SyslogConfig configures an optional remote syslog mirror for the logger.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns syslog forwarding disabled, matching the
// brand tag and facility LOG_USER.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "aegis",
		Facility: syslog.LOG_USER,
	}
}

// NewSyslogWriter dials a remote syslog collector and returns an io.Writer
// suitable for Logger.AddOutput. Host is required; Port, Protocol, and Tag
// fall back to DefaultSyslogConfig's values when zero.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, errors.New(errors.KindValidation, "syslog host cannot be empty")
	}

	defaults := DefaultSyslogConfig()
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = defaults.Protocol
	}
	if cfg.Tag == "" {
		cfg.Tag = defaults.Tag
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, cfg.Facility, cfg.Tag)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "dial syslog at %s", addr)
	}
	return w, nil
}
