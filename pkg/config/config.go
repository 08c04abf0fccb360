// Package config parses the emulator's listen-address and disk-spec
// grammars, and optionally merges defaults from an INI file underneath
// explicit flag overrides (§6).
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mvo5/goconfigparser"
)

// DiskSpec is one parsed `-d/--disk <LETTER>:<PATH>` argument.
type DiskSpec struct {
	Drive int // 0='A' .. 15='P'
	Path  string
}

// ParseDiskSpec parses "LETTER:PATH" into a drive index and path.
func ParseDiskSpec(spec string) (DiskSpec, error) {
	idx := strings.IndexByte(spec, ':')
	if idx < 1 {
		return DiskSpec{}, fmt.Errorf("config: disk spec %q must be LETTER:PATH", spec)
	}
	letter := strings.ToUpper(spec[:idx])
	path := spec[idx+1:]
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'P' {
		return DiskSpec{}, fmt.Errorf("config: disk spec %q has invalid drive letter (want A..P)", spec)
	}
	if path == "" {
		return DiskSpec{}, fmt.Errorf("config: disk spec %q has an empty path", spec)
	}
	return DiskSpec{Drive: int(letter[0] - 'A'), Path: path}, nil
}

// ParseListenAddress parses a listen address in any of the forms PORT,
// HOST:PORT, [IPv6]:PORT, or host-only, returning the host (empty for "all
// interfaces") and the port (zero if none was given).
func ParseListenAddress(addr string) (host string, port int, err error) {
	if addr == "" {
		return "", 0, nil
	}
	if p, err := strconv.Atoi(addr); err == nil {
		return "", p, nil
	}
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// Bare host, no port.
		return addr, 0, nil
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("config: listen address %q has a non-numeric port: %w", addr, err)
	}
	return h, p, nil
}

// Config holds the emulator's runtime configuration, as assembled from an
// optional INI file and command-line flags (flags win).
type Config struct {
	Disks            []DiskSpec
	BootImage        string
	SystemImage      string
	Local            bool
	SSHPort          int
	HostKeyPath      string
	AuthorizedKeys   string
	NoAuth           bool
	HTTPPort         int
	AccessLogPath    string
	TimeoutSeconds   int
}

// LoadINI reads defaults from an INI file using
// github.com/mvo5/goconfigparser, under the `[emulator]` section, filling
// in only the fields cfg does not already have a non-zero value for, so
// that values already set from flags win over the file.
func LoadINI(path string, cfg *Config) error {
	p := goconfigparser.New()
	if err := p.ReadFile(path); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if cfg.BootImage == "" {
		if v, err := p.Get("emulator", "boot"); err == nil {
			cfg.BootImage = v
		}
	}
	if cfg.SystemImage == "" {
		if v, err := p.Get("emulator", "sys"); err == nil {
			cfg.SystemImage = v
		}
	}
	if cfg.SSHPort == 0 {
		if v, err := p.GetInt("emulator", "port"); err == nil {
			cfg.SSHPort = v
		}
	}
	if cfg.HostKeyPath == "" {
		if v, err := p.Get("emulator", "key"); err == nil {
			cfg.HostKeyPath = v
		}
	}
	if cfg.AuthorizedKeys == "" {
		if v, err := p.Get("emulator", "authorized-keys"); err == nil {
			cfg.AuthorizedKeys = v
		}
	}
	if cfg.HTTPPort == 0 {
		if v, err := p.GetInt("emulator", "http"); err == nil {
			cfg.HTTPPort = v
		}
	}
	if cfg.AccessLogPath == "" {
		if v, err := p.Get("emulator", "log"); err == nil {
			cfg.AccessLogPath = v
		}
	}
	if cfg.TimeoutSeconds == 0 {
		if v, err := p.GetInt("emulator", "timeout"); err == nil {
			cfg.TimeoutSeconds = v
		}
	}
	if len(cfg.Disks) == 0 {
		if v, err := p.Get("emulator", "disk"); err == nil && v != "" {
			for _, spec := range strings.Split(v, ",") {
				d, err := ParseDiskSpec(strings.TrimSpace(spec))
				if err != nil {
					return err
				}
				cfg.Disks = append(cfg.Disks, d)
			}
		}
	}
	return nil
}
