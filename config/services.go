package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ServiceMode names a long-running component that SERVICES can enable.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP front end.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeRefresher runs the periodic session refresh loop.
	ServiceModeRefresher ServiceMode = "refresher"
)

var serviceModes = []ServiceMode{ServiceModeHTTP, ServiceModeRefresher}

// ValidServiceModes returns every known mode in start order.
func ValidServiceModes() []ServiceMode {
	return slices.Clone(serviceModes)
}

// Valid reports whether m is a known mode.
func (m ServiceMode) Valid() bool {
	return slices.Contains(serviceModes, m)
}

// ParseServices parses a comma-separated SERVICES value. Blank entries are
// ignored; at least one known mode is required and unknown names are rejected.
func ParseServices(raw string) (map[ServiceMode]bool, error) {
	enabled := make(map[ServiceMode]bool, len(serviceModes))
	for part := range strings.SplitSeq(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		if !mode.Valid() {
			return nil, fmt.Errorf("invalid service name %q (valid options: %s)", name, joinModes(serviceModes))
		}
		enabled[mode] = true
	}
	if len(enabled) == 0 {
		return nil, errors.New("at least one service must be specified")
	}
	return enabled, nil
}

func joinModes(modes []ServiceMode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
