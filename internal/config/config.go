// Package config loads and validates the server (dgxd) and client
// (dgx-client) configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
)

var log = logging.L("config")

// ValidationResult separates config problems that must block startup
// (Fatals) from ones that are clamped to a safe value and merely logged
// (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// logResult logs a ValidationResult the way the server/client Load()
// functions do before deciding whether to abort startup.
func logResult(result ValidationResult) {
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	for _, err := range result.Fatals {
		log.Error("config validation fatal", "error", err)
	}
}

// expandHome replaces a leading "~" with the current user's home directory.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func clampInt(v *ValidationResult, field string, value, min, max int) int {
	if value < min {
		v.warn("%s %d is below minimum %d, clamping", field, value, min)
		return min
	}
	if value > max {
		v.warn("%s %d exceeds maximum %d, clamping", field, value, max)
		return max
	}
	return value
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func checkLogFields(v *ValidationResult, level, format string) {
	if level != "" && !validLogLevels[level] {
		v.warn("log_level %q is not valid (use debug, info, warn, error), defaulting to info", level)
	}
	if format != "" && format != "text" && format != "json" {
		v.warn("log_format %q is not valid (use text or json), defaulting to text", format)
	}
}
