package config

import "testing"

func TestServerValidateTieredRejectsBadPortRange(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.PortRangeStart = 22010
	cfg.PortRangeEnd = 22009

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected descending port range to be fatal")
	}
}

func TestServerValidateTieredRejectsTooSmallRange(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.PortRangeStart = 22010
	cfg.PortRangeEnd = 22011

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected a range smaller than 3 ports to be fatal")
	}
}

func TestServerValidateTieredClampsFPSAndQuality(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.DefaultFPS = 500
	cfg.DefaultQuality = 10

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamping should be a warning, not fatal: %v", result.Fatals)
	}
	if cfg.DefaultFPS != 120 {
		t.Fatalf("expected fps clamped to 120, got %d", cfg.DefaultFPS)
	}
	if cfg.DefaultQuality != 40 {
		t.Fatalf("expected quality clamped to 40, got %d", cfg.DefaultQuality)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(result.Warnings), result.Warnings)
	}
}

func TestServerValidateTieredEmptyStagingRootIsFatal(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.StagingRoot = ""

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected empty staging_root to be fatal")
	}
}

func TestServerValidateTieredDefaultsAreValid(t *testing.T) {
	cfg := DefaultServerConfig()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("defaults should validate clean, got fatals: %v", result.Fatals)
	}
}
