package config

import "testing"

func TestClientValidateTieredClampsReconnectBounds(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.ReconnectBaseSeconds = 0
	cfg.ReconnectMaxSeconds = 5000

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamping should be a warning, not fatal: %v", result.Fatals)
	}
	if cfg.ReconnectBaseSeconds != 1 {
		t.Fatalf("expected base clamped to 1, got %d", cfg.ReconnectBaseSeconds)
	}
	if cfg.ReconnectMaxSeconds != 300 {
		t.Fatalf("expected max clamped to 300, got %d", cfg.ReconnectMaxSeconds)
	}
}

func TestClientValidateTieredRejectsBadDiscoveryPort(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.DiscoveryPort = 70000

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected out-of-range discovery_port to be fatal")
	}
}

func TestClientValidateTieredEmptyPortCacheIsFatal(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.PortCacheFile = ""

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected empty port_cache_file to be fatal")
	}
}

func TestClientValidateTieredClampsMouseFlushHz(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.MouseFlushHz = 10000

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamping should be a warning, not fatal: %v", result.Fatals)
	}
	if cfg.MouseFlushHz != 500 {
		t.Fatalf("expected mouse_flush_hz clamped to 500, got %d", cfg.MouseFlushHz)
	}
}
