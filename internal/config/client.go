package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ClientConfig is the dgx-client configuration: which server to dial,
// reconnect pacing, and the port-triplet cache path used to skip a
// discovery round-trip on reconnect per spec.md §4.1.
type ClientConfig struct {
	ServerHost             string `mapstructure:"server_host"`
	DiscoveryPort          int    `mapstructure:"discovery_port"`
	ConnectTimeoutSeconds  int    `mapstructure:"connect_timeout_seconds"`
	PingIntervalSeconds    int    `mapstructure:"ping_interval_seconds"`
	ReconnectBaseSeconds   int    `mapstructure:"reconnect_base_seconds"`
	ReconnectMaxSeconds    int    `mapstructure:"reconnect_max_seconds"`
	DesiredFPS             int    `mapstructure:"desired_fps"`
	DesiredQuality         int    `mapstructure:"desired_quality"`
	MouseFlushHz           int    `mapstructure:"mouse_flush_hz"`
	PortCacheFile          string `mapstructure:"port_cache_file"`
	StagingDir             string `mapstructure:"staging_dir"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// DefaultClientConfig mirrors the PC application's defaults: 2s ping
// interval, backoff starting at 1s doubling to a 60s ceiling per
// spec.md §4.1, 500Hz mouse-motion flush per spec.md §4.7.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DiscoveryPort:         22000,
		ConnectTimeoutSeconds: 8,
		PingIntervalSeconds:   2,
		ReconnectBaseSeconds:  1,
		ReconnectMaxSeconds:   60,
		DesiredFPS:            60,
		DesiredQuality:        85,
		MouseFlushHz:          500,
		PortCacheFile:         "~/.config/dgx-bridge/last-ports.yaml",
		StagingDir:            "~/.local/share/dgx-bridge/staging",
		LogLevel:              "info",
		LogFormat:             "text",
		LogMaxSizeMB:          50,
		LogMaxBackups:         3,
	}
}

// LoadClientConfig reads ~/.config/dgx-bridge/client.yaml (or cfgFile),
// overlaid with DGXBRIDGE_ environment variables, and validates it.
func LoadClientConfig(cfgFile string) (*ClientConfig, error) {
	v := viper.New()
	cfg := DefaultClientConfig()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("client")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/dgx-bridge")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DGXBRIDGE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.PortCacheFile = expandHome(cfg.PortCacheFile)
	cfg.StagingDir = expandHome(cfg.StagingDir)

	result := cfg.ValidateTiered()
	logResult(result)
	if result.HasFatals() {
		return nil, fmt.Errorf("client config has fatal validation errors: %v", result.Fatals[0])
	}
	return cfg, nil
}

// ValidateTiered clamps capture/reconnect parameters to the ranges
// spec.md states and fatals on a config that could never connect.
func (c *ClientConfig) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		r.fatal("discovery_port %d is not a valid TCP port", c.DiscoveryPort)
	}
	if c.ConnectTimeoutSeconds <= 0 {
		r.warn("connect_timeout_seconds %d is below minimum 1, clamping", c.ConnectTimeoutSeconds)
		c.ConnectTimeoutSeconds = 8
	}

	c.DesiredFPS = clampInt(&r, "desired_fps", c.DesiredFPS, 1, 120)
	c.DesiredQuality = clampInt(&r, "desired_quality", c.DesiredQuality, 40, 100)
	c.ReconnectBaseSeconds = clampInt(&r, "reconnect_base_seconds", c.ReconnectBaseSeconds, 1, 60)
	c.ReconnectMaxSeconds = clampInt(&r, "reconnect_max_seconds", c.ReconnectMaxSeconds, c.ReconnectBaseSeconds, 300)
	c.MouseFlushHz = clampInt(&r, "mouse_flush_hz", c.MouseFlushHz, 1, 500)

	if c.PortCacheFile == "" {
		r.fatal("port_cache_file must not be empty")
	}

	checkLogFields(&r, c.LogLevel, c.LogFormat)
	if c.LogMaxSizeMB <= 0 {
		r.warn("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB)
		c.LogMaxSizeMB = 50
	}

	return r
}
