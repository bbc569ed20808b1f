package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ServerConfig is the dgxd configuration: the three TCP listeners, the
// capture defaults applied to new sessions, and the staging roots used
// by the file bridge.
type ServerConfig struct {
	ListenHost       string `mapstructure:"listen_host"`
	DiscoveryPort    int    `mapstructure:"discovery_port"`
	PortRangeStart   int    `mapstructure:"port_range_start"`
	PortRangeEnd     int    `mapstructure:"port_range_end"`
	DefaultFPS       int    `mapstructure:"default_fps"`
	DefaultQuality   int    `mapstructure:"default_quality"`
	StagingRoot      string `mapstructure:"staging_root"`
	LegacyTransferRoot string `mapstructure:"legacy_transfer_root"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// DefaultServerConfig returns the defaults spec.md names: discovery on
// 22000, the negotiated triplet drawn from 22010-22059, 60fps/85 quality
// capture.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenHost:         "0.0.0.0",
		DiscoveryPort:      22000,
		PortRangeStart:     22010,
		PortRangeEnd:       22059,
		DefaultFPS:         60,
		DefaultQuality:     85,
		StagingRoot:        "~/BridgeStaging",
		LegacyTransferRoot: "~/Desktop/PC-Transfer",
		LogLevel:           "info",
		LogFormat:          "text",
		LogMaxSizeMB:       50,
		LogMaxBackups:      3,
	}
}

// LoadServerConfig reads /etc/dgx-bridge/server.yaml (or cfgFile, if set),
// overlaid with DGXBRIDGE_ environment variables, and validates it.
func LoadServerConfig(cfgFile string) (*ServerConfig, error) {
	v := viper.New()
	cfg := DefaultServerConfig()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dgx-bridge")
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

	cfg.StagingRoot = expandHome(cfg.StagingRoot)
	cfg.LegacyTransferRoot = expandHome(cfg.LegacyTransferRoot)

	result := cfg.ValidateTiered()
	logResult(result)
	if result.HasFatals() {
		return nil, fmt.Errorf("server config has fatal validation errors: %v", result.Fatals[0])
	}
	return cfg, nil
}

// ValidateTiered checks the discovery/port-range invariants spec.md §4.1
// relies on and clamps capture parameters to the ranges spec.md §4.5
// states (fps [1,120], quality [40,100]).
func (c *ServerConfig) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		r.fatal("discovery_port %d is not a valid TCP port", c.DiscoveryPort)
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd <= 0 || c.PortRangeStart > c.PortRangeEnd {
		r.fatal("port_range_start/port_range_end (%d-%d) is not a valid ascending range", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.PortRangeEnd-c.PortRangeStart+1 < 3 {
		r.fatal("port range %d-%d must contain at least 3 ports for the rpc/video/input triplet", c.PortRangeStart, c.PortRangeEnd)
	}

	c.DefaultFPS = clampInt(&r, "default_fps", c.DefaultFPS, 1, 120)
	c.DefaultQuality = clampInt(&r, "default_quality", c.DefaultQuality, 40, 100)

	if c.StagingRoot == "" {
		r.fatal("staging_root must not be empty")
	}

	checkLogFields(&r, c.LogLevel, c.LogFormat)
	if c.LogMaxSizeMB <= 0 {
		r.warn("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB)
		c.LogMaxSizeMB = 50
	}
	if c.LogMaxBackups < 0 {
		r.warn("log_max_backups %d is negative, clamping to 0", c.LogMaxBackups)
		c.LogMaxBackups = 0
	}

	return r
}
