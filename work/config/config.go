package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all runtime settings for the local streaming proxy. Every value
// has a compiled-in default matching the behavior the player layer expects, so
// running without a config file is fully supported.
type Config struct {
	PortRangeStart  int           `json:"portRangeStart"`  // First candidate port for the stream listener
	PortRangeEnd    int           `json:"portRangeEnd"`    // Last candidate port (inclusive)
	RedirectTTL     time.Duration `json:"redirectTTL"`     // How long a cached redirect target stays valid
	ConnectTimeout  time.Duration `json:"connectTimeout"`  // Upstream TCP/TLS connect timeout
	UserAgent       string        `json:"userAgent"`       // User-Agent sent on every upstream request
	Debug           bool          `json:"debug"`           // Enable debug logging
	ObfuscateUrls   bool          `json:"obfuscateUrls"`   // Obfuscate provider URLs in logs
	DiagnosticsAddr string        `json:"diagnosticsAddr"` // Listen address for /status and /metrics ("" disables)
	DialsPerSecond  int           `json:"dialsPerSecond"`  // Per-host upstream dial rate limit
}

// ConfigFile is the on-disk JSON shape. Duration fields are strings
// (e.g. "2s", "30s") and parsed into time.Duration values.
type ConfigFile struct {
	PortRangeStart  int    `json:"portRangeStart"`
	PortRangeEnd    int    `json:"portRangeEnd"`
	RedirectTTL     string `json:"redirectTTL"`
	ConnectTimeout  string `json:"connectTimeout"`
	UserAgent       string `json:"userAgent"`
	Debug           bool   `json:"debug"`
	ObfuscateUrls   bool   `json:"obfuscateUrls"`
	DiagnosticsAddr string `json:"diagnosticsAddr"`
	DialsPerSecond  int    `json:"dialsPerSecond"`
}

// Default returns the baseline configuration used when no config file exists.
// These values mirror what the playback controller assumes: the listener binds
// the first free port in [9080, 9089], redirect targets stay cached for two
// seconds, and upstream connects give up after thirty.
func Default() *Config {
	return &Config{
		PortRangeStart:  9080,
		PortRangeEnd:    9089,
		RedirectTTL:     2 * time.Second,
		ConnectTimeout:  30 * time.Second,
		UserAgent:       "VLC/3.0.18 LibVLC/3.0.18",
		Debug:           false,
		ObfuscateUrls:   false,
		DiagnosticsAddr: "127.0.0.1:9079",
		DialsPerSecond:  20,
	}
}

// Load reads the configuration from path, falling back to Default when the
// file is missing or unreadable. An empty path skips the file entirely.
func Load(path string) *Config {
	if path == "" {
		return Default()
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		// a broken config file should not keep playback from working
		cfg = Default()
	}

	validateAndSetDefaults(cfg)
	return cfg
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		PortRangeStart:  cf.PortRangeStart,
		PortRangeEnd:    cf.PortRangeEnd,
		UserAgent:       cf.UserAgent,
		Debug:           cf.Debug,
		ObfuscateUrls:   cf.ObfuscateUrls,
		DiagnosticsAddr: cf.DiagnosticsAddr,
		DialsPerSecond:  cf.DialsPerSecond,
	}

	var err error
	if cf.RedirectTTL != "" {
		if cfg.RedirectTTL, err = time.ParseDuration(cf.RedirectTTL); err != nil {
			return nil, fmt.Errorf("invalid redirectTTL: %w", err)
		}
	}
	if cf.ConnectTimeout != "" {
		if cfg.ConnectTimeout, err = time.ParseDuration(cf.ConnectTimeout); err != nil {
			return nil, fmt.Errorf("invalid connectTimeout: %w", err)
		}
	}

	return cfg, nil
}

// validateAndSetDefaults fills in defaults for missing or invalid values so a
// partial config file never produces an unusable proxy.
func validateAndSetDefaults(cfg *Config) {
	def := Default()

	if cfg.PortRangeStart <= 0 || cfg.PortRangeStart > 65535 {
		cfg.PortRangeStart = def.PortRangeStart
	}
	if cfg.PortRangeEnd < cfg.PortRangeStart || cfg.PortRangeEnd > 65535 {
		cfg.PortRangeEnd = cfg.PortRangeStart + (def.PortRangeEnd - def.PortRangeStart)
	}
	if cfg.RedirectTTL <= 0 {
		cfg.RedirectTTL = def.RedirectTTL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.DialsPerSecond <= 0 {
		cfg.DialsPerSecond = def.DialsPerSecond
	}
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		PortRangeStart:  9080,
		PortRangeEnd:    9089,
		RedirectTTL:     "2s",
		ConnectTimeout:  "30s",
		UserAgent:       "VLC/3.0.18 LibVLC/3.0.18",
		Debug:           false,
		ObfuscateUrls:   true,
		DiagnosticsAddr: "127.0.0.1:9079",
		DialsPerSecond:  20,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
