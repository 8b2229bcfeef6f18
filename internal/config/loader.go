package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Relative table file paths are resolved against the directory of
// path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	return parseFile(path, data)
}

// parseFile decodes data read from path, resolves table paths and validates.
func parseFile(path string, data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ResolvePaths(cfg, filepath.Dir(path))
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Matcher.Threshold == nil {
		t := DefaultThreshold
		cfg.Matcher.Threshold = &t
	}
	if cfg.Matcher.CacheSize == 0 {
		cfg.Matcher.CacheSize = DefaultCacheSize
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// ResolvePaths makes every relative table file path in cfg relative to
// baseDir.
func ResolvePaths(cfg *Config, baseDir string) {
	for i, p := range cfg.Tables.Files {
		if p != "" && !filepath.IsAbs(p) {
			cfg.Tables.Files[i] = filepath.Join(baseDir, p)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.requests_per_minute %d must not be negative", cfg.Server.RequestsPerMinute))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if _, err := cfg.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}

	// Matcher
	if th := cfg.Matcher.ThresholdValue(); th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("matcher.threshold %.3f is out of range [0, 1]", th))
	}
	if cfg.Matcher.DisableStopWords && len(cfg.Matcher.StopWords) > 0 {
		slog.Warn("config: matcher.stop_words is ignored because matcher.disable_stop_words is set")
	}

	// Tables
	if len(cfg.Tables.Files) == 0 && cfg.Tables.PostgresDSN == "" {
		errs = append(errs, errors.New("tables: at least one of tables.files or tables.postgres_dsn is required"))
	}
	seen := make(map[string]int, len(cfg.Tables.Files))
	for i, p := range cfg.Tables.Files {
		if p == "" {
			errs = append(errs, fmt.Errorf("tables.files[%d] is empty", i))
			continue
		}
		if prev, dup := seen[p]; dup {
			errs = append(errs, fmt.Errorf("tables.files[%d] %q is a duplicate of tables.files[%d]", i, p, prev))
		}
		seen[p] = i
	}

	return errors.Join(errs...)
}
