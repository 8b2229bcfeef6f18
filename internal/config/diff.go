package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatcherChanged is true when any matcher setting changed. The pipeline
	// must be rebuilt.
	MatcherChanged bool

	// TablesChanged is true when the list of table files changed.
	TablesChanged bool

	// RateLimitChanged is true when server.requests_per_minute changed.
	RateLimitChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart, by their YAML path.
	RestartRequired []string
}

// HotReloadable reports whether every change in d can be applied without a
// restart.
func (d ConfigDiff) HotReloadable() bool {
	return len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.MatcherChanged = !matcherEqual(old.Matcher, new.Matcher)
	d.TablesChanged = !slices.Equal(old.Tables.Files, new.Tables.Files)
	d.RateLimitChanged = old.Server.RequestsPerMinute != new.Server.RequestsPerMinute

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.ShutdownTimeout != new.Server.ShutdownTimeout {
		d.RestartRequired = append(d.RestartRequired, "server.shutdown_timeout")
	}
	if !slices.Equal(old.Server.TrustedProxies, new.Server.TrustedProxies) {
		d.RestartRequired = append(d.RestartRequired, "server.trusted_proxies")
	}
	if old.Tables.PostgresDSN != new.Tables.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "tables.postgres_dsn")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func matcherEqual(a, b MatcherConfig) bool {
	return a.ThresholdValue() == b.ThresholdValue() &&
		slices.Equal(a.StopWords, b.StopWords) &&
		a.DisableStopWords == b.DisableStopWords &&
		a.Phonetic == b.Phonetic &&
		a.CacheSize == b.CacheSize
}

// Effective returns the config that is actually in force after next is
// applied on top of running. Settings that need a restart keep their running
// values. When nothing of that kind changed, next is returned as is.
func Effective(running, next *Config) *Config {
	if Diff(running, next).HotReloadable() {
		return next
	}
	out := *next
	out.Server.ListenAddr = running.Server.ListenAddr
	out.Server.ShutdownTimeout = running.Server.ShutdownTimeout
	out.Server.TrustedProxies = running.Server.TrustedProxies
	out.Tables.PostgresDSN = running.Tables.PostgresDSN
	out.Telemetry = running.Telemetry
	return &out
}
