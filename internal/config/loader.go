package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load builds a Config starting from Defaults(), overlaying an optional
// JSON/YAML file at path (format chosen by extension, YAML coerced to JSON
// internally), then applying environment variable overrides on top. An empty
// path skips the file layer entirely.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		jb, _, err := coerceToJSONBytes(path, b)
		if err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}

		dec := json.NewDecoder(bytes.NewReader(jb))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			if err == nil {
				return Config{}, fmt.Errorf("invalid config file: trailing data")
			}
			return Config{}, err
		}
	}

	applyEnv(&cfg, os.Environ())
	return cfg, nil
}

// applyEnv overlays the documented environment variables onto cfg. Malformed
// values are ignored so a bad override can't crash startup; the caller is
// expected to validate the effective config independently if it matters.
func applyEnv(cfg *Config, environ []string) {
	env := map[string]string{}
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	if v, ok := env["JOBS_DIR"]; ok && strings.TrimSpace(v) != "" {
		cfg.JobsDir = v
	}
	if v, ok := env["LOG_LEVEL"]; ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = v
	}
	if v, ok := env["LOG_DIR"]; ok && strings.TrimSpace(v) != "" {
		cfg.LogDir = v
	}
	if v, ok := env["MAX_CONCURRENT_JOBS"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}
	if v, ok := env["JOB_TIMEOUT"]; ok {
		if d, err := parseSecondsOrDuration(v); err == nil {
			cfg.JobTimeout = d
		}
	}
	if v, ok := env["MAX_RETRIES"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v, ok := env["RETRY_DELAY"]; ok {
		if d, err := parseSecondsOrDuration(v); err == nil {
			cfg.RetryDelay = d
		}
	}
	if v, ok := env["SCHEDULER_CHECK_INTERVAL"]; ok {
		if d, err := parseSecondsOrDuration(v); err == nil && d > 0 {
			cfg.SchedulerCheckInterval = d
		}
	}
	if v, ok := env["WATCHER_POLL_INTERVAL"]; ok {
		if d, err := parseSecondsOrDuration(v); err == nil && d > 0 {
			cfg.WatcherPollInterval = d
		}
	}
	if v, ok := env["METRICS_ADDR"]; ok && strings.TrimSpace(v) != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v, ok := env["METRICS_ENABLED"]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v, ok := env["STORAGE_DRIVER"]; ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Driver = v
	}
	if v, ok := env["STORAGE_PATH"]; ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Path = v
	}
}

// parseSecondsOrDuration accepts either a bare integer (interpreted as
// seconds, matching the Python original's env parsing) or a Go duration
// string like "500ms"/"1m".
func parseSecondsOrDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return ParseDurationField("env", s)
}
