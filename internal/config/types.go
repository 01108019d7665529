// Package config loads chronoflow's runtime configuration from an optional
// JSON/YAML file with environment variable overrides applied on top, per the
// environment-variable surface the core treats as an opaque input struct.
package config

import "time"

// Config is the fully-resolved runtime configuration. The scheduler core,
// reconciler, executor, and observers all accept a Config (or a narrower
// slice of it); nothing in this package is imported by them beyond this
// struct.
type Config struct {
	JobsDir string `json:"jobs_dir"`
	LogDir  string `json:"log_dir"`

	Logging LoggingConfig `json:"logging"`

	MaxConcurrentJobs int `json:"max_concurrent_jobs"`

	// JobTimeout bounds a single execution attempt. Zero disables the
	// per-execution deadline.
	JobTimeout time.Duration `json:"job_timeout"`

	MaxRetries int `json:"max_retries"`

	// RetryDelay is retry_delay_base_seconds from the backoff formula
	// retry_delay_base_seconds * 2^k.
	RetryDelay time.Duration `json:"retry_delay"`

	// SchedulerCheckInterval is the dispatch loop tick period.
	SchedulerCheckInterval time.Duration `json:"scheduler_check_interval"`

	// WatcherPollInterval is the directory reconciler poll period.
	WatcherPollInterval time.Duration `json:"watcher_poll_interval"`

	Metrics MetricsConfig `json:"metrics"`
	Storage StorageConfig `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MetricsConfig controls the optional Prometheus observer. Disabled by
// default; the scheduler core never depends on it.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// StorageConfig controls the optional relational persistence observer.
// Driver "none" (the default) disables it entirely.
type StorageConfig struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"busy_timeout"`
}

// Defaults mirrors the defaults documented for the environment-variable
// surface: JOBS_DIR, LOG_DIR, MAX_CONCURRENT_JOBS, JOB_TIMEOUT, MAX_RETRIES,
// RETRY_DELAY, SCHEDULER_CHECK_INTERVAL, WATCHER_POLL_INTERVAL.
func Defaults() Config {
	return Config{
		JobsDir: "/etc/chronoflow/jobs.d",
		LogDir:  "/var/log/chronoflow",
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
		MaxConcurrentJobs:      5,
		JobTimeout:             1 * time.Hour,
		MaxRetries:             3,
		RetryDelay:             1 * time.Second,
		SchedulerCheckInterval: 1 * time.Second,
		WatcherPollInterval:    2 * time.Second,
		Storage: StorageConfig{
			Driver: "none",
		},
	}
}
