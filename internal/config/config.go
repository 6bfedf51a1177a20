// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/source-monitor/internal/sla"
)

// Storage and blob backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BlobMemory      = "memory"
	BlobGCS         = "gcs"
	BlobLocal       = "local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Diff      DiffConfig      `mapstructure:"diff"`
	Retry     RetryConfig     `mapstructure:"retry"`
	SLA       SLAConfig       `mapstructure:"sla"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs the tick loop and run fan-out.
type SchedulerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	BatchSize           int `mapstructure:"batch_size"`
	Concurrency         int `mapstructure:"concurrency"`
	// RunLeaseSeconds is how long a claimed run may stay running before
	// another tick reclaims it.
	RunLeaseSeconds  int  `mapstructure:"run_lease_seconds"`
	EnqueueBatchSize int  `mapstructure:"enqueue_batch_size"`
	SLAEnabled       bool `mapstructure:"sla_enabled"`
}

// FetchConfig bounds every outbound fetch.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBytes       int64  `mapstructure:"max_bytes"`
}

// AdaptersConfig holds per-adapter knobs.
type AdaptersConfig struct {
	PDF    PDFConfig    `mapstructure:"pdf"`
	GitHub GitHubConfig `mapstructure:"github"`
}

// PDFConfig bounds PDF text extraction.
type PDFConfig struct {
	MaxPages int `mapstructure:"max_pages"`
	MaxChars int `mapstructure:"max_chars"`
}

// GitHubConfig configures the releases adapter.
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	PerPage int    `mapstructure:"per_page"`
}

// NormalizeConfig controls snapshot previews.
type NormalizeConfig struct {
	PreviewChars int `mapstructure:"preview_chars"`
}

// DiffConfig controls finding explanations.
type DiffConfig struct {
	ContextLines    int `mapstructure:"context_lines"`
	MaxPreviewLines int `mapstructure:"max_preview_lines"`
	MaxCitations    int `mapstructure:"max_citations"`
	MaxQuoteChars   int `mapstructure:"max_quote_chars"`
}

// RetryConfig controls the attempt policy.
type RetryConfig struct {
	MaxAttempts    int   `mapstructure:"max_attempts"`
	BackoffSeconds []int `mapstructure:"backoff_seconds"`
}

// SLAConfig holds the default SLA policy and per-org overrides.
type SLAConfig struct {
	sla.Policy `mapstructure:",squash"`
	Orgs       map[string]sla.Policy `mapstructure:"orgs"`
}

// StorageConfig selects the record and blob backends.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Blob      string `mapstructure:"blob"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for finding events. An empty ProjectID keeps
// events in process.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RateLimitConfig paces fetches per host.
type RateLimitConfig struct {
	DefaultRPS   float64    `mapstructure:"default_rps"`
	DefaultBurst int        `mapstructure:"default_burst"`
	Hosts        []HostRate `mapstructure:"hosts"`
}

// HostRate overrides the default rate for one host. Hosts are a list rather
// than a map because Viper splits map keys on dots.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	// ProjectID selects the Cloud Trace project spans are exported to.
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("scheduler.poll_interval_seconds", 5)
	v.SetDefault("scheduler.batch_size", 20)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.run_lease_seconds", 900)
	v.SetDefault("scheduler.enqueue_batch_size", 100)
	v.SetDefault("scheduler.sla_enabled", true)
	v.SetDefault("fetch.user_agent", "source-monitor/1.0")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_bytes", 10<<20)
	v.SetDefault("adapters.pdf.max_pages", 50)
	v.SetDefault("adapters.pdf.max_chars", 200_000)
	v.SetDefault("adapters.github.token", "")
	v.SetDefault("adapters.github.per_page", 10)
	v.SetDefault("normalize.preview_chars", 500)
	v.SetDefault("diff.context_lines", 2)
	v.SetDefault("diff.max_preview_lines", 120)
	v.SetDefault("diff.max_citations", 3)
	v.SetDefault("diff.max_quote_chars", 200)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.backoff_seconds", []int{60, 300, 900, 3600, 21600})
	v.SetDefault("sla.due_hours_high", sla.DefaultPolicy.DueHoursHigh)
	v.SetDefault("sla.due_hours_medium", sla.DefaultPolicy.DueHoursMedium)
	v.SetDefault("sla.due_hours_low", sla.DefaultPolicy.DueHoursLow)
	v.SetDefault("sla.due_soon_threshold_hours", sla.DefaultPolicy.DueSoonThresholdHours)
	v.SetDefault("sla.overdue_remind_every_hours", sla.DefaultPolicy.OverdueRemindEveryHours)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.blob", BlobMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "monitor-findings")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 1)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.poll_interval_seconds must be > 0")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.EnqueueBatchSize <= 0 {
		return fmt.Errorf("scheduler.enqueue_batch_size must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Scheduler.RunLeaseSeconds <= c.Fetch.TimeoutSeconds {
		return fmt.Errorf("scheduler.run_lease_seconds must exceed fetch.timeout_seconds")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.max_bytes must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	for _, s := range c.Retry.BackoffSeconds {
		if s <= 0 {
			return fmt.Errorf("retry.backoff_seconds entries must be > 0")
		}
	}
	if err := validatePolicy("sla", c.SLA.Policy); err != nil {
		return err
	}
	for org, p := range c.SLA.Orgs {
		if err := validatePolicy("sla.orgs."+org, p); err != nil {
			return err
		}
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendMemory, BackendPostgres)
	}
	switch c.Storage.Blob {
	case BlobMemory:
	case BlobGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blob is gcs")
		}
	case BlobLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.blob is local")
		}
	default:
		return fmt.Errorf("storage.blob must be %q, %q or %q", BlobMemory, BlobGCS, BlobLocal)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.RateLimit.DefaultRPS < 0 {
		return fmt.Errorf("ratelimit.default_rps must be >= 0")
	}
	for _, h := range c.RateLimit.Hosts {
		if h.Host == "" || h.RPS < 0 {
			return fmt.Errorf("ratelimit.hosts entries need a host and rps >= 0")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// validatePolicy rejects negative hours. Zero means inherit.
func validatePolicy(prefix string, p sla.Policy) error {
	fields := map[string]int{
		"due_hours_high":             p.DueHoursHigh,
		"due_hours_medium":           p.DueHoursMedium,
		"due_hours_low":              p.DueHoursLow,
		"due_soon_threshold_hours":   p.DueSoonThresholdHours,
		"overdue_remind_every_hours": p.OverdueRemindEveryHours,
	}
	for name, v := range fields {
		if v < 0 {
			return fmt.Errorf("%s.%s must be >= 0", prefix, name)
		}
	}
	return nil
}

// RunLease returns how long a claimed run is held.
func (c Config) RunLease() time.Duration {
	return time.Duration(c.Scheduler.RunLeaseSeconds) * time.Second
}

// PollInterval returns the scheduler tick interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// FetchTimeout returns the per-fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RetrySchedule converts the configured backoff table to durations.
func (c Config) RetrySchedule() []time.Duration {
	out := make([]time.Duration, 0, len(c.Retry.BackoffSeconds))
	for _, s := range c.Retry.BackoffSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// ConnLifetime returns the Postgres connection max lifetime.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}

// HostRates returns the per-host overrides keyed by lowercased host.
func (c Config) HostRates() map[string]float64 {
	out := make(map[string]float64, len(c.RateLimit.Hosts))
	for _, h := range c.RateLimit.Hosts {
		out[strings.ToLower(h.Host)] = h.RPS
	}
	return out
}

// SLASettings returns the processor configuration.
func (c Config) SLASettings() sla.Config {
	return sla.Config{Default: c.SLA.Policy, Orgs: c.SLA.Orgs}
}
