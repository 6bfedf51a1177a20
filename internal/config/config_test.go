package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/source-monitor/internal/sla"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, BlobMemory, cfg.Storage.Blob)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, []time.Duration{
		time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour,
	}, cfg.RetrySchedule())
	require.Equal(t, 24, cfg.SLA.DueHoursHigh)
	require.Equal(t, 12, cfg.SLA.DueSoonThresholdHours)
	require.Equal(t, 20*time.Second, cfg.FetchTimeout())
	require.Equal(t, 5*time.Second, cfg.PollInterval())
	require.Equal(t, 15*time.Minute, cfg.RunLease())
	require.Equal(t, 100, cfg.Scheduler.EnqueueBatchSize)
	require.Empty(t, cfg.Telemetry.ProjectID)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scheduler:
  poll_interval_seconds: 30
  batch_size: 50
  concurrency: 8
  run_lease_seconds: 600
  enqueue_batch_size: 25
fetch:
  user_agent: acme-monitor/2.0
  timeout_seconds: 45
  max_bytes: 1048576
adapters:
  github:
    token: ghp_test
retry:
  max_attempts: 3
  backoff_seconds: [10, 20]
sla:
  due_hours_high: 8
  orgs:
    acme:
      due_hours_high: 2
      overdue_remind_every_hours: 6
storage:
  backend: postgres
  blob: gcs
  gcs_bucket: raw-bucket
  prefix: snapshots
db:
  dsn: postgres://localhost/monitor
  max_conn_lifetime_seconds: 60
pubsub:
  project_id: proj
  topic_name: findings
logging:
  development: false
  level: warn
ratelimit:
  default_rps: 2
  hosts:
    - host: API.github.com
      rps: 0.5
telemetry:
  tracing_enabled: true
  project_id: trace-proj
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 30*time.Second, cfg.PollInterval())
	require.Equal(t, 50, cfg.Scheduler.BatchSize)
	require.Equal(t, 10*time.Minute, cfg.RunLease())
	require.Equal(t, 25, cfg.Scheduler.EnqueueBatchSize)
	require.Equal(t, 45*time.Second, cfg.FetchTimeout())
	require.EqualValues(t, 1048576, cfg.Fetch.MaxBytes)
	require.Equal(t, "ghp_test", cfg.Adapters.GitHub.Token)
	require.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, cfg.RetrySchedule())
	require.Equal(t, time.Minute, cfg.ConnLifetime())
	require.Equal(t, BackendPostgres, cfg.Storage.Backend)
	require.Equal(t, "raw-bucket", cfg.Storage.GCSBucket)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.InDelta(t, 0.5, cfg.HostRates()["api.github.com"], 1e-9)
	require.True(t, cfg.Telemetry.TracingEnabled)
	require.Equal(t, "trace-proj", cfg.Telemetry.ProjectID)

	slaCfg := cfg.SLASettings()
	require.Equal(t, 8, slaCfg.Default.DueHoursHigh)
	require.Equal(t, 72, slaCfg.Default.DueHoursMedium)
	require.Equal(t, 2, slaCfg.Orgs["acme"].DueHoursHigh)
	require.Equal(t, 6, slaCfg.Orgs["acme"].OverdueRemindEveryHours)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid poll interval", mutate: func(c *Config) { c.Scheduler.PollIntervalSeconds = 0 }, want: "scheduler.poll_interval_seconds"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Scheduler.Concurrency = 0 }, want: "scheduler.concurrency"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, want: "fetch.timeout_seconds"},
		{name: "lease shorter than fetch", mutate: func(c *Config) { c.Scheduler.RunLeaseSeconds = c.Fetch.TimeoutSeconds }, want: "scheduler.run_lease_seconds"},
		{name: "invalid enqueue batch", mutate: func(c *Config) { c.Scheduler.EnqueueBatchSize = 0 }, want: "scheduler.enqueue_batch_size"},
		{name: "negative backoff", mutate: func(c *Config) { c.Retry.BackoffSeconds = []int{-1} }, want: "retry.backoff_seconds"},
		{name: "negative sla override", mutate: func(c *Config) {
			c.SLA.Orgs = map[string]sla.Policy{"acme": {DueHoursLow: -1}}
		}, want: "sla.orgs.acme.due_hours_low"},
		{name: "host rate without host", mutate: func(c *Config) {
			c.RateLimit.Hosts = []HostRate{{RPS: 1}}
		}, want: "ratelimit.hosts"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "db.dsn"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "sqlite" }, want: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Blob = BlobGCS }, want: "storage.gcs_bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Blob = BlobLocal }, want: "storage.local_dir"},
		{name: "sample ratio above one", mutate: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, want: "telemetry.sample_ratio"},
		{name: "pubsub without topic", mutate: func(c *Config) {
			c.PubSub.ProjectID = "proj"
			c.PubSub.TopicName = ""
		}, want: "pubsub.topic_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.ErrorContains(t, err, tt.want)
		})
	}
}
