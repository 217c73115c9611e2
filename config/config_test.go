package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - worker",
			input:    "worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:  "all services with spaces and case",
			input: " http , Worker , sweeper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorker:  true,
				ServiceModeSweeper: true,
			},
		},
		{
			name:  "duplicate services",
			input: "worker,worker,sweeper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:  true,
				ServiceModeSweeper: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,reaper",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name            string
		services        string
		expectedHTTP    bool
		expectedWorker  bool
		expectedSweeper bool
	}{
		{
			name:            "all services",
			services:        "http,worker,sweeper",
			expectedHTTP:    true,
			expectedWorker:  true,
			expectedSweeper: true,
		},
		{
			name:           "worker only",
			services:       "worker",
			expectedWorker: true,
		},
		{
			name:     "invalid configuration disables everything",
			services: "invalid-service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsHTTPServerEnabled() != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v, got %v", tt.expectedHTTP, cfg.IsHTTPServerEnabled())
			}
			if cfg.IsWorkerEnabled() != tt.expectedWorker {
				t.Errorf("IsWorkerEnabled(): expected %v, got %v", tt.expectedWorker, cfg.IsWorkerEnabled())
			}
			if cfg.IsSweeperEnabled() != tt.expectedSweeper {
				t.Errorf("IsSweeperEnabled(): expected %v, got %v", tt.expectedSweeper, cfg.IsSweeperEnabled())
			}
		})
	}
}

func TestAppConfig_ParseDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %v", cfg.Worker.PollInterval)
	}
	if cfg.Worker.Concurrency != 1 {
		t.Errorf("expected concurrency 1, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.JobTimeout != 5*time.Minute {
		t.Errorf("expected 5m job timeout, got %v", cfg.Worker.JobTimeout)
	}
	if cfg.Sweeper.Interval != time.Hour {
		t.Errorf("expected 1h sweep interval, got %v", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.RetentionMaxAge != 24*time.Hour {
		t.Errorf("expected 24h retention, got %v", cfg.Sweeper.RetentionMaxAge)
	}
	if cfg.Identity.UserHeader != "X-User-Id" {
		t.Errorf("expected canonical user header, got %q", cfg.Identity.UserHeader)
	}
	if cfg.HTTP.MaxLongPoll != 25*time.Second {
		t.Errorf("expected 25s long poll cap, got %v", cfg.HTTP.MaxLongPoll)
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("SERVICES", "worker")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("WORKER_JOB_TIMEOUT", "90s")
	t.Setenv("RATE_IP_BURST_LIMIT", "7")
	t.Setenv("IDENTITY_MODE", "DEV")
	t.Setenv("DEV_IDENTITY_USER_ID", "alice")
	t.Setenv("DB_HOST", "db.internal")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if !cfg.IsWorkerEnabled() || cfg.IsHTTPServerEnabled() {
		t.Errorf("unexpected services: %q", cfg.Services)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.JobTimeout != 90*time.Second {
		t.Errorf("expected 90s timeout, got %v", cfg.Worker.JobTimeout)
	}
	if cfg.Quota.IPBurstLimit != 7 {
		t.Errorf("expected burst limit 7, got %d", cfg.Quota.IPBurstLimit)
	}
	if cfg.Identity.Mode != IdentityModeDev || cfg.Identity.Dev.UserID != "alice" {
		t.Errorf("unexpected identity config: %+v", cfg.Identity)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("expected db host from env, got %q", cfg.Postgres.Host)
	}
}

func TestIdentityMode_UnmarshalText(t *testing.T) {
	var m IdentityMode
	if err := m.UnmarshalText([]byte("oauth")); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
	if err := m.UnmarshalText([]byte(" Header ")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != IdentityModeHeader {
		t.Fatalf("expected header mode, got %q", m)
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{PollInterval: 0, Concurrency: 0, JobTimeout: 0}
	cfg.Sanitize()

	if cfg.PollInterval < 100*time.Millisecond {
		t.Errorf("expected poll interval floor, got %v", cfg.PollInterval)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("expected concurrency floor of 1, got %d", cfg.Concurrency)
	}
	if cfg.JobTimeout < time.Second {
		t.Errorf("expected job timeout floor, got %v", cfg.JobTimeout)
	}
}

func TestSweeperConfig_Sanitize(t *testing.T) {
	cfg := SweeperConfig{
		Interval:           time.Second,
		RetentionMaxAge:    time.Minute,
		StaleProcessingAge: -time.Minute,
		BatchSize:          50000,
	}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("expected interval clamped to 1m, got %v", cfg.Interval)
	}
	if cfg.RetentionMaxAge != time.Hour {
		t.Errorf("expected retention clamped to 1h, got %v", cfg.RetentionMaxAge)
	}
	if cfg.StaleProcessingAge != 0 {
		t.Errorf("expected negative stale age to disable the step, got %v", cfg.StaleProcessingAge)
	}
	if cfg.BatchSize != 10000 {
		t.Errorf("expected batch size clamped to 10000, got %d", cfg.BatchSize)
	}
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	cfg := HTTPConfig{MaxLongPoll: time.Minute, WriteTimeout: 10 * time.Second, MaxConnections: -1}
	cfg.Sanitize()

	if cfg.MaxLongPoll != 25*time.Second {
		t.Errorf("expected long poll capped at 25s, got %v", cfg.MaxLongPoll)
	}
	if cfg.WriteTimeout < cfg.MaxLongPoll {
		t.Errorf("write timeout %v must exceed long poll %v", cfg.WriteTimeout, cfg.MaxLongPoll)
	}
	if cfg.MaxConnections != 0 {
		t.Errorf("expected negative max connections to mean unbounded, got %d", cfg.MaxConnections)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, Namespace: " analysis ", Path: "metrics"}
	cfg.Sanitize()

	if cfg.Namespace != "analysis" {
		t.Fatalf("expected namespace to be trimmed, got %q", cfg.Namespace)
	}
	if cfg.Path != "/metrics" {
		t.Fatalf("expected relative path to fall back to /metrics, got %q", cfg.Path)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.Slack.Username != "analysis-pipeline" {
		t.Fatalf("expected slack username default, got %q", cfg.Slack.Username)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
}
