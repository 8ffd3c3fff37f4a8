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
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:  "single service - scheduler",
			input: "scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "http,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " http , scheduler ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "http,http,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,invalid-service",
			expected:    nil,
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

func TestConfig_GetEnabledServices(t *testing.T) {
	tests := []struct {
		name        string
		services    string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "http only",
			services: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:     "http and scheduler",
			services: "http,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:        "invalid configuration",
			services:    "invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			result, err := cfg.GetEnabledServices()

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

func TestAppConfig_ParseSchedulerEnv(t *testing.T) {
	t.Setenv("SCHEDULER_PROBE_DELAY", "20s")
	t.Setenv("SCHEDULER_READINESS_BACKOFF", "30s")
	t.Setenv("SCHEDULER_MAX_ATTEMPTS", "5")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("unexpected error parsing config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Scheduler.ProbeDelay != 20*time.Second {
		t.Errorf("expected probe delay 20s, got %v", cfg.Scheduler.ProbeDelay)
	}
	if cfg.Scheduler.ReadinessBackoff != 30*time.Second {
		t.Errorf("expected readiness backoff 30s, got %v", cfg.Scheduler.ReadinessBackoff)
	}
	if cfg.Scheduler.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.Scheduler.MaxAttempts)
	}
	if cfg.Scheduler.RetryBackoff != 5*time.Second {
		t.Errorf("expected default retry backoff 5s, got %v", cfg.Scheduler.RetryBackoff)
	}
}

func TestSchedulerConfig_SanitizeClampsInvalidValues(t *testing.T) {
	cfg := SchedulerConfig{
		ProbeDelay:       -1 * time.Second,
		ReadinessBackoff: 0,
		RetryBackoff:     -5 * time.Second,
		MaxAttempts:      0,
	}
	cfg.Sanitize()

	if cfg.ProbeDelay != 10*time.Second {
		t.Errorf("expected probe delay fallback 10s, got %v", cfg.ProbeDelay)
	}
	if cfg.ReadinessBackoff != 15*time.Second {
		t.Errorf("expected readiness backoff fallback 15s, got %v", cfg.ReadinessBackoff)
	}
	if cfg.RetryBackoff != 5*time.Second {
		t.Errorf("expected retry backoff fallback 5s, got %v", cfg.RetryBackoff)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected max attempts fallback 3, got %d", cfg.MaxAttempts)
	}
}

func TestMailConfig_SanitizeDisablesWithoutAddr(t *testing.T) {
	cfg := MailConfig{Enabled: true, Addr: "  ", From: "perfdeck@localhost"}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected mail to be disabled without an smtp address")
	}

	cfg = MailConfig{Enabled: true, Addr: "localhost:25", From: ""}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected mail to be disabled without a from address")
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  ", Prefix: " perfdeck. "}
	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatal("expected metrics to be disabled without a statsd address")
	}
	if cfg.IsEnabled() {
		t.Fatal("expected IsEnabled to be false")
	}
	if cfg.Prefix != "perfdeck" {
		t.Errorf("expected trimmed prefix, got %q", cfg.Prefix)
	}
}

func TestAppConfig_DefaultServices(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("unexpected error parsing config: %v", err)
	}
	cfg.Sanitize()

	if !cfg.IsHTTPServerEnabled() {
		t.Error("expected http server enabled by default")
	}
	if !cfg.IsSchedulerEnabled() {
		t.Error("expected scheduler enabled by default")
	}
}
