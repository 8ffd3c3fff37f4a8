package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perfdeck/perfdeck/internal/core"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the cron registry and the run-and-report workers.
	ServiceModeScheduler ServiceMode = "scheduler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration: the run-and-report
// timing knobs plus the invocation target.
type SchedulerConfig struct {
	// ProbeDelay is the fixed wait between a successful invocation and the
	// first readiness check.
	ProbeDelay time.Duration `env:"SCHEDULER_PROBE_DELAY" envDefault:"10s"`

	// ReadinessBackoff is the wait between readiness re-checks.
	ReadinessBackoff time.Duration `env:"SCHEDULER_READINESS_BACKOFF" envDefault:"15s"`

	// RetryBackoff is the wait between report-generation retries.
	RetryBackoff time.Duration `env:"SCHEDULER_RETRY_BACKOFF" envDefault:"5s"`

	// MaxAttempts bounds the report episode per firing.
	MaxAttempts int `env:"SCHEDULER_MAX_ATTEMPTS" envDefault:"3"`

	// InvokeTimeout bounds one call to an execution endpoint.
	InvokeTimeout time.Duration `env:"SCHEDULER_INVOKE_TIMEOUT" envDefault:"5m"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	p := s.Protocol()
	p.Sanitize()
	s.ProbeDelay = p.ProbeDelay
	s.ReadinessBackoff = p.ReadinessBackoff
	s.RetryBackoff = p.RetryBackoff
	s.MaxAttempts = p.MaxAttempts
	if s.InvokeTimeout <= 0 {
		s.InvokeTimeout = 5 * time.Minute
	}
}

// Protocol converts the scheduler configuration into protocol timings.
func (s *SchedulerConfig) Protocol() core.ProtocolConfig {
	return core.ProtocolConfig{
		ProbeDelay:       s.ProbeDelay,
		ReadinessBackoff: s.ReadinessBackoff,
		RetryBackoff:     s.RetryBackoff,
		MaxAttempts:      s.MaxAttempts,
	}
}

// EngineConfig contains external test runner configuration.
type EngineConfig struct {
	// PostmanCommand overrides the newman command template. Placeholders:
	// {asset}, {base_url}, {output}.
	PostmanCommand string `env:"ENGINE_POSTMAN_COMMAND" envDefault:""`

	// ScriptCommand overrides the k6 command template.
	ScriptCommand string `env:"ENGINE_SCRIPT_COMMAND" envDefault:""`

	// Timeout bounds one external runner invocation.
	Timeout time.Duration `env:"ENGINE_TIMEOUT" envDefault:"15m"`

	// WorkDir is where scratch files are materialized; empty means the
	// system temp dir.
	WorkDir string `env:"ENGINE_WORK_DIR" envDefault:""`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.Timeout <= 0 {
		e.Timeout = 15 * time.Minute
	}
	e.WorkDir = strings.TrimSpace(e.WorkDir)
}

// StorageConfig contains artifact store configuration.
type StorageConfig struct {
	// Root is the filesystem root under which assets, raw results, and
	// reports are stored.
	Root string `env:"STORAGE_ROOT" envDefault:"./data/artifacts"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	s.Root = strings.TrimSpace(s.Root)
	if s.Root == "" {
		s.Root = "./data/artifacts"
	}
}

// MailConfig contains SMTP notification configuration.
type MailConfig struct {
	// Enabled toggles outbound email delivery. When disabled, schedule
	// outcomes are logged but not mailed.
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	Addr     string `env:"ADDR"     envDefault:"localhost:25"`
	From     string `env:"FROM"     envDefault:"perfdeck@localhost"`
	Username string `env:"USERNAME" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""`
}

// Sanitize applies guardrails to mail configuration values.
func (m *MailConfig) Sanitize() {
	m.Addr = strings.TrimSpace(m.Addr)
	m.From = strings.TrimSpace(m.From)
	if m.Addr == "" || m.From == "" {
		m.Enabled = false
	}
}
