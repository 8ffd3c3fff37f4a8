package core

import "time"

// ProtocolConfig holds the timing knobs of the run-and-report protocol.
// Delays are deliberately coarse: the probe delay covers the window between
// an execution endpoint returning and its result rows being durably written.
type ProtocolConfig struct {
	// ProbeDelay is the fixed wait between a successful invocation and the
	// first readiness check.
	ProbeDelay time.Duration `json:"probe_delay"`

	// ReadinessBackoff is the wait between readiness re-checks while the
	// execution data is not yet fully written.
	ReadinessBackoff time.Duration `json:"readiness_backoff"`

	// RetryBackoff is the wait between report-generation retries after the
	// generator itself failed.
	RetryBackoff time.Duration `json:"retry_backoff"`

	// MaxAttempts bounds the report episode, counting both not-ready probes
	// and generator failures.
	MaxAttempts int `json:"max_attempts"`
}

// DefaultProtocolConfig returns a ProtocolConfig with production defaults.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		ProbeDelay:       10 * time.Second,
		ReadinessBackoff: 15 * time.Second,
		RetryBackoff:     5 * time.Second,
		MaxAttempts:      3,
	}
}

// Sanitize applies guardrails to protocol configuration values.
func (c *ProtocolConfig) Sanitize() {
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = 10 * time.Second
	}
	if c.ReadinessBackoff <= 0 {
		c.ReadinessBackoff = 15 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
}
