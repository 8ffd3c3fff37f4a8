package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

const (
	defaultProbeTimeout   = 30 * time.Second
	maxProbeResponseBytes = 64 * 1024
)

// quickConfig is the schedule config blob for quick runs: a list of HTTP
// probes against the project's base URL. Probes run sequentially unless
// parallel is set, in which case up to maxParallelProbes run at once.
type quickConfig struct {
	Requests []quickProbe `json:"requests"`
	Parallel bool         `json:"parallel,omitempty"`
}

const maxParallelProbes = 4

type quickProbe struct {
	Name           string            `json:"name"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	ExpectedStatus int               `json:"expected_status,omitempty"` // default 200
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// QuickEngine runs quick tests natively: it issues each configured probe
// against the project base URL and records latency, status, and outcome.
type QuickEngine struct {
	client *http.Client
	clock  data.TimeProvider
	logger *slog.Logger
}

// QuickOptions configures a QuickEngine.
type QuickOptions struct {
	HTTPClient *http.Client
	Clock      data.TimeProvider
	Logger     *slog.Logger
}

// NewQuickEngine creates a QuickEngine.
func NewQuickEngine(opts QuickOptions) *QuickEngine {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	clock := opts.Clock
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "quick_engine")
	}
	return &QuickEngine{client: client, clock: clock, logger: logger}
}

// Run executes every probe in the job config. Probe failures mark the run
// failed but never abort the remaining probes.
func (e *QuickEngine) Run(ctx context.Context, job *Job) (*Result, error) {
	if job.Project == nil {
		return nil, fmt.Errorf("quick run requires a project")
	}
	cfg, err := parseQuickConfig(job.Config)
	if err != nil {
		return nil, err
	}

	started := e.clock.Now()
	details := make([]model.TestRunResult, len(cfg.Requests))
	transcript := make([]map[string]any, len(cfg.Requests))

	if cfg.Parallel {
		g, probeCtx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelProbes)
		for i, probe := range cfg.Requests {
			g.Go(func() error {
				details[i], transcript[i] = e.probe(probeCtx, job.Project.BaseURL, probe, job.Run.ID)
				return probeCtx.Err()
			})
		}
		// Probe failures are recorded per-detail; Wait only surfaces
		// cancellation of the run itself.
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, probe := range cfg.Requests {
			details[i], transcript[i] = e.probe(ctx, job.Project.BaseURL, probe, job.Run.ID)
		}
	}
	finished := e.clock.Now()

	rawOut, err := json.Marshal(map[string]any{"probes": transcript})
	if err != nil {
		return nil, fmt.Errorf("encode probe transcript: %w", err)
	}

	return &Result{
		Status:  overallStatus(details),
		Summary: summarize(details, started, finished),
		Details: details,
		Raw:     rawOut,
	}, nil
}

func parseQuickConfig(raw json.RawMessage) (*quickConfig, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("quick run requires a config with at least one request")
	}
	var cfg quickConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse quick config: %w", err)
	}
	if len(cfg.Requests) == 0 {
		return nil, fmt.Errorf("quick config has no requests")
	}
	for i := range cfg.Requests {
		p := &cfg.Requests[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("request-%d", i+1)
		}
		if p.Method == "" {
			p.Method = http.MethodGet
		}
		if p.ExpectedStatus == 0 {
			p.ExpectedStatus = http.StatusOK
		}
	}
	return &cfg, nil
}

func (e *QuickEngine) probe(ctx context.Context, baseURL string, p quickProbe, runID int64) (model.TestRunResult, map[string]any) {
	target, err := url.JoinPath(baseURL, p.Path)
	if err != nil {
		return e.probeFailure(p, runID, 0, fmt.Errorf("join url: %w", err))
	}

	timeout := defaultProbeTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(probeCtx, strings.ToUpper(p.Method), target, body)
	if err != nil {
		return e.probeFailure(p, runID, 0, fmt.Errorf("build request: %w", err))
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	latency := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return e.probeFailure(p, runID, latency, err)
	}
	defer resp.Body.Close()
	// Drain so the transport can reuse the connection.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeResponseBytes))

	status := model.RunStatusPassed
	var errText *string
	if resp.StatusCode != p.ExpectedStatus {
		status = model.RunStatusFailed
		msg := fmt.Sprintf("expected status %d, got %d", p.ExpectedStatus, resp.StatusCode)
		errText = &msg
	}

	code := resp.StatusCode
	detail := model.TestRunResult{
		RunID:        runID,
		Name:         p.Name,
		Status:       status,
		LatencyMS:    &latency,
		ResponseCode: &code,
		ErrorText:    errText,
	}
	raw := map[string]any{
		"name":       p.Name,
		"url":        target,
		"status":     resp.StatusCode,
		"latency_ms": latency,
	}
	return detail, raw
}

func (e *QuickEngine) probeFailure(p quickProbe, runID int64, latency float64, err error) (model.TestRunResult, map[string]any) {
	msg := err.Error()
	detail := model.TestRunResult{
		RunID:     runID,
		Name:      p.Name,
		Status:    model.RunStatusFailed,
		ErrorText: &msg,
	}
	if latency > 0 {
		detail.LatencyMS = &latency
	}
	raw := map[string]any{
		"name":  p.Name,
		"error": msg,
	}
	return detail, raw
}
