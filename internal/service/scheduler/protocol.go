package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	obserrors "github.com/perfdeck/perfdeck/internal/observability/errors"
	"github.com/perfdeck/perfdeck/internal/observability/metrics"
	"github.com/perfdeck/perfdeck/internal/observability/notify"
	"github.com/perfdeck/perfdeck/internal/observability/statsd"
)

// Protocol executes the run-and-report sequence for one cron fire: invoke the
// test, wait for the execution data to materialize, generate a report, and
// deliver exactly one notification describing the outcome.
//
// Overlapping firings for the same schedule are skipped: if a protocol
// instance is still in flight when the next fire arrives, the new fire logs
// and returns without invoking anything.
type Protocol struct {
	cfg       core.ProtocolConfig
	invoker   core.TestInvoker
	runs      core.TestRunRepository
	schedules core.ScheduleRepository
	store     core.ArtifactStore
	reports   core.ReportGenerator
	notifier  notify.Notifier
	sleeper   Sleeper
	clock     data.TimeProvider
	logger    *slog.Logger
	metrics   statsd.Sink

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// ProtocolOptions holds the dependencies for creating a Protocol.
type ProtocolOptions struct {
	Config    *core.ProtocolConfig
	Invoker   core.TestInvoker
	Runs      core.TestRunRepository
	Schedules core.ScheduleRepository
	Store     core.ArtifactStore
	Reports   core.ReportGenerator
	Notifier  notify.Notifier
	Sleeper   Sleeper
	Clock     data.TimeProvider
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// NewProtocol creates a Protocol with the given dependencies.
func NewProtocol(opts ProtocolOptions) *Protocol {
	cfg := core.DefaultProtocolConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	cfg.Sanitize()

	if opts.Sleeper == nil {
		opts.Sleeper = RealSleeper{}
	}
	if opts.Clock == nil {
		opts.Clock = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "run_protocol")
	}

	return &Protocol{
		cfg:       cfg,
		invoker:   opts.Invoker,
		runs:      opts.Runs,
		schedules: opts.Schedules,
		store:     opts.Store,
		reports:   opts.Reports,
		notifier:  opts.Notifier,
		sleeper:   opts.Sleeper,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		inFlight:  make(map[int64]struct{}),
	}
}

// Fire runs the full protocol for one cron firing. It never panics out into
// the cron runner: a panic here would be invisible to any caller and must not
// take the process down.
func (p *Protocol) Fire(schedule *model.Schedule) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("protocol panic",
				"schedule_id", schedule.ID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	ctx := context.Background()

	if !p.acquire(schedule.ID) {
		p.logger.WarnContext(ctx, "skipping overlapping firing",
			"schedule_id", schedule.ID,
		)
		p.count(metrics.MetricScheduleFire, map[string]string{"result": metrics.ResultSkipped})
		return
	}
	defer p.release(schedule.ID)

	p.count(metrics.MetricScheduleFire, map[string]string{"result": metrics.ResultSuccess})
	p.runOnce(ctx, schedule)
}

func (p *Protocol) acquire(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Protocol) release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
}

// runOnce is the protocol state machine for one firing: INVOKING, then either
// the failure notification or the delayed report episode.
func (p *Protocol) runOnce(ctx context.Context, schedule *model.Schedule) {
	res, err := p.invoker.Invoke(ctx, schedule)
	if err != nil {
		p.count(metrics.MetricInvoke, map[string]string{
			"result":      metrics.ResultError,
			"error_class": obserrors.Classify(err),
		})
		p.logger.ErrorContext(ctx, "test invocation failed",
			"schedule_id", schedule.ID,
			"error", err,
		)
		// Invocation failures are terminal for this firing: notify and stop,
		// no report attempt.
		p.notifyOutcome(ctx, schedule, notify.Message{
			Kind:  notify.KindRunFailure,
			Error: err.Error(),
		})
		return
	}
	p.count(metrics.MetricInvoke, map[string]string{"result": metrics.ResultSuccess})

	// last_run_at is observability, not correctness-critical state: cron
	// drives off wall clock, so a lost update only blurs the UI.
	if touchErr := p.schedules.TouchLastRun(ctx, schedule.ID, p.clock.Now()); touchErr != nil {
		p.logger.WarnContext(ctx, "persist last_run_at failed",
			"schedule_id", schedule.ID,
			"error", touchErr,
		)
	}

	// The execution endpoint may return before all result rows are durably
	// written; give it a head start before the first readiness probe.
	if sleepErr := p.sleeper.Sleep(ctx, p.cfg.ProbeDelay); sleepErr != nil {
		return
	}

	p.runEpisode(ctx, schedule, res.TestRunID)
}

// runEpisode is the readiness-gated report episode: up to MaxAttempts tries
// to produce and deliver a report for one execution. Non-readiness and
// generator failures both consume attempts but back off differently.
func (p *Protocol) runEpisode(ctx context.Context, schedule *model.Schedule, runID int64) {
	start := p.clock.Now()
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		outcome, attemptErr := p.attempt(ctx, schedule, runID, attempt)
		p.count(metrics.MetricEpisodeAttempt, map[string]string{"result": string(outcome)})

		switch outcome {
		case attemptDone:
			p.episodeFinished(start, metrics.ResultSuccess)
			return
		case attemptNotReady:
			if attempt == p.cfg.MaxAttempts {
				p.episodeFinished(start, metrics.ResultError)
				p.notifyOutcome(ctx, schedule, notify.Message{
					Kind:  notify.KindReportFailure,
					RunID: runID,
					Error: "execution results did not become available in time",
				})
				return
			}
			if err := p.sleeper.Sleep(ctx, p.cfg.ReadinessBackoff); err != nil {
				return
			}
		case attemptGenerateFailed:
			if attempt == p.cfg.MaxAttempts {
				p.episodeFinished(start, metrics.ResultError)
				p.notifyOutcome(ctx, schedule, notify.Message{
					Kind:  notify.KindReportFailure,
					RunID: runID,
					Error: attemptErr.Error(),
				})
				return
			}
			if err := p.sleeper.Sleep(ctx, p.cfg.RetryBackoff); err != nil {
				return
			}
		}
	}
}

type attemptOutcome string

const (
	attemptDone           attemptOutcome = "done"
	attemptNotReady       attemptOutcome = "not_ready"
	attemptGenerateFailed attemptOutcome = "generate_failed"
)

// attempt performs one fetch-check-generate cycle. Detail is re-fetched every
// time: the underlying data only grows, and re-fetching is cheaper than
// holding a possibly stale copy across backoffs.
func (p *Protocol) attempt(
	ctx context.Context,
	schedule *model.Schedule,
	runID int64,
	attempt int,
) (attemptOutcome, error) {
	detail, err := p.runs.Detail(ctx, runID)
	if err != nil {
		p.logger.WarnContext(ctx, "fetch execution detail failed",
			"schedule_id", schedule.ID,
			"run_id", runID,
			"attempt", attempt,
			"error", err,
		)
		return attemptNotReady, err
	}

	ready, err := p.ready(ctx, detail)
	if err != nil {
		p.logger.WarnContext(ctx, "readiness check failed",
			"schedule_id", schedule.ID,
			"run_id", runID,
			"attempt", attempt,
			"error", err,
		)
		return attemptNotReady, err
	}
	if !ready {
		p.logger.InfoContext(ctx, "execution not ready",
			"schedule_id", schedule.ID,
			"run_id", runID,
			"attempt", attempt,
		)
		return attemptNotReady, nil
	}

	reportPath, err := p.reports.Generate(ctx, detail)
	if err != nil {
		p.logger.ErrorContext(ctx, "report generation failed",
			"schedule_id", schedule.ID,
			"run_id", runID,
			"attempt", attempt,
			"error", err,
		)
		return attemptGenerateFailed, err
	}

	p.notifyOutcome(ctx, schedule, notify.Message{
		Kind:       notify.KindReportReady,
		RunID:      runID,
		ReportPath: reportPath,
	})
	return attemptDone, nil
}

// ready computes whether an execution is fully materialized: every recorded
// artifact exists in storage, the summary is non-empty, and the detail rows
// are present.
func (p *Protocol) ready(ctx context.Context, detail *model.TestRunDetail) (bool, error) {
	if detail == nil || detail.Run == nil {
		return false, nil
	}
	run := detail.Run

	if run.SummaryArtifactPath != nil && *run.SummaryArtifactPath != "" {
		exists, err := p.store.Exists(ctx, *run.SummaryArtifactPath)
		if err != nil || !exists {
			return false, err
		}
	}
	if run.RawResultPath != nil && *run.RawResultPath != "" {
		exists, err := p.store.Exists(ctx, *run.RawResultPath)
		if err != nil || !exists {
			return false, err
		}
	}
	if emptyJSON(detail.Summary) {
		return false, nil
	}
	if len(detail.Details) == 0 {
		return false, nil
	}
	return true, nil
}

func emptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "{}", "[]", "null":
		return true
	}
	return false
}

// notifyOutcome delivers the single notification for this firing, if the
// schedule has a recipient. Delivery failures are logged, never retried.
func (p *Protocol) notifyOutcome(ctx context.Context, schedule *model.Schedule, msg notify.Message) {
	if p.notifier == nil || !schedule.HasEmail() {
		return
	}

	msg.Recipient = schedule.EmailTo
	msg.OccurredAt = p.clock.Now()
	msg.Schedule = notify.ScheduleContext{
		ScheduleID: schedule.ID,
		ProjectID:  schedule.ProjectID,
		Subtype:    string(schedule.Subtype),
		Cron:       schedule.CronExpression,
	}

	if err := p.notifier.Send(ctx, msg); err != nil {
		p.count(metrics.MetricNotifySend, map[string]string{
			"result": metrics.ResultError,
			"kind":   string(msg.Kind),
		})
		p.logger.ErrorContext(ctx, "notification delivery failed",
			"schedule_id", schedule.ID,
			"kind", msg.Kind,
			"error", err,
		)
		return
	}
	p.count(metrics.MetricNotifySend, map[string]string{
		"result": metrics.ResultSuccess,
		"kind":   string(msg.Kind),
	})
}

func (p *Protocol) episodeFinished(start time.Time, result string) {
	if p.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	p.metrics.Count(metrics.MetricEpisodeOutcome, 1, tags)
	p.metrics.Timing(metrics.MetricEpisodeDuration, p.clock.Now().Sub(start), metrics.CloneTags(tags))
}

func (p *Protocol) count(name string, tags map[string]string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Count(name, 1, tags)
}
