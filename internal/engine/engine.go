// Package engine implements the execution engines behind the run endpoints.
// An engine takes a prepared job, runs the test, and hands its outcome to a
// Completer which persists artifacts and detail rows. Persistence happens
// after the run endpoint has already responded, so observers poll the run
// until the terminal state lands.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// Job is everything an engine needs to execute one run.
type Job struct {
	Run     *model.TestRun
	Project *model.Project
	// Asset is the test definition file; nil for quick runs.
	Asset *model.TestAsset
	// Config is the free-form schedule config blob; quick runs read their
	// probe list from it.
	Config json.RawMessage
}

// Result is the raw outcome of an engine execution, before persistence.
type Result struct {
	Status  model.RunStatus
	Summary json.RawMessage
	Details []model.TestRunResult
	// Raw is the unprocessed engine output (newman JSON, k6 summary export,
	// quick probe transcript). Stored as the run's raw-result artifact.
	Raw []byte
	// ErrorMessage is set when the engine itself failed, as opposed to the
	// test failing.
	ErrorMessage string
}

// Engine executes one prepared job.
type Engine interface {
	Run(ctx context.Context, job *Job) (*Result, error)
}

// Completer persists an engine result: artifacts first, then the run row and
// detail rows in one transaction, so a readiness check that sees the terminal
// row also finds the artifacts.
type Completer struct {
	runs   core.TestRunRepository
	store  core.ArtifactStore
	logger *slog.Logger
}

// NewCompleter creates a Completer.
func NewCompleter(runs core.TestRunRepository, store core.ArtifactStore, logger *slog.Logger) *Completer {
	if logger == nil {
		logger = slog.Default().With("component", "engine_completer")
	}
	return &Completer{runs: runs, store: store, logger: logger}
}

// Complete finalizes the run from an engine result. When the engine returned
// an error instead of a result, the run is marked failed with the error text.
func (c *Completer) Complete(ctx context.Context, runID int64, res *Result, engineErr error) error {
	if engineErr != nil {
		msg := engineErr.Error()
		return c.runs.Finish(ctx, &model.FinishTestRunRequest{
			RunID:        runID,
			Status:       model.RunStatusFailed,
			Summary:      json.RawMessage(`{"error":` + strconv.Quote(msg) + `}`),
			ErrorMessage: &msg,
		})
	}

	req := &model.FinishTestRunRequest{
		RunID:   runID,
		Status:  res.Status,
		Summary: res.Summary,
		Details: res.Details,
	}
	if res.ErrorMessage != "" {
		req.ErrorMessage = &res.ErrorMessage
	}

	dir := "runs/" + strconv.FormatInt(runID, 10)
	if len(res.Raw) > 0 {
		path, err := c.store.Save(ctx, dir, "raw.json", bytes.NewReader(res.Raw))
		if err != nil {
			return fmt.Errorf("save raw result: %w", err)
		}
		req.RawResultPath = &path
	}
	if len(res.Summary) > 0 {
		path, err := c.store.Save(ctx, dir, "summary.json", bytes.NewReader(res.Summary))
		if err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
		req.SummaryArtifactPath = &path
	}

	if err := c.runs.Finish(ctx, req); err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// summarize builds the standard summary blob shared by all engines.
func summarize(details []model.TestRunResult, started time.Time, finished time.Time) json.RawMessage {
	total := len(details)
	failed := 0
	for _, d := range details {
		if d.Status == model.RunStatusFailed {
			failed++
		}
	}
	summary := map[string]any{
		"total":       total,
		"passed":      total - failed,
		"failed":      failed,
		"duration_ms": finished.Sub(started).Milliseconds(),
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func overallStatus(details []model.TestRunResult) model.RunStatus {
	for _, d := range details {
		if d.Status == model.RunStatusFailed {
			return model.RunStatusFailed
		}
	}
	return model.RunStatusPassed
}
