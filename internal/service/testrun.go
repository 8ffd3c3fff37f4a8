package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/engine"
)

// ErrNoRunnableAsset means a run that needs a test asset could not resolve
// one for its project or schedule.
var ErrNoRunnableAsset = errors.New("no test asset available for this run")

const defaultRunDeadline = 30 * time.Minute

// TestRunServiceOptions groups dependencies for TestRunService.
type TestRunServiceOptions struct {
	Runs      core.TestRunRepository
	Projects  core.ProjectRepository
	Schedules core.ScheduleRepository
	Assets    *AssetService
	Quick     engine.Engine
	Exec      engine.Engine
	Completer *engine.Completer
	Logger    *slog.Logger
	// RunDeadline bounds one background execution; defaults to 30m.
	RunDeadline time.Duration
}

// TestRunService orchestrates the execution endpoints: it creates the run
// row, responds immediately, and completes the run in the background. Result
// rows and artifacts land after the HTTP response, which is why observers
// poll readiness instead of trusting the response.
type TestRunService struct {
	runs      core.TestRunRepository
	projects  core.ProjectRepository
	schedules core.ScheduleRepository
	assets    *AssetService
	engines   map[model.TestSubtype]engine.Engine
	completer *engine.Completer
	logger    *slog.Logger
	deadline  time.Duration
}

// NewTestRunService constructs a new TestRunService.
func NewTestRunService(opts TestRunServiceOptions) *TestRunService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "testrun_service")
	}
	deadline := opts.RunDeadline
	if deadline <= 0 {
		deadline = defaultRunDeadline
	}
	return &TestRunService{
		runs:      opts.Runs,
		projects:  opts.Projects,
		schedules: opts.Schedules,
		assets:    opts.Assets,
		engines: map[model.TestSubtype]engine.Engine{
			model.TestSubtypeQuick:   opts.Quick,
			model.TestSubtypePostman: opts.Exec,
			model.TestSubtypeScript:  opts.Exec,
		},
		completer: opts.Completer,
		logger:    logger,
		deadline:  deadline,
	}
}

// StartRunParams identifies what to execute.
type StartRunParams struct {
	ProjectID  string
	Subtype    model.TestSubtype
	ScheduleID *int64
	// Config overrides the schedule config for ad-hoc runs.
	Config json.RawMessage
}

// Start validates the run, inserts the running row, kicks off the engine in
// the background, and returns the run id immediately.
func (s *TestRunService) Start(ctx context.Context, params StartRunParams) (*core.InvokeResult, error) {
	req := &model.CreateTestRunRequest{
		ProjectID:  params.ProjectID,
		ScheduleID: params.ScheduleID,
		Subtype:    params.Subtype,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	eng, ok := s.engines[params.Subtype]
	if !ok || eng == nil {
		return nil, fmt.Errorf("no engine configured for subtype %q", params.Subtype)
	}

	project, err := s.projects.GetByID(ctx, params.ProjectID)
	if err != nil {
		return nil, err
	}

	config := params.Config
	if params.ScheduleID != nil {
		schedule, schedErr := s.schedules.GetByID(ctx, *params.ScheduleID)
		if schedErr != nil {
			return nil, schedErr
		}
		if len(config) == 0 {
			config = schedule.Config
		}
	}

	var asset *model.TestAsset
	if params.Subtype.RequiresAsset() {
		asset, err = s.assets.FindForRun(ctx, core.FindAssetParams{
			ProjectID:  params.ProjectID,
			ScheduleID: params.ScheduleID,
			Subtype:    params.Subtype,
		})
		if err != nil {
			if errors.Is(err, data.ErrAssetNotFound) {
				return nil, ErrNoRunnableAsset
			}
			return nil, err
		}
	}

	run, err := s.runs.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	job := &engine.Job{
		Run:     run,
		Project: project,
		Asset:   asset,
		Config:  config,
	}
	go s.execute(eng, job)

	return &core.InvokeResult{
		TestRunID: run.ID,
		Summary:   json.RawMessage(`{"status":"running"}`),
	}, nil
}

// execute runs the engine and persists the outcome. It owns its own context:
// the HTTP request that started the run has already returned.
func (s *TestRunService) execute(eng engine.Engine, job *engine.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("engine panic",
				"run_id", job.Run.ID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			s.completeFailed(ctx, job.Run.ID, fmt.Errorf("engine panic: %v", rec))
		}
	}()

	res, err := eng.Run(ctx, job)
	if err != nil {
		s.logger.ErrorContext(ctx, "engine run failed",
			"run_id", job.Run.ID,
			"subtype", job.Run.Subtype,
			"error", err,
		)
	}
	if compErr := s.completer.Complete(ctx, job.Run.ID, res, err); compErr != nil {
		s.logger.ErrorContext(ctx, "complete run failed",
			"run_id", job.Run.ID,
			"error", compErr,
		)
	}
}

func (s *TestRunService) completeFailed(ctx context.Context, runID int64, cause error) {
	if err := s.completer.Complete(ctx, runID, nil, cause); err != nil {
		s.logger.ErrorContext(ctx, "record failed run", "run_id", runID, "error", err)
	}
}

// GetByID retrieves a run by ID.
func (s *TestRunService) GetByID(ctx context.Context, id int64) (*model.TestRun, error) {
	return s.runs.GetByID(ctx, id)
}

// Detail retrieves a run with its detail rows.
func (s *TestRunService) Detail(ctx context.Context, id int64) (*model.TestRunDetail, error) {
	return s.runs.Detail(ctx, id)
}

// ListByProject returns a page of runs for a project.
func (s *TestRunService) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*model.TestRun, error) {
	return s.runs.ListByProject(ctx, projectID, limit, offset)
}
