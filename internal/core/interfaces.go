// Package core defines the ports consumed by the perfdeck scheduling and
// reporting pipeline. Implementations live in internal/data, internal/storage,
// internal/adapters, and internal/observability.
package core

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// ScheduleRepository defines data operations over persisted schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error)
	GetByID(ctx context.Context, id int64) (*model.Schedule, error)
	List(ctx context.Context, limit, offset int) ([]*model.Schedule, error)
	// ListAll returns every schedule, active or not. Used once at startup to
	// rebuild the cron registry.
	ListAll(ctx context.Context) ([]*model.Schedule, error)
	Update(ctx context.Context, id int64, req model.UpdateScheduleRequest) (*model.Schedule, error)
	Delete(ctx context.Context, id int64) (bool, error)
	// TouchLastRun updates last_run_at. Callers treat failures as best-effort.
	TouchLastRun(ctx context.Context, id int64, at time.Time) error
}

// ProjectRepository defines data operations over projects.
type ProjectRepository interface {
	Create(ctx context.Context, req *model.CreateProjectRequest) (*model.Project, error)
	GetByID(ctx context.Context, id string) (*model.Project, error)
	List(ctx context.Context, limit, offset int) ([]*model.Project, error)
	Update(ctx context.Context, id string, req model.UpdateProjectRequest) (*model.Project, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// AssetRepository defines data operations over uploaded test assets.
type AssetRepository interface {
	Create(ctx context.Context, req *model.CreateTestAssetRequest) (*model.TestAsset, error)
	GetByID(ctx context.Context, id string) (*model.TestAsset, error)
	// FindForRun resolves the asset a run should execute: the schedule-owned
	// asset when scheduleID is set and one exists, otherwise the project
	// default for the subtype.
	FindForRun(ctx context.Context, params FindAssetParams) (*model.TestAsset, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// FindAssetParams groups parameters for AssetRepository.FindForRun.
type FindAssetParams struct {
	ProjectID  string
	ScheduleID *int64
	Subtype    model.TestSubtype
}

// TestRunRepository defines data operations over executions and their detail rows.
type TestRunRepository interface {
	Create(ctx context.Context, req *model.CreateTestRunRequest) (*model.TestRun, error)
	GetByID(ctx context.Context, id int64) (*model.TestRun, error)
	// Detail returns the full execution detail used by readiness checks and
	// report generation. A missing run yields a detail with Run == nil, not an
	// error.
	Detail(ctx context.Context, id int64) (*model.TestRunDetail, error)
	Finish(ctx context.Context, req *model.FinishTestRunRequest) error
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*model.TestRun, error)
}

// ArtifactStore abstracts storage of uploaded assets, raw results, and reports.
type ArtifactStore interface {
	// Save writes the content and returns the storage path.
	Save(ctx context.Context, dir, name string, content io.Reader) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// InvokeResult is the parsed response of a test execution endpoint.
type InvokeResult struct {
	TestRunID int64           `json:"test_run_id"`
	Summary   json.RawMessage `json:"summary"`
}

// TestInvoker fires the execution endpoint matching a schedule's subtype and
// returns the new execution id. Any transport failure, non-2xx status, or
// malformed response is an invocation error.
type TestInvoker interface {
	Invoke(ctx context.Context, schedule *model.Schedule) (*InvokeResult, error)
}

// ReportGenerator produces a report artifact for a fully materialized
// execution and returns its storage path.
type ReportGenerator interface {
	Generate(ctx context.Context, detail *model.TestRunDetail) (string, error)
}

// CacheRepository defines cache operations for asset content.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
}
