package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/perfdeck/perfdeck/internal/data/pgxutil"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// TestRunRepo provides database operations for executions and their detail rows.
type TestRunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewTestRunRepo creates a new TestRunRepo instance with the given database connection.
func NewTestRunRepo(db *sql.DB) *TestRunRepo {
	return &TestRunRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewTestRunRepoWithTimeProvider creates a TestRunRepo with a custom TimeProvider (useful for tests).
func NewTestRunRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *TestRunRepo {
	return &TestRunRepo{DB: db, timeProvider: tp}
}

const testRunColumns = `
	id, project_id, schedule_id, subtype, status, summary,
	summary_artifact_path, raw_result_path, error_message, started_at, finished_at`

const testRunResultColumns = `id, run_id, name, status, latency_ms, response_code, error_text, extra`

// Create inserts a new run in running state.
func (r *TestRunRepo) Create(ctx context.Context, req *model.CreateTestRunRequest) (*model.TestRun, error) {
	if req == nil {
		return nil, errors.New("create test run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out model.TestRun
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO test_runs (project_id, schedule_id, subtype, status, started_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+testRunColumns,
			req.ProjectID,
			req.ScheduleID,
			req.Subtype,
			model.RunStatusRunning,
			r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TestRun])
		return err
	}); err != nil {
		return nil, fmt.Errorf("create test run: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a run by ID.
func (r *TestRunRepo) GetByID(ctx context.Context, id int64) (*model.TestRun, error) {
	var out model.TestRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+testRunColumns+` FROM test_runs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TestRun])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestRunNotFound
		}
		return nil, fmt.Errorf("get test run by id: %w", err)
	}
	return &out, nil
}

// Detail returns the full execution detail used by readiness checks and report
// generation. A missing run yields Run == nil rather than an error, since the
// caller treats "not found" as one more flavour of not-ready.
func (r *TestRunRepo) Detail(ctx context.Context, id int64) (*model.TestRunDetail, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTestRunNotFound) {
			return &model.TestRunDetail{}, nil
		}
		return nil, err
	}

	detail := &model.TestRunDetail{
		Run:     run,
		Summary: run.Summary,
	}

	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx,
			`SELECT `+testRunResultColumns+` FROM test_run_results WHERE run_id = $1 ORDER BY id`, id)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		detail.Details, qErr = pgx.CollectRows(rows, pgx.RowToStructByName[model.TestRunResult])
		return qErr
	}); err != nil {
		return nil, fmt.Errorf("load test run results: %w", err)
	}

	var projectName string
	if err := r.DB.QueryRowContext(ctx,
		`SELECT name FROM projects WHERE id = $1`, run.ProjectID,
	).Scan(&projectName); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load project name: %w", err)
	}
	detail.ProjectName = projectName

	return detail, nil
}

// Finish records the terminal state of a run and its detail rows in one
// transaction, so readiness observers never see a half-written result set.
func (r *TestRunRepo) Finish(ctx context.Context, req *model.FinishTestRunRequest) error {
	if req == nil {
		return errors.New("finish test run request is required")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	summary := req.Summary
	if len(summary) == 0 {
		summary = json.RawMessage(`{}`)
	}
	finishedAt := r.timeProvider.Now().UTC()

	return pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE test_runs SET
				status = $2,
				summary = $3,
				summary_artifact_path = $4,
				raw_result_path = $5,
				error_message = $6,
				finished_at = $7
			WHERE id = $1`,
			req.RunID,
			req.Status,
			summary,
			req.SummaryArtifactPath,
			req.RawResultPath,
			req.ErrorMessage,
			finishedAt,
		)
		if err != nil {
			return fmt.Errorf("finish test run: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTestRunNotFound
		}

		for _, d := range req.Details {
			if _, err = tx.Exec(ctx, `
				INSERT INTO test_run_results (run_id, name, status, latency_ms, response_code, error_text, extra)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				req.RunID, d.Name, d.Status, d.LatencyMS, d.ResponseCode, d.ErrorText, d.Extra,
			); err != nil {
				return fmt.Errorf("insert test run result: %w", err)
			}
		}
		return nil
	})
}

// ListByProject retrieves runs for a project, newest first.
func (r *TestRunRepo) ListByProject(
	ctx context.Context,
	projectID string,
	limit, offset int,
) ([]*model.TestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rowsOut []model.TestRun
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+testRunColumns+`
			FROM test_runs
			WHERE project_id = $1
			ORDER BY started_at DESC
			LIMIT $2 OFFSET $3`,
			projectID, limit, offset,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.TestRun])
		return err
	}); err != nil {
		return nil, fmt.Errorf("list test runs: %w", err)
	}

	res := make([]*model.TestRun, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}
