package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/perfdeck/perfdeck/internal/data/pgxutil"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// ScheduleRepo provides database operations for recurring-test schedules.
type ScheduleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduleRepo creates a new ScheduleRepo with real time provider.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewScheduleRepoWithTimeProvider creates a ScheduleRepo with a custom time provider (useful for tests).
func NewScheduleRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ScheduleRepo {
	return &ScheduleRepo{DB: db, timeProvider: tp}
}

const scheduleColumns = `
	id, user_id, project_id, category, subtype, cron_expression,
	email_to, config, is_active, last_run_at, input_file_path,
	created_at, updated_at`

// Create inserts a new schedule. The cron expression is validated before it
// is persisted, so invalid expressions never reach the registry.
func (r *ScheduleRepo) Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error) {
	if req == nil {
		return nil, errors.New("create schedule request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	config := req.Config
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	createdAt := r.timeProvider.Now().UTC()
	var out model.Schedule
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO schedules (
				user_id, project_id, category, subtype, cron_expression,
				email_to, config, is_active, input_file_path, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			RETURNING `+scheduleColumns,
			strings.TrimSpace(req.UserID),
			req.ProjectID,
			req.Category,
			req.Subtype,
			strings.Join(strings.Fields(req.CronExpression), " "),
			strings.TrimSpace(req.EmailTo),
			config,
			isActive,
			req.InputFilePath,
			createdAt,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Schedule])
		return err
	}); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a schedule by ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id int64) (*model.Schedule, error) {
	var out model.Schedule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Schedule])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule by id: %w", err)
	}
	return &out, nil
}

// List retrieves schedules with pagination ordered by id.
func (r *ScheduleRepo) List(ctx context.Context, limit, offset int) ([]*model.Schedule, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return r.collect(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
}

// ListAll returns every schedule, active or not. Used at startup to rebuild
// the cron registry.
func (r *ScheduleRepo) ListAll(ctx context.Context) ([]*model.Schedule, error) {
	return r.collect(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
}

func (r *ScheduleRepo) collect(ctx context.Context, query string, args ...any) ([]*model.Schedule, error) {
	var rowsOut []model.Schedule
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Schedule])
		return err
	}); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	res := make([]*model.Schedule, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Update applies non-nil fields of the request to the schedule.
func (r *ScheduleRepo) Update(ctx context.Context, id int64, req model.UpdateScheduleRequest) (*model.Schedule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var cronExpr *string
	if req.CronExpression != nil {
		normalized := strings.Join(strings.Fields(*req.CronExpression), " ")
		cronExpr = &normalized
	}
	var config any
	if len(req.Config) > 0 {
		config = req.Config
	}

	var out model.Schedule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE schedules SET
				cron_expression = COALESCE($2, cron_expression),
				email_to        = COALESCE($3, email_to),
				config          = COALESCE($4, config),
				is_active       = COALESCE($5, is_active),
				input_file_path = COALESCE($6, input_file_path),
				updated_at      = $7
			WHERE id = $1
			RETURNING `+scheduleColumns,
			id,
			cronExpr,
			req.EmailTo,
			config,
			req.IsActive,
			req.InputFilePath,
			r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Schedule])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return &out, nil
}

// Delete removes a schedule. Returns true if a row was deleted.
func (r *ScheduleRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete schedule rows affected: %w", err)
	}
	return n > 0, nil
}

// TouchLastRun updates last_run_at. Callers treat failures as best-effort
// observability, not correctness-critical state.
func (r *ScheduleRepo) TouchLastRun(ctx context.Context, id int64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch last_run_at: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch last_run_at rows affected: %w", err)
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}
