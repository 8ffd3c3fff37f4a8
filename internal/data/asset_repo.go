package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data/pgxutil"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// AssetRepo provides database operations for uploaded test assets.
type AssetRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAssetRepo creates a new AssetRepo instance with the given database connection.
func NewAssetRepo(db *sql.DB) *AssetRepo {
	return &AssetRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const assetColumns = `id, project_id, schedule_id, subtype, file_name, storage_path, size_bytes, created_at`

// Create registers an uploaded asset.
func (r *AssetRepo) Create(ctx context.Context, req *model.CreateTestAssetRequest) (*model.TestAsset, error) {
	if req == nil {
		return nil, errors.New("create asset request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out model.TestAsset
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO test_assets (project_id, schedule_id, subtype, file_name, storage_path, size_bytes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+assetColumns,
			req.ProjectID,
			req.ScheduleID,
			req.Subtype,
			strings.TrimSpace(req.FileName),
			req.StoragePath,
			req.SizeBytes,
			r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TestAsset])
		return err
	}); err != nil {
		return nil, fmt.Errorf("create test asset: %w", err)
	}
	return &out, nil
}

// GetByID retrieves an asset by ID.
func (r *AssetRepo) GetByID(ctx context.Context, id string) (*model.TestAsset, error) {
	var out model.TestAsset
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+assetColumns+` FROM test_assets WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TestAsset])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("get asset by id: %w", err)
	}
	return &out, nil
}

// FindForRun resolves the asset a run should execute. A schedule-owned asset
// wins over the project default; the newest upload wins within each group.
func (r *AssetRepo) FindForRun(ctx context.Context, params core.FindAssetParams) (*model.TestAsset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM test_assets
		WHERE project_id = $1
		  AND subtype = $2
		  AND (schedule_id = $3 OR schedule_id IS NULL)
		ORDER BY
			CASE WHEN schedule_id IS NOT NULL THEN 0 ELSE 1 END,
			created_at DESC
		LIMIT 1
	`
	var scheduleID any
	if params.ScheduleID != nil {
		scheduleID = *params.ScheduleID
	}

	var out model.TestAsset
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, params.ProjectID, params.Subtype, scheduleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TestAsset])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("find asset for run: %w", err)
	}
	return &out, nil
}

// Delete removes an asset row. Returns true if a row was deleted.
func (r *AssetRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM test_assets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete asset rows affected: %w", err)
	}
	return n > 0, nil
}
