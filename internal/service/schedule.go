package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// CronRegistry is the slice of the cron lifecycle manager the CRUD gateway
// drives. Satisfied by scheduler.Registry.
type CronRegistry interface {
	Register(schedule *model.Schedule) error
	Unregister(id int64)
	Replace(schedule *model.Schedule) error
}

// ScheduleServiceOptions groups dependencies for ScheduleService.
type ScheduleServiceOptions struct {
	Repo     core.ScheduleRepository
	Assets   *AssetService
	Registry CronRegistry
	Logger   *slog.Logger
}

// ScheduleService is the CRUD gateway for schedules. Every mutation keeps
// three things consistent: the schedule row, the schedule-owned asset, and
// the cron registry entry.
type ScheduleService struct {
	schedules core.ScheduleRepository
	assets    *AssetService
	registry  CronRegistry
	logger    *slog.Logger
}

// NewScheduleService constructs a new ScheduleService.
func NewScheduleService(opts ScheduleServiceOptions) *ScheduleService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "schedule_service")
	}
	return &ScheduleService{
		schedules: opts.Repo,
		assets:    opts.Assets,
		registry:  opts.Registry,
		logger:    logger,
	}
}

// AssetUpload is an uploaded test definition accompanying a schedule mutation.
type AssetUpload struct {
	FileName string
	Content  io.Reader
}

// Create validates the request, stores the uploaded asset when one is
// required, inserts the schedule row, and registers the cron job.
func (s *ScheduleService) Create(ctx context.Context, req *model.CreateScheduleRequest, upload *AssetUpload) (*model.Schedule, error) {
	if req.Subtype.RequiresAsset() && upload == nil {
		return nil, fmt.Errorf("subtype %s requires an uploaded test asset", req.Subtype)
	}

	var stagedPath string
	var stagedSize int64
	if upload != nil {
		var err error
		stagedPath, stagedSize, err = s.assets.Stage(ctx, upload.FileName, upload.Content)
		if err != nil {
			return nil, err
		}
		req.InputFilePath = &stagedPath
	}

	if err := req.Validate(); err != nil {
		s.discardStaged(ctx, stagedPath)
		return nil, err
	}

	schedule, err := s.schedules.Create(ctx, req)
	if err != nil {
		s.discardStaged(ctx, stagedPath)
		return nil, err
	}

	if upload != nil {
		if _, regErr := s.assets.Register(ctx, &model.CreateTestAssetRequest{
			ProjectID:   schedule.ProjectID,
			ScheduleID:  &schedule.ID,
			Subtype:     schedule.Subtype,
			FileName:    upload.FileName,
			StoragePath: stagedPath,
			SizeBytes:   stagedSize,
		}); regErr != nil {
			// Roll the row back rather than leaving a schedule whose runs can
			// never resolve an asset.
			if _, delErr := s.schedules.Delete(ctx, schedule.ID); delErr != nil {
				s.logger.ErrorContext(ctx, "rollback schedule after asset failure",
					"schedule_id", schedule.ID,
					"error", delErr,
				)
			}
			s.discardStaged(ctx, stagedPath)
			return nil, fmt.Errorf("register schedule asset: %w", regErr)
		}
	}

	if regErr := s.registry.Register(schedule); regErr != nil {
		return nil, fmt.Errorf("register cron job: %w", regErr)
	}
	return schedule, nil
}

// GetByID retrieves a schedule by ID.
func (s *ScheduleService) GetByID(ctx context.Context, id int64) (*model.Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

// List returns a page of schedules.
func (s *ScheduleService) List(ctx context.Context, limit, offset int) ([]*model.Schedule, error) {
	return s.schedules.List(ctx, limit, offset)
}

// Update applies the partial update, swaps the schedule-owned asset when a
// new upload is present (old content removal is best-effort), and replaces
// the cron job so it fires with the fresh values.
func (s *ScheduleService) Update(ctx context.Context, id int64, req model.UpdateScheduleRequest, upload *AssetUpload) (*model.Schedule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var oldAsset, newAsset *model.TestAsset
	if upload != nil {
		existing, err := s.schedules.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		oldAsset = s.scheduleAsset(ctx, existing)

		path, size, err := s.assets.Stage(ctx, upload.FileName, upload.Content)
		if err != nil {
			return nil, err
		}
		req.InputFilePath = &path

		newAsset, err = s.assets.Register(ctx, &model.CreateTestAssetRequest{
			ProjectID:   existing.ProjectID,
			ScheduleID:  &existing.ID,
			Subtype:     existing.Subtype,
			FileName:    upload.FileName,
			StoragePath: path,
			SizeBytes:   size,
		})
		if err != nil {
			s.discardStaged(ctx, path)
			return nil, fmt.Errorf("register schedule asset: %w", err)
		}
	}

	schedule, err := s.schedules.Update(ctx, id, req)
	if err != nil {
		if newAsset != nil {
			// Runs resolve the newest schedule-owned asset, so a failed row
			// update must not leave the swapped-in asset behind.
			if _, delErr := s.assets.Delete(ctx, newAsset); delErr != nil {
				s.logger.ErrorContext(ctx, "rollback schedule asset after update failure",
					"schedule_id", id,
					"asset_id", newAsset.ID,
					"error", delErr,
				)
			}
		}
		return nil, err
	}

	if oldAsset != nil {
		BestEffort(ctx, s.logger, "delete replaced schedule asset", func() error {
			_, delErr := s.assets.Delete(ctx, oldAsset)
			return delErr
		})
	}

	if repErr := s.registry.Replace(schedule); repErr != nil {
		return nil, fmt.Errorf("replace cron job: %w", repErr)
	}
	return schedule, nil
}

// Delete removes the schedule row, its owned asset (best-effort), and its
// cron job. Unregistering an id with no job is a no-op, so delete is safe to
// retry.
func (s *ScheduleService) Delete(ctx context.Context, id int64) (bool, error) {
	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrScheduleNotFound) {
			return false, nil
		}
		return false, err
	}
	asset := s.scheduleAsset(ctx, schedule)

	ok, err := s.schedules.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}

	if asset != nil {
		BestEffort(ctx, s.logger, "delete schedule asset", func() error {
			_, delErr := s.assets.Delete(ctx, asset)
			return delErr
		})
	}
	s.registry.Unregister(id)
	return true, nil
}

// scheduleAsset resolves the schedule-owned asset, nil when there is none.
func (s *ScheduleService) scheduleAsset(ctx context.Context, schedule *model.Schedule) *model.TestAsset {
	if schedule == nil || !schedule.Subtype.RequiresAsset() {
		return nil
	}
	asset, err := s.assets.FindForRun(ctx, core.FindAssetParams{
		ProjectID:  schedule.ProjectID,
		ScheduleID: &schedule.ID,
		Subtype:    schedule.Subtype,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "resolve schedule asset failed",
			"schedule_id", schedule.ID,
			"error", err,
		)
		return nil
	}
	if asset == nil || asset.ScheduleID == nil || *asset.ScheduleID != schedule.ID {
		// Project-default assets are shared; never delete those on schedule
		// mutations.
		return nil
	}
	return asset
}

func (s *ScheduleService) discardStaged(ctx context.Context, path string) {
	if path == "" {
		return
	}
	BestEffort(ctx, s.logger, "discard staged asset content", func() error {
		return s.assets.store.Delete(ctx, path)
	})
}
