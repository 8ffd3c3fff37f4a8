package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

const (
	assetDir             = "assets"
	defaultAssetCacheTTL = 10 * time.Minute
)

// AssetServiceOptions groups dependencies for AssetService.
type AssetServiceOptions struct {
	Repo   core.AssetRepository
	Store  core.ArtifactStore
	Cache  core.CacheRepository // optional
	Logger *slog.Logger
	// CacheTTL bounds how long asset content stays cached; defaults to 10m.
	CacheTTL time.Duration
}

// AssetService manages uploaded test definitions: storage content, the
// metadata row, and the content cache in front of the store.
type AssetService struct {
	assets   core.AssetRepository
	store    core.ArtifactStore
	cache    core.CacheRepository
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewAssetService constructs a new AssetService.
func NewAssetService(opts AssetServiceOptions) *AssetService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "asset_service")
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultAssetCacheTTL
	}
	return &AssetService{
		assets:   opts.Repo,
		store:    opts.Store,
		cache:    opts.Cache,
		cacheTTL: ttl,
		logger:   logger,
	}
}

// UploadAssetParams carries one uploaded test definition.
type UploadAssetParams struct {
	ProjectID  string
	ScheduleID *int64
	Subtype    model.TestSubtype
	FileName   string
	Content    io.Reader
}

// Upload stores the content and registers the asset row in one call.
func (s *AssetService) Upload(ctx context.Context, params UploadAssetParams) (*model.TestAsset, error) {
	path, size, err := s.Stage(ctx, params.FileName, params.Content)
	if err != nil {
		return nil, err
	}
	asset, err := s.Register(ctx, &model.CreateTestAssetRequest{
		ProjectID:   params.ProjectID,
		ScheduleID:  params.ScheduleID,
		Subtype:     params.Subtype,
		FileName:    params.FileName,
		StoragePath: path,
		SizeBytes:   size,
	})
	if err != nil {
		BestEffort(ctx, s.logger, "delete staged asset content", func() error {
			return s.store.Delete(ctx, path)
		})
		return nil, err
	}
	return asset, nil
}

// Stage writes uploaded content to the store under a fresh name and returns
// its storage path and size. The metadata row is registered separately so
// callers can order the row insert after dependent rows exist.
func (s *AssetService) Stage(ctx context.Context, fileName string, content io.Reader) (string, int64, error) {
	counted := &countingReader{r: content}
	name := uuid.NewString() + "-" + fileName
	path, err := s.store.Save(ctx, assetDir, name, counted)
	if err != nil {
		return "", 0, fmt.Errorf("store asset content: %w", err)
	}
	return path, counted.n, nil
}

// Register inserts the asset metadata row.
func (s *AssetService) Register(ctx context.Context, req *model.CreateTestAssetRequest) (*model.TestAsset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.assets.Create(ctx, req)
}

// GetByID retrieves an asset by ID.
func (s *AssetService) GetByID(ctx context.Context, id string) (*model.TestAsset, error) {
	return s.assets.GetByID(ctx, id)
}

// FindForRun resolves the asset a run should execute.
func (s *AssetService) FindForRun(ctx context.Context, params core.FindAssetParams) (*model.TestAsset, error) {
	return s.assets.FindForRun(ctx, params)
}

// Content returns the asset's file content, via the cache when one is wired.
func (s *AssetService) Content(ctx context.Context, asset *model.TestAsset) ([]byte, error) {
	key := assetCacheKey(asset.ID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil && cached != nil {
			return cached, nil
		}
	}

	rc, err := s.store.Open(ctx, asset.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open asset %s: %w", asset.ID, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", asset.ID, err)
	}

	if s.cache != nil {
		BestEffort(ctx, s.logger, "cache asset content", func() error {
			return s.cache.Set(ctx, key, content, s.cacheTTL)
		})
	}
	return content, nil
}

// Delete removes the asset row, its stored content, and its cache entry.
// Content and cache cleanup are best-effort: a dangling file is preferable to
// a failed delete.
func (s *AssetService) Delete(ctx context.Context, asset *model.TestAsset) (bool, error) {
	ok, err := s.assets.Delete(ctx, asset.ID)
	if err != nil || !ok {
		return ok, err
	}
	BestEffort(ctx, s.logger, "delete asset content", func() error {
		return s.store.Delete(ctx, asset.StoragePath)
	})
	if s.cache != nil {
		BestEffort(ctx, s.logger, "invalidate asset cache", func() error {
			_, delErr := s.cache.Delete(ctx, assetCacheKey(asset.ID))
			return delErr
		})
	}
	return true, nil
}

func assetCacheKey(id string) string {
	return "asset:content:" + id
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
