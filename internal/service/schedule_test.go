package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeScheduleRepo is an in-memory core.ScheduleRepository.
type fakeScheduleRepo struct {
	nextID    int64
	schedules map[int64]*model.Schedule

	createErr error
	updateErr error
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{nextID: 1, schedules: map[int64]*model.Schedule{}}
}

func (r *fakeScheduleRepo) Create(_ context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	s := &model.Schedule{
		ID:             r.nextID,
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		Category:       req.Category,
		Subtype:        req.Subtype,
		CronExpression: req.CronExpression,
		EmailTo:        req.EmailTo,
		Config:         req.Config,
		IsActive:       req.IsActive == nil || *req.IsActive,
		InputFilePath:  req.InputFilePath,
	}
	r.schedules[s.ID] = s
	r.nextID++
	return s, nil
}

func (r *fakeScheduleRepo) GetByID(_ context.Context, id int64) (*model.Schedule, error) {
	s, ok := r.schedules[id]
	if !ok {
		return nil, data.ErrScheduleNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeScheduleRepo) List(_ context.Context, _, _ int) ([]*model.Schedule, error) {
	return r.listAll(), nil
}

func (r *fakeScheduleRepo) ListAll(_ context.Context) ([]*model.Schedule, error) {
	return r.listAll(), nil
}

func (r *fakeScheduleRepo) listAll() []*model.Schedule {
	out := make([]*model.Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

func (r *fakeScheduleRepo) Update(_ context.Context, id int64, req model.UpdateScheduleRequest) (*model.Schedule, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	s, ok := r.schedules[id]
	if !ok {
		return nil, data.ErrScheduleNotFound
	}
	if req.CronExpression != nil {
		s.CronExpression = *req.CronExpression
	}
	if req.EmailTo != nil {
		s.EmailTo = *req.EmailTo
	}
	if len(req.Config) > 0 {
		s.Config = req.Config
	}
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}
	if req.InputFilePath != nil {
		s.InputFilePath = req.InputFilePath
	}
	copied := *s
	return &copied, nil
}

func (r *fakeScheduleRepo) Delete(_ context.Context, id int64) (bool, error) {
	if _, ok := r.schedules[id]; !ok {
		return false, nil
	}
	delete(r.schedules, id)
	return true, nil
}

func (r *fakeScheduleRepo) TouchLastRun(_ context.Context, id int64, at time.Time) error {
	s, ok := r.schedules[id]
	if !ok {
		return data.ErrScheduleNotFound
	}
	s.LastRunAt = &at
	return nil
}

// fakeAssetRepo is an in-memory core.AssetRepository.
type fakeAssetRepo struct {
	nextID int
	assets map[string]*model.TestAsset

	createErr error
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{nextID: 1, assets: map[string]*model.TestAsset{}}
}

func (r *fakeAssetRepo) Create(_ context.Context, req *model.CreateTestAssetRequest) (*model.TestAsset, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	a := &model.TestAsset{
		ID:          fmt.Sprintf("asset-%d", r.nextID),
		ProjectID:   req.ProjectID,
		ScheduleID:  req.ScheduleID,
		Subtype:     req.Subtype,
		FileName:    req.FileName,
		StoragePath: req.StoragePath,
		SizeBytes:   req.SizeBytes,
	}
	r.assets[a.ID] = a
	r.nextID++
	return a, nil
}

func (r *fakeAssetRepo) GetByID(_ context.Context, id string) (*model.TestAsset, error) {
	a, ok := r.assets[id]
	if !ok {
		return nil, data.ErrAssetNotFound
	}
	return a, nil
}

func (r *fakeAssetRepo) FindForRun(_ context.Context, params core.FindAssetParams) (*model.TestAsset, error) {
	// Schedule-owned first.
	if params.ScheduleID != nil {
		for _, a := range r.assets {
			if a.ScheduleID != nil && *a.ScheduleID == *params.ScheduleID {
				return a, nil
			}
		}
	}
	for _, a := range r.assets {
		if a.ScheduleID == nil && a.ProjectID == params.ProjectID && a.Subtype == params.Subtype {
			return a, nil
		}
	}
	return nil, data.ErrAssetNotFound
}

func (r *fakeAssetRepo) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := r.assets[id]; !ok {
		return false, nil
	}
	delete(r.assets, id)
	return true, nil
}

// fakeStore is an in-memory core.ArtifactStore.
type fakeStore struct {
	files   map[string][]byte
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{}}
}

func (s *fakeStore) Save(_ context.Context, dir, name string, content io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	path := dir + "/" + name
	s.files[path] = b
	return path, nil
}

func (s *fakeStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := s.files[path]
	return ok, nil
}

func (s *fakeStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", path)
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (s *fakeStore) Delete(_ context.Context, path string) error {
	delete(s.files, path)
	return nil
}

// fakeRegistry records CronRegistry calls.
type fakeRegistry struct {
	registered   []int64
	unregistered []int64
	replaced     []int64
	registerErr  error
}

func (r *fakeRegistry) Register(s *model.Schedule) error {
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered = append(r.registered, s.ID)
	return nil
}

func (r *fakeRegistry) Unregister(id int64) {
	r.unregistered = append(r.unregistered, id)
}

func (r *fakeRegistry) Replace(s *model.Schedule) error {
	r.replaced = append(r.replaced, s.ID)
	return nil
}

type gatewayFixture struct {
	svc       *ScheduleService
	schedules *fakeScheduleRepo
	assets    *fakeAssetRepo
	store     *fakeStore
	registry  *fakeRegistry
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		schedules: newFakeScheduleRepo(),
		assets:    newFakeAssetRepo(),
		store:     newFakeStore(),
		registry:  &fakeRegistry{},
	}
	assetSvc := NewAssetService(AssetServiceOptions{
		Repo:   f.assets,
		Store:  f.store,
		Logger: discardLogger(),
	})
	f.svc = NewScheduleService(ScheduleServiceOptions{
		Repo:     f.schedules,
		Assets:   assetSvc,
		Registry: f.registry,
		Logger:   discardLogger(),
	})
	return f
}

func createReq(subtype model.TestSubtype) *model.CreateScheduleRequest {
	return &model.CreateScheduleRequest{
		UserID:         "u1",
		ProjectID:      "p1",
		Category:       model.TestCategoryAPI,
		Subtype:        subtype,
		CronExpression: "0 6 * * *",
		EmailTo:        "qa@example.com",
	}
}

func TestScheduleCreateWithAssetRegistersJob(t *testing.T) {
	f := newGatewayFixture(t)

	upload := &AssetUpload{FileName: "collection.json", Content: strings.NewReader(`{"info":{}}`)}
	schedule, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), upload)
	require.NoError(t, err)

	require.NotNil(t, schedule.InputFilePath)
	assert.Contains(t, *schedule.InputFilePath, "assets/")
	assert.Equal(t, []int64{schedule.ID}, f.registry.registered)

	// Asset row is schedule-owned and points at stored content.
	asset, err := f.assets.FindForRun(context.Background(), core.FindAssetParams{
		ProjectID:  "p1",
		ScheduleID: &schedule.ID,
		Subtype:    model.TestSubtypePostman,
	})
	require.NoError(t, err)
	require.NotNil(t, asset.ScheduleID)
	assert.Equal(t, schedule.ID, *asset.ScheduleID)
	_, stored := f.store.files[asset.StoragePath]
	assert.True(t, stored)
}

func TestScheduleCreateRequiresAssetUnlessQuick(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), nil)
	require.Error(t, err)
	assert.Empty(t, f.registry.registered)

	req := createReq(model.TestSubtypeQuick)
	req.Config = []byte(`{"requests":[{"path":"/health"}]}`)
	schedule, err := f.svc.Create(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{schedule.ID}, f.registry.registered)
}

func TestScheduleCreateRejectsBadCronBeforeRegistry(t *testing.T) {
	f := newGatewayFixture(t)

	req := createReq(model.TestSubtypeQuick)
	req.CronExpression = "every 5 minutes"
	_, err := f.svc.Create(context.Background(), req, nil)

	require.Error(t, err)
	assert.Empty(t, f.registry.registered)
	assert.Empty(t, f.schedules.schedules)
}

func TestScheduleCreateAssetRowFailureRollsBack(t *testing.T) {
	f := newGatewayFixture(t)
	f.assets.createErr = fmt.Errorf("unique violation")

	upload := &AssetUpload{FileName: "collection.json", Content: strings.NewReader(`{}`)}
	_, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), upload)

	require.Error(t, err)
	assert.Empty(t, f.schedules.schedules, "schedule row must not survive asset failure")
	assert.Empty(t, f.store.files, "staged content must be discarded")
	assert.Empty(t, f.registry.registered)
}

func TestScheduleUpdateReplacesJobAndSwapsAsset(t *testing.T) {
	f := newGatewayFixture(t)

	upload := &AssetUpload{FileName: "v1.json", Content: strings.NewReader(`{"v":1}`)}
	schedule, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), upload)
	require.NoError(t, err)
	oldPath := *schedule.InputFilePath

	newCron := "30 7 * * 1-5"
	updated, err := f.svc.Update(context.Background(), schedule.ID, model.UpdateScheduleRequest{
		CronExpression: &newCron,
	}, &AssetUpload{FileName: "v2.json", Content: strings.NewReader(`{"v":2}`)})
	require.NoError(t, err)

	assert.Equal(t, newCron, updated.CronExpression)
	assert.NotEqual(t, oldPath, *updated.InputFilePath)
	assert.Equal(t, []int64{schedule.ID}, f.registry.replaced)

	// Old content is gone, new content resolvable.
	_, oldStored := f.store.files[oldPath]
	assert.False(t, oldStored)
	asset, err := f.assets.FindForRun(context.Background(), core.FindAssetParams{
		ProjectID:  "p1",
		ScheduleID: &schedule.ID,
		Subtype:    model.TestSubtypePostman,
	})
	require.NoError(t, err)
	assert.Equal(t, "v2.json", asset.FileName)
}

func TestScheduleUpdateRowFailureRollsBackNewAsset(t *testing.T) {
	f := newGatewayFixture(t)

	upload := &AssetUpload{FileName: "v1.json", Content: strings.NewReader(`{"v":1}`)}
	schedule, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), upload)
	require.NoError(t, err)
	oldPath := *schedule.InputFilePath

	f.schedules.updateErr = fmt.Errorf("connection reset")
	newCron := "30 7 * * 1-5"
	_, err = f.svc.Update(context.Background(), schedule.ID, model.UpdateScheduleRequest{
		CronExpression: &newCron,
	}, &AssetUpload{FileName: "v2.json", Content: strings.NewReader(`{"v":2}`)})
	require.Error(t, err)

	// The swapped-in asset must not survive, or future runs would execute
	// v2.json against a schedule row that still holds the v1 state.
	assert.Len(t, f.assets.assets, 1)
	asset, err := f.assets.FindForRun(context.Background(), core.FindAssetParams{
		ProjectID:  "p1",
		ScheduleID: &schedule.ID,
		Subtype:    model.TestSubtypePostman,
	})
	require.NoError(t, err)
	assert.Equal(t, "v1.json", asset.FileName)

	_, oldStored := f.store.files[oldPath]
	assert.True(t, oldStored, "original content must remain")
	assert.Len(t, f.store.files, 1, "staged v2 content must be discarded")
	assert.Empty(t, f.registry.replaced)

	kept, err := f.schedules.GetByID(context.Background(), schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.CronExpression, kept.CronExpression)
}

func TestScheduleUpdateWithoutUploadKeepsAsset(t *testing.T) {
	f := newGatewayFixture(t)

	upload := &AssetUpload{FileName: "v1.json", Content: strings.NewReader(`{"v":1}`)}
	schedule, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), upload)
	require.NoError(t, err)

	inactive := false
	updated, err := f.svc.Update(context.Background(), schedule.ID, model.UpdateScheduleRequest{
		IsActive: &inactive,
	}, nil)
	require.NoError(t, err)

	assert.False(t, updated.IsActive)
	assert.Equal(t, *schedule.InputFilePath, *updated.InputFilePath)
	assert.Len(t, f.assets.assets, 1)
}

func TestScheduleDeleteRemovesRowAssetAndJob(t *testing.T) {
	f := newGatewayFixture(t)

	upload := &AssetUpload{FileName: "v1.json", Content: strings.NewReader(`{"v":1}`)}
	schedule, err := f.svc.Create(context.Background(), createReq(model.TestSubtypePostman), upload)
	require.NoError(t, err)

	ok, err := f.svc.Delete(context.Background(), schedule.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Empty(t, f.schedules.schedules)
	assert.Empty(t, f.assets.assets)
	assert.Empty(t, f.store.files)
	assert.Equal(t, []int64{schedule.ID}, f.registry.unregistered)
}

func TestScheduleDeleteUnknownIDIsNotAnError(t *testing.T) {
	f := newGatewayFixture(t)

	ok, err := f.svc.Delete(context.Background(), 12345)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.registry.unregistered)
}
