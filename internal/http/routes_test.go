package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/engine"
	"github.com/perfdeck/perfdeck/internal/service"
)

// In-memory repositories backing a full router for handler tests.

type memProjects struct {
	mu       sync.Mutex
	nextID   int
	projects map[string]*model.Project
}

func newMemProjects() *memProjects {
	return &memProjects{nextID: 1, projects: map[string]*model.Project{}}
}

func (r *memProjects) Create(_ context.Context, req *model.CreateProjectRequest) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.Name == req.Name {
			return nil, data.ErrProjectNameExists
		}
	}
	p := &model.Project{
		ID:          fmt.Sprintf("00000000-0000-4000-8000-%012d", r.nextID),
		Name:        req.Name,
		Description: req.Description,
		BaseURL:     req.BaseURL,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.projects[p.ID] = p
	r.nextID++
	return p, nil
}

func (r *memProjects) GetByID(_ context.Context, id string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, data.ErrProjectNotFound
	}
	return p, nil
}

func (r *memProjects) List(_ context.Context, _, _ int) ([]*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	return out, nil
}

func (r *memProjects) Update(_ context.Context, id string, req model.UpdateProjectRequest) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, data.ErrProjectNotFound
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.BaseURL != nil {
		p.BaseURL = *req.BaseURL
	}
	return p, nil
}

func (r *memProjects) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return false, nil
	}
	delete(r.projects, id)
	return true, nil
}

type memSchedules struct {
	mu        sync.Mutex
	nextID    int64
	schedules map[int64]*model.Schedule
}

func newMemSchedules() *memSchedules {
	return &memSchedules{nextID: 1, schedules: map[int64]*model.Schedule{}}
}

func (r *memSchedules) Create(_ context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memSchedules) GetByID(_ context.Context, id int64) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, data.ErrScheduleNotFound
	}
	return s, nil
}

func (r *memSchedules) List(_ context.Context, _, _ int) ([]*model.Schedule, error) {
	return r.ListAll(context.Background())
}

func (r *memSchedules) ListAll(_ context.Context) ([]*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (r *memSchedules) Update(_ context.Context, id int64, req model.UpdateScheduleRequest) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, data.ErrScheduleNotFound
	}
	if req.CronExpression != nil {
		s.CronExpression = *req.CronExpression
	}
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}
	if req.InputFilePath != nil {
		s.InputFilePath = req.InputFilePath
	}
	return s, nil
}

func (r *memSchedules) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return false, nil
	}
	delete(r.schedules, id)
	return true, nil
}

func (r *memSchedules) TouchLastRun(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return data.ErrScheduleNotFound
	}
	s.LastRunAt = &at
	return nil
}

type memAssets struct {
	mu     sync.Mutex
	nextID int
	assets map[string]*model.TestAsset
}

func newMemAssets() *memAssets {
	return &memAssets{nextID: 1, assets: map[string]*model.TestAsset{}}
}

func (r *memAssets) Create(_ context.Context, req *model.CreateTestAssetRequest) (*model.TestAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memAssets) GetByID(_ context.Context, id string) (*model.TestAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, data.ErrAssetNotFound
	}
	return a, nil
}

func (r *memAssets) FindForRun(_ context.Context, params core.FindAssetParams) (*model.TestAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memAssets) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[id]; !ok {
		return false, nil
	}
	delete(r.assets, id)
	return true, nil
}

type memRuns struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]*model.TestRun
}

func newMemRuns() *memRuns {
	return &memRuns{nextID: 1, runs: map[int64]*model.TestRun{}}
}

func (r *memRuns) Create(_ context.Context, req *model.CreateTestRunRequest) (*model.TestRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := &model.TestRun{
		ID:         r.nextID,
		ProjectID:  req.ProjectID,
		ScheduleID: req.ScheduleID,
		Subtype:    req.Subtype,
		Status:     model.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	r.runs[run.ID] = run
	r.nextID++
	return run, nil
}

func (r *memRuns) GetByID(_ context.Context, id int64) (*model.TestRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, data.ErrTestRunNotFound
	}
	return run, nil
}

func (r *memRuns) Detail(_ context.Context, id int64) (*model.TestRunDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return &model.TestRunDetail{}, nil
	}
	return &model.TestRunDetail{Run: run, ProjectName: "checkout", Summary: run.Summary}, nil
}

func (r *memRuns) Finish(_ context.Context, req *model.FinishTestRunRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[req.RunID]
	if !ok {
		return data.ErrTestRunNotFound
	}
	run.Status = req.Status
	run.Summary = req.Summary
	run.SummaryArtifactPath = req.SummaryArtifactPath
	run.RawResultPath = req.RawResultPath
	return nil
}

func (r *memRuns) ListByProject(_ context.Context, projectID string, _, _ int) ([]*model.TestRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TestRun
	for _, run := range r.runs {
		if run.ProjectID == projectID {
			out = append(out, run)
		}
	}
	return out, nil
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}}
}

func (s *memStore) Save(_ context.Context, dir, name string, content io.Reader) (string, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := dir + "/" + name
	s.files[path] = b
	return path, nil
}

func (s *memStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok, nil
}

func (s *memStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

type noopRegistry struct{}

func (noopRegistry) Register(*model.Schedule) error { return nil }
func (noopRegistry) Unregister(int64)               {}
func (noopRegistry) Replace(*model.Schedule) error  { return nil }

type stubEngine struct {
	res *engine.Result
}

func (e *stubEngine) Run(_ context.Context, _ *engine.Job) (*engine.Result, error) {
	return e.res, nil
}

type apiFixture struct {
	server   *httptest.Server
	projects *memProjects
	runs     *memRuns
	store    *memStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	projects := newMemProjects()
	schedules := newMemSchedules()
	assets := newMemAssets()
	runs := newMemRuns()
	store := newMemStore()

	assetSvc := service.NewAssetService(service.AssetServiceOptions{
		Repo: assets, Store: store, Logger: logger,
	})
	reportSvc, err := service.NewReportService(service.ReportServiceOptions{Store: store, Logger: logger})
	require.NoError(t, err)

	passing := &stubEngine{res: &engine.Result{
		Status:  model.RunStatusPassed,
		Summary: json.RawMessage(`{"total":1,"failed":0}`),
		Details: []model.TestRunResult{{Name: "health", Status: model.RunStatusPassed}},
		Raw:     []byte(`{}`),
	}}
	runSvc := service.NewTestRunService(service.TestRunServiceOptions{
		Runs:      runs,
		Projects:  projects,
		Schedules: schedules,
		Assets:    assetSvc,
		Quick:     passing,
		Exec:      passing,
		Completer: engine.NewCompleter(runs, store, logger),
		Logger:    logger,
	})

	router := NewRouter(RouterServices{
		Projects: service.NewProjectService(service.ProjectServiceOptions{Repo: projects}),
		Schedules: service.NewScheduleService(service.ScheduleServiceOptions{
			Repo: schedules, Assets: assetSvc, Registry: noopRegistry{}, Logger: logger,
		}),
		Assets:  assetSvc,
		Runs:    runSvc,
		Reports: reportSvc,
		Logger:  logger,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiFixture{server: server, projects: projects, runs: runs, store: store}
}

func (f *apiFixture) createProject(t *testing.T, name string) *model.Project {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"base_url":"http://sut.example.com"}`, name)
	resp, err := http.Post(f.server.URL+"/api/v1/projects", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var project model.Project
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&project))
	return &project
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestProjectLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	resp, err := http.Get(f.server.URL + "/api/v1/projects/" + project.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Duplicate name conflicts.
	body := `{"name":"checkout","base_url":"http://other.example.com"}`
	resp, err = http.Post(f.server.URL+"/api/v1/projects", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown id is 404.
	resp, err = http.Get(f.server.URL + "/api/v1/projects/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectCreateValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/projects", "application/json",
		strings.NewReader(`{"name":"","base_url":"not-a-url"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func multipartSchedule(t *testing.T, scheduleJSON string, fileName string, fileBody string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("schedule", scheduleJSON))
	if fileName != "" {
		fw, err := mw.CreateFormFile("asset", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(fileBody))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestScheduleCreateMultipart(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	scheduleJSON := fmt.Sprintf(`{
		"user_id": "u1",
		"project_id": %q,
		"category": "api",
		"subtype": "postman",
		"cron_expression": "0 6 * * *",
		"email_to": "qa@example.com"
	}`, project.ID)
	body, contentType := multipartSchedule(t, scheduleJSON, "collection.json", `{"info":{}}`)

	resp, err := http.Post(f.server.URL+"/api/v1/schedules", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var schedule model.Schedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&schedule))
	require.NotNil(t, schedule.InputFilePath)

	// The uploaded content landed in the store.
	data, ok := f.store.files[*schedule.InputFilePath]
	require.True(t, ok)
	assert.JSONEq(t, `{"info":{}}`, string(data))
}

func TestScheduleCreateJSONQuick(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	body := fmt.Sprintf(`{
		"user_id": "u1",
		"project_id": %q,
		"category": "api",
		"subtype": "quick",
		"cron_expression": "*/10 * * * *",
		"config": {"requests":[{"path":"/health"}]}
	}`, project.ID)
	resp, err := http.Post(f.server.URL+"/api/v1/schedules", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestScheduleCreateRejectsBadCron(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	body := fmt.Sprintf(`{
		"user_id": "u1",
		"project_id": %q,
		"category": "api",
		"subtype": "quick",
		"cron_expression": "0 6 * *"
	}`, project.ID)
	resp, err := http.Post(f.server.URL+"/api/v1/schedules", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartRunReturnsRunID(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	resp, err := http.Post(
		f.server.URL+"/api/v1/runs/quick/"+project.ID,
		"application/json",
		strings.NewReader(`{"requests":[{"path":"/health"}]}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var res core.InvokeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, int64(1), res.TestRunID)

	// Detail becomes available once the background completion lands.
	require.Eventually(t, func() bool {
		run, getErr := f.runs.GetByID(context.Background(), res.TestRunID)
		return getErr == nil && run.Status == model.RunStatusPassed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartRunUnknownSubtypeIs400(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	resp, err := http.Post(f.server.URL+"/api/v1/runs/soak/"+project.ID, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartRunMissingAssetIs422(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject(t, "checkout")

	resp, err := http.Post(f.server.URL+"/api/v1/runs/postman/"+project.ID, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRunDetailNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/api/v1/runs/999/detail")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
