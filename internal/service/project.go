package service

import (
	"context"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// ProjectServiceOptions groups dependencies for ProjectService.
type ProjectServiceOptions struct {
	Repo core.ProjectRepository
}

// ProjectService orchestrates project CRUD.
type ProjectService struct {
	projects core.ProjectRepository
}

// NewProjectService constructs a new ProjectService.
func NewProjectService(opts ProjectServiceOptions) *ProjectService {
	return &ProjectService{projects: opts.Repo}
}

// Create creates a project.
func (s *ProjectService) Create(ctx context.Context, req *model.CreateProjectRequest) (*model.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.projects.Create(ctx, req)
}

// GetByID retrieves a project by ID.
func (s *ProjectService) GetByID(ctx context.Context, id string) (*model.Project, error) {
	return s.projects.GetByID(ctx, id)
}

// List returns a page of projects.
func (s *ProjectService) List(ctx context.Context, limit, offset int) ([]*model.Project, error) {
	return s.projects.List(ctx, limit, offset)
}

// Update updates a project.
func (s *ProjectService) Update(ctx context.Context, id string, req model.UpdateProjectRequest) (*model.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.projects.Update(ctx, id, req)
}

// Delete deletes a project.
func (s *ProjectService) Delete(ctx context.Context, id string) (bool, error) {
	return s.projects.Delete(ctx, id)
}
