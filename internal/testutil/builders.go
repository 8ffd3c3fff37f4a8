// Package testutil provides testing utilities and helpers for the perfdeck test platform.
package testutil

import (
	"encoding/json"

	"github.com/perfdeck/perfdeck/internal/domain/model"
)

// ProjectRequestBuilder provides a fluent interface for building CreateProjectRequest objects for testing.
type ProjectRequestBuilder struct {
	req *model.CreateProjectRequest
}

// NewProjectRequest creates a new ProjectRequestBuilder with sensible defaults.
func NewProjectRequest() *ProjectRequestBuilder {
	return &ProjectRequestBuilder{
		req: &model.CreateProjectRequest{
			Name:    "checkout-api",
			BaseURL: "https://checkout.example.com",
		},
	}
}

// WithName sets the project name.
func (b *ProjectRequestBuilder) WithName(name string) *ProjectRequestBuilder {
	b.req.Name = name
	return b
}

// WithDescription sets the project description.
func (b *ProjectRequestBuilder) WithDescription(description string) *ProjectRequestBuilder {
	b.req.Description = &description
	return b
}

// WithBaseURL sets the project base URL.
func (b *ProjectRequestBuilder) WithBaseURL(baseURL string) *ProjectRequestBuilder {
	b.req.BaseURL = baseURL
	return b
}

// Build returns the constructed request.
func (b *ProjectRequestBuilder) Build() *model.CreateProjectRequest {
	return b.req
}

// ScheduleRequestBuilder provides a fluent interface for building CreateScheduleRequest objects for testing.
type ScheduleRequestBuilder struct {
	req *model.CreateScheduleRequest
}

// NewScheduleRequest creates a new ScheduleRequestBuilder with sensible defaults.
// A project ID must always be supplied since schedules cannot exist without one.
func NewScheduleRequest(projectID string) *ScheduleRequestBuilder {
	return &ScheduleRequestBuilder{
		req: &model.CreateScheduleRequest{
			UserID:         "tester",
			ProjectID:      projectID,
			Category:       model.TestCategoryAPI,
			Subtype:        model.TestSubtypeQuick,
			CronExpression: "0 6 * * *",
		},
	}
}

// WithUserID sets the owning user.
func (b *ScheduleRequestBuilder) WithUserID(userID string) *ScheduleRequestBuilder {
	b.req.UserID = userID
	return b
}

// WithCategory sets the test category.
func (b *ScheduleRequestBuilder) WithCategory(category model.TestCategory) *ScheduleRequestBuilder {
	b.req.Category = category
	return b
}

// WithSubtype sets the test subtype.
func (b *ScheduleRequestBuilder) WithSubtype(subtype model.TestSubtype) *ScheduleRequestBuilder {
	b.req.Subtype = subtype
	return b
}

// WithCron sets the cron expression.
func (b *ScheduleRequestBuilder) WithCron(expr string) *ScheduleRequestBuilder {
	b.req.CronExpression = expr
	return b
}

// WithEmailTo sets the notification address.
func (b *ScheduleRequestBuilder) WithEmailTo(email string) *ScheduleRequestBuilder {
	b.req.EmailTo = email
	return b
}

// WithConfig sets the schedule config payload.
func (b *ScheduleRequestBuilder) WithConfig(config json.RawMessage) *ScheduleRequestBuilder {
	b.req.Config = config
	return b
}

// WithConfigString sets the schedule config payload from a string.
func (b *ScheduleRequestBuilder) WithConfigString(config string) *ScheduleRequestBuilder {
	b.req.Config = json.RawMessage(config)
	return b
}

// WithActive sets the active flag.
func (b *ScheduleRequestBuilder) WithActive(active bool) *ScheduleRequestBuilder {
	b.req.IsActive = &active
	return b
}

// WithInputFilePath sets the stored asset path.
func (b *ScheduleRequestBuilder) WithInputFilePath(path string) *ScheduleRequestBuilder {
	b.req.InputFilePath = &path
	return b
}

// Build returns the constructed request.
func (b *ScheduleRequestBuilder) Build() *model.CreateScheduleRequest {
	return b.req
}

// AssetRequestBuilder provides a fluent interface for building CreateTestAssetRequest objects for testing.
type AssetRequestBuilder struct {
	req *model.CreateTestAssetRequest
}

// NewAssetRequest creates a new AssetRequestBuilder with sensible defaults.
func NewAssetRequest(projectID string) *AssetRequestBuilder {
	return &AssetRequestBuilder{
		req: &model.CreateTestAssetRequest{
			ProjectID:   projectID,
			Subtype:     model.TestSubtypePostman,
			FileName:    "collection.json",
			StoragePath: "assets/collection.json",
			SizeBytes:   128,
		},
	}
}

// WithScheduleID binds the asset to a schedule.
func (b *AssetRequestBuilder) WithScheduleID(id int64) *AssetRequestBuilder {
	b.req.ScheduleID = &id
	return b
}

// WithSubtype sets the asset subtype.
func (b *AssetRequestBuilder) WithSubtype(subtype model.TestSubtype) *AssetRequestBuilder {
	b.req.Subtype = subtype
	return b
}

// WithFileName sets the uploaded file name.
func (b *AssetRequestBuilder) WithFileName(name string) *AssetRequestBuilder {
	b.req.FileName = name
	return b
}

// WithStoragePath sets the path within the artifact store.
func (b *AssetRequestBuilder) WithStoragePath(path string) *AssetRequestBuilder {
	b.req.StoragePath = path
	return b
}

// WithSizeBytes sets the stored size.
func (b *AssetRequestBuilder) WithSizeBytes(n int64) *AssetRequestBuilder {
	b.req.SizeBytes = n
	return b
}

// Build returns the constructed request.
func (b *AssetRequestBuilder) Build() *model.CreateTestAssetRequest {
	return b.req
}
