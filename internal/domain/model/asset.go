package model

import (
	"errors"
	"strings"
	"time"
)

// maxAssetSizeBytes caps uploaded test assets (Postman collections, k6 scripts).
const maxAssetSizeBytes = 10 << 20 // 10 MiB

// TestAsset is an uploaded test definition file stored in the artifact store.
// An asset belongs to a project; when ScheduleID is set the asset is owned by
// that schedule instead of being the project default.
type TestAsset struct {
	ID          string      `json:"id"                    db:"id"`
	ProjectID   string      `json:"project_id"            db:"project_id"`
	ScheduleID  *int64      `json:"schedule_id,omitempty" db:"schedule_id"`
	Subtype     TestSubtype `json:"subtype"               db:"subtype"`
	FileName    string      `json:"file_name"             db:"file_name"`
	StoragePath string      `json:"storage_path"          db:"storage_path"`
	SizeBytes   int64       `json:"size_bytes"            db:"size_bytes"`
	CreatedAt   time.Time   `json:"created_at"            db:"created_at"`
}

// CreateTestAssetRequest represents parameters to register an uploaded asset.
type CreateTestAssetRequest struct {
	ProjectID   string
	ScheduleID  *int64
	Subtype     TestSubtype
	FileName    string
	StoragePath string
	SizeBytes   int64
}

// Validate validates CreateTestAssetRequest.
func (r *CreateTestAssetRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project_id is required")
	}
	if !r.Subtype.Valid() {
		return errors.New("subtype must be one of: postman, quick, script")
	}
	if strings.TrimSpace(r.FileName) == "" {
		return errors.New("file_name is required")
	}
	if strings.TrimSpace(r.StoragePath) == "" {
		return errors.New("storage_path is required")
	}
	if r.SizeBytes <= 0 {
		return errors.New("size_bytes must be > 0")
	}
	if r.SizeBytes > maxAssetSizeBytes {
		return errors.New("asset exceeds the 10 MiB size limit")
	}
	return nil
}
