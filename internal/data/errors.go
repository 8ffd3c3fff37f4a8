package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrProjectNotFound is returned when a project is not found.
	ErrProjectNotFound = errors.New("project not found")
	// ErrProjectNameExists is returned when creating/updating a project with a duplicate name.
	ErrProjectNameExists = errors.New("project name already exists")

	// ErrScheduleNotFound is returned when a schedule is not found.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrAssetNotFound is returned when a test asset is not found.
	ErrAssetNotFound = errors.New("test asset not found")

	// ErrTestRunNotFound is returned when a test run is not found.
	ErrTestRunNotFound = errors.New("test run not found")
)
