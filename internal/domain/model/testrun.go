package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of one test execution.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
)

// Valid reports whether the run status is supported.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusPassed, RunStatusFailed:
		return true
	default:
		return false
	}
}

// TestRun is one concrete execution of a test, ad hoc or schedule-triggered.
type TestRun struct {
	ID                  int64           `json:"id"                               db:"id"`
	ProjectID           string          `json:"project_id"                       db:"project_id"`
	ScheduleID          *int64          `json:"schedule_id,omitempty"            db:"schedule_id"`
	Subtype             TestSubtype     `json:"subtype"                          db:"subtype"`
	Status              RunStatus       `json:"status"                           db:"status"`
	Summary             json.RawMessage `json:"summary"                          db:"summary"`
	SummaryArtifactPath *string         `json:"summary_artifact_path,omitempty"  db:"summary_artifact_path"`
	RawResultPath       *string         `json:"raw_result_path,omitempty"        db:"raw_result_path"`
	ErrorMessage        *string         `json:"error_message,omitempty"          db:"error_message"`
	StartedAt           time.Time       `json:"started_at"                       db:"started_at"`
	FinishedAt          *time.Time      `json:"finished_at,omitempty"            db:"finished_at"`
}

// TestRunResult is one structured detail row of a run (one request, one check,
// one k6 metric sample group).
type TestRunResult struct {
	ID           int64           `json:"id"                      db:"id"`
	RunID        int64           `json:"run_id"                  db:"run_id"`
	Name         string          `json:"name"                    db:"name"`
	Status       RunStatus       `json:"status"                  db:"status"`
	LatencyMS    *float64        `json:"latency_ms,omitempty"    db:"latency_ms"`
	ResponseCode *int            `json:"response_code,omitempty" db:"response_code"`
	ErrorText    *string         `json:"error_text,omitempty"    db:"error_text"`
	Extra        json.RawMessage `json:"extra,omitempty"         db:"extra"`
}

// TestRunDetail bundles everything the report pipeline needs for one run.
// A nil Run means the execution was not found.
type TestRunDetail struct {
	Run         *TestRun        `json:"test_run"`
	ProjectName string          `json:"project_name"`
	Summary     json.RawMessage `json:"summary"`
	Details     []TestRunResult `json:"details"`
	RawResult   json.RawMessage `json:"raw_result"`
}

// CreateTestRunRequest represents parameters to start a run.
type CreateTestRunRequest struct {
	ProjectID  string
	ScheduleID *int64
	Subtype    TestSubtype
}

// Validate validates CreateTestRunRequest.
func (r *CreateTestRunRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project_id is required")
	}
	if !r.Subtype.Valid() {
		return errors.New("subtype must be one of: postman, quick, script")
	}
	return nil
}

// FinishTestRunRequest carries the terminal state of a run recorded by an engine.
type FinishTestRunRequest struct {
	RunID               int64
	Status              RunStatus
	Summary             json.RawMessage
	SummaryArtifactPath *string
	RawResultPath       *string
	ErrorMessage        *string
	Details             []TestRunResult
}

// Validate validates FinishTestRunRequest.
func (r *FinishTestRunRequest) Validate() error {
	if r.RunID <= 0 {
		return errors.New("run_id is required")
	}
	if r.Status != RunStatusPassed && r.Status != RunStatusFailed {
		return errors.New("finish status must be passed or failed")
	}
	return nil
}
