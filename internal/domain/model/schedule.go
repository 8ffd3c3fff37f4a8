//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TestCategory is the coarse classification of a scheduled test.
type TestCategory string

const (
	TestCategoryAPI  TestCategory = "api"
	TestCategoryPerf TestCategory = "perf"
)

// Valid reports whether the category is supported.
func (c TestCategory) Valid() bool {
	switch c {
	case TestCategoryAPI, TestCategoryPerf:
		return true
	default:
		return false
	}
}

// TestSubtype selects the execution engine for a schedule or run.
type TestSubtype string

const (
	TestSubtypePostman TestSubtype = "postman"
	TestSubtypeQuick   TestSubtype = "quick"
	TestSubtypeScript  TestSubtype = "script"
)

// Valid reports whether the subtype is supported.
func (s TestSubtype) Valid() bool {
	switch s {
	case TestSubtypePostman, TestSubtypeQuick, TestSubtypeScript:
		return true
	default:
		return false
	}
}

// RequiresAsset reports whether a schedule of this subtype must carry a test
// asset. Quick tests are configured inline via the config blob.
func (s TestSubtype) RequiresAsset() bool {
	return s != TestSubtypeQuick
}

// ParseTestSubtype normalizes a subtype string and reports whether it is supported.
func ParseTestSubtype(value string) (TestSubtype, bool) {
	sub := TestSubtype(strings.ToLower(strings.TrimSpace(value)))
	if sub.Valid() {
		return sub, true
	}
	return "", false
}

const cronFieldCount = 5

// cronFieldPattern matches one field of a 5-field cron expression. Expressions
// failing this never reach the cron registry.
var cronFieldPattern = regexp.MustCompile(`^[\d*/,\-A-Za-z]+$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronExpression checks that expr tokenizes into exactly 5
// whitespace-separated fields with the allowed character set and parses as a
// standard cron expression.
func ValidateCronExpression(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != cronFieldCount {
		return errors.New("cron expression must have exactly 5 fields (minute hour day-of-month month day-of-week)")
	}
	for _, f := range fields {
		if !cronFieldPattern.MatchString(f) {
			return errors.New("cron expression contains invalid characters")
		}
	}
	if _, err := cronParser.Parse(strings.Join(fields, " ")); err != nil {
		return errors.New("cron expression does not parse: " + err.Error())
	}
	return nil
}

// Schedule is a persisted recurring-test definition.
type Schedule struct {
	ID             int64           `json:"id"                        db:"id"`
	UserID         string          `json:"user_id"                   db:"user_id"`
	ProjectID      string          `json:"project_id"                db:"project_id"`
	Category       TestCategory    `json:"category"                  db:"category"`
	Subtype        TestSubtype     `json:"subtype"                   db:"subtype"`
	CronExpression string          `json:"cron_expression"           db:"cron_expression"`
	EmailTo        string          `json:"email_to"                  db:"email_to"`
	Config         json.RawMessage `json:"config"                    db:"config"`
	IsActive       bool            `json:"is_active"                 db:"is_active"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"     db:"last_run_at"`
	InputFilePath  *string         `json:"input_file_path,omitempty" db:"input_file_path"`
	CreatedAt      time.Time       `json:"created_at"                db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                db:"updated_at"`
}

// HasEmail reports whether the schedule has a notification target configured.
func (s *Schedule) HasEmail() bool {
	return strings.TrimSpace(s.EmailTo) != ""
}

// CreateScheduleRequest represents parameters to create a Schedule.
type CreateScheduleRequest struct {
	UserID         string          `json:"user_id"`
	ProjectID      string          `json:"project_id"`
	Category       TestCategory    `json:"category"`
	Subtype        TestSubtype     `json:"subtype"`
	CronExpression string          `json:"cron_expression"`
	EmailTo        string          `json:"email_to,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	IsActive       *bool           `json:"is_active,omitempty"`
	InputFilePath  *string         `json:"input_file_path,omitempty"`
}

// Validate validates CreateScheduleRequest.
func (r *CreateScheduleRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project_id is required")
	}
	if !r.Category.Valid() {
		return errors.New("category must be one of: api, perf")
	}
	if !r.Subtype.Valid() {
		return errors.New("subtype must be one of: postman, quick, script")
	}
	if err := ValidateCronExpression(r.CronExpression); err != nil {
		return err
	}
	if err := validateEmail(r.EmailTo); err != nil {
		return err
	}
	if r.Subtype.RequiresAsset() && (r.InputFilePath == nil || strings.TrimSpace(*r.InputFilePath) == "") {
		return errors.New("a test asset is required for subtype " + string(r.Subtype))
	}
	if len(r.Config) > 0 && !json.Valid(r.Config) {
		return errors.New("config must be valid JSON")
	}
	return nil
}

// UpdateScheduleRequest represents parameters to update a Schedule.
// Nil fields are left unchanged.
type UpdateScheduleRequest struct {
	CronExpression *string         `json:"cron_expression,omitempty"`
	EmailTo        *string         `json:"email_to,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	IsActive       *bool           `json:"is_active,omitempty"`
	InputFilePath  *string         `json:"input_file_path,omitempty"`
}

// Validate validates UpdateScheduleRequest.
func (r *UpdateScheduleRequest) Validate() error {
	if r.CronExpression != nil {
		if err := ValidateCronExpression(*r.CronExpression); err != nil {
			return err
		}
	}
	if r.EmailTo != nil {
		if err := validateEmail(*r.EmailTo); err != nil {
			return err
		}
	}
	if len(r.Config) > 0 && !json.Valid(r.Config) {
		return errors.New("config must be valid JSON")
	}
	return nil
}

func validateEmail(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil // notification email is optional
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return errors.New("email_to is not a valid address")
	}
	return nil
}
