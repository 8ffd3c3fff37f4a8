// Package notify defines the notification boundary of the scheduling core and
// the payloads delivered for each outcome of a scheduled firing.
package notify

import (
	"context"
	"time"
)

// Kind identifies the notification template. The three kinds are mutually
// exclusive for a single firing: the core sends at most one of them.
type Kind string

const (
	// KindRunFailure means the test invocation itself failed; no report was attempted.
	KindRunFailure Kind = "test-run-failure"
	// KindReportReady means the test ran and a report artifact was produced.
	KindReportReady Kind = "report-ready"
	// KindReportFailure means the test ran but report generation (or result
	// materialization) failed. The wording must never claim the test failed.
	KindReportFailure Kind = "report-generation-failure"
)

// ScheduleContext carries the schedule fields rendered into every message.
type ScheduleContext struct {
	ScheduleID  int64
	ProjectID   string
	ProjectName string
	Subtype     string
	Cron        string
}

// Message is one notification to deliver.
type Message struct {
	Kind       Kind
	Recipient  string
	Schedule   ScheduleContext
	Error      string // raw error text for the failure kinds
	ReportPath string // artifact path for KindReportReady
	RunID      int64
	OccurredAt time.Time
}

// Notifier delivers notifications. Delivery is best-effort: callers log errors
// and never retry or escalate them.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface (useful for tests).
type NotifierFunc func(ctx context.Context, msg Message) error

// Send implements the Notifier interface.
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}
