// Package scheduler implements the cron lifecycle manager and the
// run-and-report protocol for scheduled tests.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/robfig/cron/v3"
)

// FireFunc is the callback invoked on every cron fire with a snapshot of the
// schedule as it was at registration time.
type FireFunc func(schedule *model.Schedule)

// Registry keeps the in-process cron jobs consistent with the set of active
// schedules. It owns the only mapping from schedule id to live job handle;
// all mutation goes through Register, Unregister, and Replace.
type Registry struct {
	cron   *cron.Cron
	fire   FireFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

// RegistryOptions holds the dependencies for creating a Registry.
type RegistryOptions struct {
	Fire   FireFunc
	Logger *slog.Logger
}

// NewRegistry creates a started Registry. Jobs added to it begin firing on
// their schedule immediately; there is no armed-but-not-started state.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "cron_registry")
	}
	c := cron.New()
	c.Start()
	return &Registry{
		cron:    c,
		fire:    opts.Fire,
		logger:  logger,
		entries: make(map[int64]cron.EntryID),
	}
}

// RegisterAll reads every schedule from the store and registers a cron job for
// each active one. Each registration is independent: a malformed row is
// logged and skipped, never aborting the rest.
func (r *Registry) RegisterAll(ctx context.Context, repo core.ScheduleRepository) error {
	schedules, err := repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, s := range schedules {
		if regErr := r.Register(s); regErr != nil {
			r.logger.ErrorContext(ctx, "register schedule failed",
				"schedule_id", s.ID,
				"cron", s.CronExpression,
				"error", regErr,
			)
		}
	}
	return nil
}

// Register creates and starts a cron job for the schedule. It is a no-op for
// inactive schedules. The fire callback closes over a snapshot of the
// schedule's current field values, so later row updates must go through
// Replace to take effect.
func (r *Registry) Register(schedule *model.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("schedule is required")
	}
	if !schedule.IsActive {
		return nil
	}

	spec, err := cron.ParseStandard(strings.Join(strings.Fields(schedule.CronExpression), " "))
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", schedule.CronExpression, err)
	}

	snapshot := *schedule

	r.mu.Lock()
	defer r.mu.Unlock()

	// At most one handle per schedule id: drop any stale entry first.
	if existing, ok := r.entries[schedule.ID]; ok {
		r.cron.Remove(existing)
		delete(r.entries, schedule.ID)
	}

	entryID := r.cron.Schedule(spec, cron.FuncJob(func() {
		r.fire(&snapshot)
	}))
	r.entries[schedule.ID] = entryID

	r.logger.Info("registered cron job",
		"schedule_id", schedule.ID,
		"cron", schedule.CronExpression,
		"subtype", schedule.Subtype,
	)
	return nil
}

// Unregister removes and stops the job for id if present. Unregistering an
// unknown id is a no-op, not an error. An in-flight firing triggered earlier
// is not cancelled; it runs to completion independently.
func (r *Registry) Unregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryID, ok := r.entries[id]
	if !ok {
		return
	}
	r.cron.Remove(entryID)
	delete(r.entries, id)
	r.logger.Info("unregistered cron job", "schedule_id", id)
}

// Replace re-registers the schedule so the fire callback never runs with a
// stale snapshot after an update.
func (r *Registry) Replace(schedule *model.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("schedule is required")
	}
	r.Unregister(schedule.ID)
	return r.Register(schedule)
}

// Contains reports whether a live job handle exists for id.
func (r *Registry) Contains(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of live job handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop stops the underlying cron runner and waits for in-flight fire
// callbacks started by it to return.
func (r *Registry) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
