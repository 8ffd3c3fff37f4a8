package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

type listAllStub struct {
	core.ScheduleRepository

	schedules []*model.Schedule
	err       error
}

func (s *listAllStub) ListAll(_ context.Context) ([]*model.Schedule, error) {
	return s.schedules, s.err
}

func newTestRegistry(t *testing.T, fire FireFunc) *Registry {
	t.Helper()
	r := NewRegistry(RegistryOptions{Fire: fire, Logger: testLogger()})
	t.Cleanup(r.Stop)
	return r
}

func TestRegistryRegisterActiveSchedule(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	s := testSchedule()
	require.NoError(t, r.Register(s))

	assert.True(t, r.Contains(s.ID))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryInactiveScheduleIsNoOp(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	s := testSchedule()
	s.IsActive = false
	require.NoError(t, r.Register(s))

	assert.False(t, r.Contains(s.ID))
	assert.Zero(t, r.Len())
}

func TestRegistryRejectsMalformedCron(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	s := testSchedule()
	s.CronExpression = "not a cron"
	err := r.Register(s)

	require.Error(t, err)
	assert.False(t, r.Contains(s.ID))
}

func TestRegistryAtMostOneEntryPerSchedule(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	s := testSchedule()
	require.NoError(t, r.Register(s))
	require.NoError(t, r.Register(s))
	require.NoError(t, r.Register(s))

	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	s := testSchedule()
	require.NoError(t, r.Register(s))

	r.Unregister(s.ID)
	assert.False(t, r.Contains(s.ID))

	// Unknown and already removed ids are both no-ops.
	r.Unregister(s.ID)
	r.Unregister(99999)
	assert.Zero(t, r.Len())
}

func TestRegistryReplaceSwapsSnapshot(t *testing.T) {
	var fired []*model.Schedule
	r := newTestRegistry(t, func(s *model.Schedule) {
		fired = append(fired, s)
	})

	s := testSchedule()
	require.NoError(t, r.Register(s))

	updated := *s
	updated.EmailTo = "new-owner@example.com"
	require.NoError(t, r.Replace(&updated))

	assert.Equal(t, 1, r.Len())

	fireNow(t, r, s.ID)
	require.Len(t, fired, 1)
	assert.Equal(t, "new-owner@example.com", fired[0].EmailTo)
}

// fireNow runs the registered job for id synchronously, bypassing the cron
// clock, so tests do not wait for a real minute boundary.
func fireNow(t *testing.T, r *Registry, id int64) {
	t.Helper()
	r.mu.Lock()
	entryID, ok := r.entries[id]
	r.mu.Unlock()
	require.True(t, ok, "no entry registered for schedule %d", id)
	r.cron.Entry(entryID).Job.Run()
}

func TestRegistryReplaceWithInactiveRemovesEntry(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	s := testSchedule()
	require.NoError(t, r.Register(s))

	deactivated := *s
	deactivated.IsActive = false
	require.NoError(t, r.Replace(&deactivated))

	assert.False(t, r.Contains(s.ID))
}

func TestRegistryRegisterAllSkipsBadRows(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	good := testSchedule()
	inactive := testSchedule()
	inactive.ID = 43
	inactive.IsActive = false
	malformed := testSchedule()
	malformed.ID = 44
	malformed.CronExpression = "61 * * * *"

	repo := &listAllStub{schedules: []*model.Schedule{good, inactive, malformed}}
	require.NoError(t, r.RegisterAll(context.Background(), repo))

	assert.True(t, r.Contains(good.ID))
	assert.False(t, r.Contains(inactive.ID))
	assert.False(t, r.Contains(malformed.ID))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRegisterAllPropagatesListError(t *testing.T) {
	r := newTestRegistry(t, func(*model.Schedule) {})

	repo := &listAllStub{err: errors.New("connection reset")}
	err := r.RegisterAll(context.Background(), repo)

	require.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistryFireReceivesSnapshotNotLiveRow(t *testing.T) {
	var fired []*model.Schedule
	r := newTestRegistry(t, func(s *model.Schedule) {
		fired = append(fired, s)
	})

	s := testSchedule()
	require.NoError(t, r.Register(s))

	// Mutating the original row must not leak into the registered job.
	s.EmailTo = "hijacked@example.com"

	fireNow(t, r, s.ID)
	require.Len(t, fired, 1)
	assert.Equal(t, "qa@example.com", fired[0].EmailTo)
}
