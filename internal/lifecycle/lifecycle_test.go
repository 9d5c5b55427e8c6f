package lifecycle

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsched/internal/database"
	"roomsched/internal/lock"
	"roomsched/internal/models"
	"roomsched/internal/notify"
	"roomsched/internal/schedule"
)

var ict = time.FixedZone("ICT", 7*3600)

func at(h, m int) time.Time {
	return time.Date(2030, 6, 1, h, m, 0, 0, ict)
}

func ptr(t time.Time) *time.Time { return &t }

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type testEnv struct {
	db     *database.DB
	mr     *miniredis.Miniredis
	client *redis.Client
	locker *lock.BookingLocker
	svc    *schedule.Service
	pub    *recorder
	deps   Deps
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.SyncRooms(context.Background(), []models.Room{
		{ID: 1, Name: "S1", Size: models.SizeSmall, Priority: 1, IsActive: true},
		{ID: 2, Name: "M1", Size: models.SizeMedium, Priority: 1, IsActive: true},
		{ID: 3, Name: "L1", Size: models.SizeLarge, Priority: 1, IsActive: true},
	}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.NewBookingLocker(lock.NewLocalLocker(time.Minute), lock.NewRedisLocker(client, time.Minute),
		lock.PolicyFailClosed, time.Minute, &logger)
	pub := &recorder{}
	clock := func() time.Time { return now }
	svc := schedule.NewService(db, locker, pub, schedule.Options{Location: ict, Now: clock}, &logger)

	return &testEnv{
		db: db, mr: mr, client: client, locker: locker, svc: svc, pub: pub,
		deps: Deps{
			Store:     db,
			Locker:    locker,
			Converter: svc,
			Publisher: pub,
			Cleaner:   notify.NewSessionCleaner(client),
			Location:  ict,
			Now:       clock,
			Logger:    &logger,
		},
	}
}

func (e *testEnv) booking(t *testing.T, size models.RoomSize, slots ...string) *models.Booking {
	t.Helper()
	b := &models.Booking{ID: uuid.NewString(), CustomerName: "Minh", CustomerPhone: "0901234567",
		Size: size, Date: "2030-06-01", Slots: slots}
	require.NoError(t, e.db.CreateBooking(context.Background(), b))
	return b
}

func (e *testEnv) reservation(t *testing.T, r models.Reservation) *models.Reservation {
	t.Helper()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.StatusBooked
	}
	require.NoError(t, e.db.InsertReservation(context.Background(), &r, models.NonBlockingStatuses))
	return &r
}

func (e *testEnv) status(t *testing.T, id string) models.ReservationStatus {
	t.Helper()
	r, err := e.db.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

func outcomes(rep *Report) map[string]string {
	out := make(map[string]string, len(rep.Items))
	for _, it := range rep.Items {
		out[it.ID] = it.Outcome
	}
	return out
}

func TestDayBoundary(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		hour     int
		wantNext time.Time
	}{
		{"midnight boundary", at(23, 59), 0, time.Date(2030, 6, 2, 0, 0, 0, 0, ict)},
		{"early morning", at(1, 0), 0, time.Date(2030, 6, 2, 0, 0, 0, 0, ict)},
		{"late boundary before it", at(3, 59), 4, at(4, 0)},
		{"late boundary after it", at(4, 0), 4, time.Date(2030, 6, 2, 4, 0, 0, 0, ict)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, NextDayBoundary(tt.now, ict, tt.hour).Equal(tt.wantNext))
		})
	}

	h, m := DailyTriggerTime(0)
	assert.Equal(t, []int{23, 59}, []int{h, m})
	h, m = DailyTriggerTime(4)
	assert.Equal(t, []int{3, 59}, []int{h, m})
}

type countingJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) (*Report, error) {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return newReport(j.name, time.Now()), nil
}

func TestScheduler_RunNow(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(ict, &logger)
	job := &countingJob{name: "count", block: make(chan struct{})}
	s.Every(job, time.Hour)

	_, err := s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)

	done := make(chan struct{})
	go func() {
		defer close(done)
		rep, err := s.RunNow(context.Background(), "count")
		assert.NoError(t, err)
		assert.Equal(t, "count", rep.Job)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.RunNow(context.Background(), "count")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	<-done
	assert.Equal(t, []string{"count"}, s.Jobs())
}

func TestScheduler_EveryAndStop(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(ict, &logger)
	job := &countingJob{name: "tick"}
	s.Every(job, 10*time.Millisecond)

	s.Start(context.Background())
	assert.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	n := job.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, job.runs.Load())
}

func TestScheduler_DailyOncePerDate(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(ict, &logger)
	now := at(23, 58)
	s.now = func() time.Time { return now }
	s.Daily(&countingJob{name: "daily"}, 23, 59)
	e := s.entries["daily"]

	assert.False(t, s.dueToday(e))
	now = at(23, 59)
	assert.True(t, s.dueToday(e))
	now = at(23, 59).Add(30 * time.Second)
	assert.False(t, s.dueToday(e), "already ran today")
	now = at(23, 59).AddDate(0, 0, 1)
	assert.True(t, s.dueToday(e))
}

func TestPendingSweep(t *testing.T) {
	env := newTestEnv(t, at(18, 0))
	ctx := context.Background()

	ok := env.booking(t, models.SizeSmall, "20:00-21:00")
	locked := env.booking(t, models.SizeSmall, "22:00-23:00")
	// Only the large room is left and it is taken.
	env.reservation(t, models.Reservation{RoomID: 3, Start: at(19, 0), End: ptr(at(23, 0))})
	full := env.booking(t, models.SizeLarge, "20:00-21:00")

	lease, err := env.locker.Acquire(ctx, locked.ID)
	require.NoError(t, err)
	require.NotNil(t, lease)
	defer func() { _ = lease.Release(ctx) }()

	rep, err := NewPendingSweep(env.deps, time.Second, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Skipped)
	got := outcomes(rep)
	assert.Equal(t, OutcomeSuccess, got[ok.ID])
	assert.Equal(t, OutcomeSkippedLocked, got[locked.ID])
	assert.Equal(t, OutcomeFailed, got[full.ID])

	b, err := env.db.GetBooking(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)

	b, err = env.db.GetBooking(ctx, full.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, b.Status)
}

func TestPendingSweep_LockStoreDown(t *testing.T) {
	env := newTestEnv(t, at(18, 0))
	env.booking(t, models.SizeSmall, "20:00-21:00")
	env.booking(t, models.SizeSmall, "21:00-22:00")
	env.mr.Close()

	rep, err := NewPendingSweep(env.deps, time.Second, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed, "every booking is attempted")
}

func TestPendingSweep_LeavesLeftoversToReconcile(t *testing.T) {
	env := newTestEnv(t, at(18, 0))
	ctx := context.Background()

	b := env.booking(t, models.SizeSmall, "19:00-20:00")
	leftover := env.reservation(t, models.Reservation{RoomID: 1, BookingID: b.ID, Start: at(19, 0), End: ptr(at(20, 0))})

	rep, err := NewPendingSweep(env.deps, time.Second, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcomes(rep)[b.ID])

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, got.Status)
	upgraded, err := env.db.ListReservations(ctx, database.ReservationFilter{RoomID: 2})
	require.NoError(t, err)
	assert.Empty(t, upgraded, "no second conversion")

	rep, err = NewReconcile(env.deps, 5*time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcomes(rep)[b.ID])

	got, err = env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, []string{leftover.ID}, got.ReservationIDs)
}

func TestAutoCancel(t *testing.T) {
	env := newTestEnv(t, at(20, 0))
	ctx := context.Background()

	noShow := env.reservation(t, models.Reservation{RoomID: 1, Start: at(19, 30), End: ptr(at(19, 45))})
	atGrace := env.reservation(t, models.Reservation{RoomID: 1, Start: at(19, 45), End: ptr(at(20, 45))})
	withinGrace := env.reservation(t, models.Reservation{RoomID: 2, Start: at(19, 50), End: ptr(at(21, 0))})
	inUse := env.reservation(t, models.Reservation{RoomID: 3, Start: at(19, 0), End: ptr(at(21, 0)), Status: models.StatusInUse})

	rep, err := NewAutoCancel(env.deps, 15*time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	assert.Equal(t, models.StatusCancelled, env.status(t, noShow.ID))
	assert.Equal(t, models.StatusBooked, env.status(t, atGrace.ID), "exactly the grace period is not yet a no-show")
	assert.Equal(t, models.StatusBooked, env.status(t, withinGrace.ID))
	assert.Equal(t, models.StatusInUse, env.status(t, inUse.ID))

	r, err := env.db.GetReservation(ctx, noShow.ID)
	require.NoError(t, err)
	assert.Equal(t, "system:auto-cancel", r.UpdatedBy)

	rep, err = NewAutoCancel(env.deps, 15*time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Total, "idempotent")
}

func TestAutoFinish(t *testing.T) {
	env := newTestEnv(t, at(23, 59))
	ctx := context.Background()

	booked := env.reservation(t, models.Reservation{RoomID: 1, Start: at(21, 0), End: ptr(at(22, 0))})
	walkIn := env.reservation(t, models.Reservation{RoomID: 2, Start: at(22, 0), Status: models.StatusInUse})
	maint := env.reservation(t, models.Reservation{RoomID: 3, Start: at(10, 0), End: ptr(at(12, 0)), Status: models.StatusMaintenance})
	cancelled := env.reservation(t, models.Reservation{RoomID: 1, Start: at(22, 0), End: ptr(at(23, 0)), Status: models.StatusCancelled})
	tomorrow := env.reservation(t, models.Reservation{RoomID: 3, Start: at(10, 0).AddDate(0, 0, 1), End: ptr(at(11, 0).AddDate(0, 0, 1))})

	for _, key := range notify.SessionKeys(2) {
		require.NoError(t, env.mr.Set(key, "x"))
	}

	rep, err := NewAutoFinish(env.deps, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Succeeded)

	assert.Equal(t, models.StatusFinished, env.status(t, booked.ID))
	assert.Equal(t, models.StatusFinished, env.status(t, walkIn.ID))
	assert.Equal(t, models.StatusFinished, env.status(t, maint.ID))
	assert.Equal(t, models.StatusCancelled, env.status(t, cancelled.ID))
	assert.Equal(t, models.StatusBooked, env.status(t, tomorrow.ID))

	for _, key := range notify.SessionKeys(2) {
		assert.False(t, env.mr.Exists(key))
	}
}

func TestReconcile_CommitsCompleteBooking(t *testing.T) {
	env := newTestEnv(t, at(18, 0))
	ctx := context.Background()

	b := env.booking(t, models.SizeSmall, "20:00-21:00", "19:00-20:00")
	first := env.reservation(t, models.Reservation{RoomID: 1, BookingID: b.ID, Start: at(19, 0), End: ptr(at(20, 0))})
	second := env.reservation(t, models.Reservation{RoomID: 1, BookingID: b.ID, Start: at(20, 0), End: ptr(at(21, 0))})

	rep, err := NewReconcile(env.deps, 5*time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcomes(rep)[b.ID])

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, []string{first.ID, second.ID}, got.ReservationIDs)
}

func TestReconcile_RollsBackIncompleteBooking(t *testing.T) {
	env := newTestEnv(t, at(18, 0))
	ctx := context.Background()

	b := env.booking(t, models.SizeSmall, "19:00-20:00", "20:00-21:00")
	only := env.reservation(t, models.Reservation{RoomID: 1, BookingID: b.ID, Start: at(19, 0), End: ptr(at(20, 0))})

	rep, err := NewReconcile(env.deps, 5*time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRolledBack, outcomes(rep)[b.ID])
	assert.Equal(t, models.StatusCancelled, env.status(t, only.ID))

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, got.Status, "left for the sweep")

	// The sweep can now convert it cleanly.
	_, err = NewPendingSweep(env.deps, time.Second, 0).Run(ctx)
	require.NoError(t, err)
	got, err = env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Len(t, got.ReservationIDs, 2)
}

func TestReconcile_RespectsGraceAndLock(t *testing.T) {
	now := at(18, 0)
	env := newTestEnv(t, now)
	ctx := context.Background()

	fresh := env.booking(t, models.SizeSmall, "19:00-20:00")
	env.reservation(t, models.Reservation{RoomID: 1, BookingID: fresh.ID, Start: at(19, 0), End: ptr(at(20, 0)), CreatedAt: now.Add(-time.Minute)})

	locked := env.booking(t, models.SizeMedium, "19:00-20:00")
	env.reservation(t, models.Reservation{RoomID: 2, BookingID: locked.ID, Start: at(19, 0), End: ptr(at(20, 0))})
	lease, err := env.locker.Acquire(ctx, locked.ID)
	require.NoError(t, err)
	require.NotNil(t, lease)
	defer func() { _ = lease.Release(ctx) }()

	rep, err := NewReconcile(env.deps, 5*time.Minute).Run(ctx)
	require.NoError(t, err)

	got := outcomes(rep)
	assert.NotContains(t, got, fresh.ID, "inside grace period")
	assert.Equal(t, OutcomeSkippedLocked, got[locked.ID])
}

func TestReconcile_SettledBookingLeftovers(t *testing.T) {
	env := newTestEnv(t, at(18, 0))
	ctx := context.Background()

	cancelled := env.booking(t, models.SizeSmall, "19:00-20:00")
	stale := env.reservation(t, models.Reservation{RoomID: 1, BookingID: cancelled.ID, Start: at(19, 0), End: ptr(at(20, 0))})
	ok, err := env.db.CancelBooking(ctx, cancelled.ID, at(18, 0))
	require.NoError(t, err)
	require.True(t, ok)

	confirmed := env.booking(t, models.SizeMedium, "19:00-20:00")
	owned := env.reservation(t, models.Reservation{RoomID: 2, BookingID: confirmed.ID, Start: at(19, 0), End: ptr(at(20, 0))})
	extra := env.reservation(t, models.Reservation{RoomID: 3, BookingID: confirmed.ID, Start: at(19, 0), End: ptr(at(20, 0))})
	ok, err = env.db.ConfirmBooking(ctx, confirmed.ID, []string{owned.ID}, at(18, 0))
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := NewReconcile(env.deps, 5*time.Minute).Run(ctx)
	require.NoError(t, err)

	got := outcomes(rep)
	assert.Equal(t, OutcomeRolledBack, got[cancelled.ID])
	assert.Equal(t, OutcomeRolledBack, got[confirmed.ID])
	assert.Equal(t, models.StatusCancelled, env.status(t, stale.ID))
	assert.Equal(t, models.StatusCancelled, env.status(t, extra.ID))
	assert.Equal(t, models.StatusBooked, env.status(t, owned.ID))

	rep, err = NewReconcile(env.deps, 5*time.Minute).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Total, "nothing left to settle")
}
