package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsched/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedRooms(t *testing.T, db *DB) {
	t.Helper()
	require.NoError(t, db.SyncRooms(context.Background(), []models.Room{
		{ID: 1, Name: "S1", Size: models.SizeSmall, Priority: 2, IsActive: true},
		{ID: 2, Name: "S2", Size: models.SizeSmall, Priority: 1, IsActive: true},
		{ID: 3, Name: "S3", Size: models.SizeSmall, Priority: 1, IsActive: true, Locked: true},
		{ID: 4, Name: "M1", Size: models.SizeMedium, Priority: 1, IsActive: true},
	}))
}

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func ptr(t time.Time) *time.Time { return &t }

func insert(t *testing.T, db *DB, roomID int64, start time.Time, end *time.Time, status models.ReservationStatus) *models.Reservation {
	t.Helper()
	r := &models.Reservation{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Start:     start,
		End:       end,
		Status:    status,
		CreatedBy: "test",
	}
	require.NoError(t, db.InsertReservation(context.Background(), r, models.NonBlockingStatuses))
	return r
}

func TestSyncRooms_UpsertAndDeactivate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	require.NoError(t, db.SyncRooms(ctx, []models.Room{
		{ID: 1, Name: "S1-renamed", Size: models.SizeSmall, Priority: 5, IsActive: true},
	}))

	room, err := db.GetRoom(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "S1-renamed", room.Name)
	assert.Equal(t, 5, room.Priority)

	room, err = db.GetRoom(ctx, 2)
	require.NoError(t, err)
	assert.False(t, room.IsActive, "rooms missing from the directory are deactivated")

	_, err = db.GetRoom(ctx, 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListAllocatableRooms_Order(t *testing.T) {
	db := newTestDB(t)
	seedRooms(t, db)

	rooms, err := db.ListAllocatableRooms(context.Background(), models.SizeSmall)
	require.NoError(t, err)
	require.Len(t, rooms, 2, "locked room is excluded")
	assert.Equal(t, int64(2), rooms[0].ID, "lower priority first")
	assert.Equal(t, int64(1), rooms[1].ID)
}

func TestCountOverlapping(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	insert(t, db, 1, at(10, 0), ptr(at(12, 0)), models.StatusBooked)
	insert(t, db, 1, at(12, 0), ptr(at(13, 0)), models.StatusCancelled)
	insert(t, db, 2, at(18, 0), nil, models.StatusInUse)

	tests := []struct {
		name   string
		room   int64
		start  time.Time
		end    *time.Time
		expect int
	}{
		{"inside", 1, at(10, 30), ptr(at(11, 0)), 1},
		{"covering", 1, at(9, 0), ptr(at(13, 0)), 1},
		{"touching end", 1, at(12, 0), ptr(at(14, 0)), 0},
		{"touching start", 1, at(8, 0), ptr(at(10, 0)), 0},
		{"open-ended candidate", 1, at(11, 59), nil, 1},
		{"open-ended candidate after", 1, at(12, 0), nil, 0},
		{"open-ended existing", 2, at(22, 0), ptr(at(23, 0)), 1},
		{"before open-ended existing", 2, at(16, 0), ptr(at(18, 0)), 0},
		{"other room", 4, at(10, 0), ptr(at(12, 0)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := db.CountOverlapping(ctx, tt.room, tt.start, tt.end, models.NonBlockingStatuses)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, n)
		})
	}

	n, err := db.CountOverlapping(ctx, 1, at(12, 0), ptr(at(13, 0)), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "cancelled rows count when nothing is excluded")
}

func TestInsertReservation_RejectsOverlap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	insert(t, db, 1, at(10, 0), ptr(at(12, 0)), models.StatusBooked)

	err := db.InsertReservation(ctx, &models.Reservation{
		ID: uuid.NewString(), RoomID: 1, Start: at(11, 0), End: ptr(at(13, 0)), Status: models.StatusBooked,
	}, models.NonBlockingStatuses)
	assert.ErrorIs(t, err, models.ErrRoomOccupied)

	list, err := db.ListReservations(ctx, ReservationFilter{RoomID: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateReservationStatus_Guarded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	r := insert(t, db, 1, at(10, 0), ptr(at(12, 0)), models.StatusBooked)

	ok, err := db.UpdateReservationStatus(ctx, r.ID, models.StatusBooked, models.StatusInUse, "staff", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.UpdateReservationStatus(ctx, r.ID, models.StatusBooked, models.StatusCancelled, "staff", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "stale expected status")

	got, err := db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInUse, got.Status)
	assert.Equal(t, "staff", got.UpdatedBy)
	assert.True(t, got.Start.Equal(r.Start))
	require.NotNil(t, got.End)
	assert.True(t, got.End.Equal(*r.End))
}

func TestListReservations_Filters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	insert(t, db, 1, at(10, 0), ptr(at(11, 0)), models.StatusBooked)
	insert(t, db, 2, at(9, 0), ptr(at(10, 0)), models.StatusInUse)
	insert(t, db, 1, day.Add(-2*time.Hour), ptr(day.Add(time.Hour)), models.StatusMaintenance)
	insert(t, db, 4, day.Add(30*time.Hour), ptr(day.Add(31*time.Hour)), models.StatusBooked)

	booked, err := db.ListReservations(ctx, ReservationFilter{Statuses: []models.ReservationStatus{models.StatusBooked}})
	require.NoError(t, err)
	assert.Len(t, booked, 2)

	before, err := db.ListReservations(ctx, ReservationFilter{StartBefore: ptr(at(9, 30))})
	require.NoError(t, err)
	assert.Len(t, before, 2)

	dayEnd := day.Add(24 * time.Hour)
	onDay, err := db.ListReservations(ctx, ReservationFilter{OverlapFrom: &day, OverlapTo: &dayEnd})
	require.NoError(t, err)
	assert.Len(t, onDay, 3, "includes the entry spilling over midnight")
}

func TestBookings_ConfirmOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b := &models.Booking{
		ID:            uuid.NewString(),
		CustomerName:  "Lan",
		CustomerPhone: "0901",
		Size:          models.SizeSmall,
		Date:          "2025-03-10",
		Slots:         []string{"10:00-11:00", "11:00-12:00"},
	}
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.Equal(t, models.BookingPending, b.Status)

	pending, err := db.ListBookingsByStatus(ctx, models.BookingPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.Slots, pending[0].Slots)
	assert.Empty(t, pending[0].ReservationIDs)

	ok, err := db.ConfirmBooking(ctx, b.ID, []string{"r1", "r2"}, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ConfirmBooking(ctx, b.ID, []string{"r3"}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second commit must not apply")

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, []string{"r1", "r2"}, got.ReservationIDs)
	assert.NotNil(t, got.ConfirmedAt)

	ok, err = db.CancelBooking(ctx, b.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "confirmed bookings cannot be cancelled")

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListUnconfirmedBookingReservations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	pending := &models.Booking{ID: "b-pending", CustomerName: "A", CustomerPhone: "1", Size: models.SizeSmall, Date: "2025-03-10", Slots: []string{"10:00-11:00"}}
	confirmed := &models.Booking{ID: "b-confirmed", CustomerName: "B", CustomerPhone: "2", Size: models.SizeSmall, Date: "2025-03-10", Slots: []string{"12:00-13:00"}}
	require.NoError(t, db.CreateBooking(ctx, pending))
	require.NoError(t, db.CreateBooking(ctx, confirmed))

	for _, r := range []*models.Reservation{
		{ID: "r1", RoomID: 1, BookingID: "b-pending", Start: at(10, 0), End: ptr(at(11, 0)), Status: models.StatusBooked},
		{ID: "r2", RoomID: 1, BookingID: "b-confirmed", Start: at(12, 0), End: ptr(at(13, 0)), Status: models.StatusBooked},
	} {
		require.NoError(t, db.InsertReservation(ctx, r, models.NonBlockingStatuses))
	}
	_, err := db.ConfirmBooking(ctx, "b-confirmed", []string{"r2"}, time.Now())
	require.NoError(t, err)

	orphans, err := db.ListUnconfirmedBookingReservations(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "r1", orphans[0].ID)

	orphans, err = db.ListUnconfirmedBookingReservations(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, orphans, "fresh rows are within the grace period")
}

func TestUnconfirmedReservations_SettledBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedRooms(t, db)

	cancelled := &models.Booking{ID: "b-cancelled", CustomerName: "A", CustomerPhone: "1", Size: models.SizeSmall, Date: "2025-03-10", Slots: []string{"10:00-11:00"}}
	confirmed := &models.Booking{ID: "b-confirmed", CustomerName: "B", CustomerPhone: "2", Size: models.SizeSmall, Date: "2025-03-10", Slots: []string{"12:00-13:00"}}
	require.NoError(t, db.CreateBooking(ctx, cancelled))
	require.NoError(t, db.CreateBooking(ctx, confirmed))

	for _, r := range []*models.Reservation{
		{ID: "r-stale", RoomID: 1, BookingID: "b-cancelled", Start: at(10, 0), End: ptr(at(11, 0)), Status: models.StatusBooked},
		{ID: "r-owned", RoomID: 1, BookingID: "b-confirmed", Start: at(12, 0), End: ptr(at(13, 0)), Status: models.StatusBooked},
		{ID: "r-extra", RoomID: 2, BookingID: "b-confirmed", Start: at(12, 0), End: ptr(at(13, 0)), Status: models.StatusBooked},
		{ID: "r-done", RoomID: 2, BookingID: "b-confirmed", Start: at(9, 0), End: ptr(at(10, 0)), Status: models.StatusFinished},
	} {
		require.NoError(t, db.InsertReservation(ctx, r, models.NonBlockingStatuses))
	}
	_, err := db.CancelBooking(ctx, "b-cancelled", time.Now())
	require.NoError(t, err)
	_, err = db.ConfirmBooking(ctx, "b-confirmed", []string{"r-owned"}, time.Now())
	require.NoError(t, err)

	live, err := db.ListLiveBookingReservations(ctx, "b-confirmed")
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "r-owned", live[0].ID)
	assert.Equal(t, "r-extra", live[1].ID)

	orphans, err := db.ListUnconfirmedBookingReservations(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	ids := make([]string, len(orphans))
	for i, r := range orphans {
		ids[i] = r.ID
	}
	assert.ElementsMatch(t, []string{"r-stale", "r-extra"}, ids)
}

func TestBackupService_PerformBackup(t *testing.T) {
	db := newTestDB(t)
	seedRooms(t, db)
	logger := zerolog.New(io.Discard)

	dir := filepath.Join(t.TempDir(), "backups")
	svc := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, past, past))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
