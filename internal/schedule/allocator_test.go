package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsched/internal/models"
)

type memRooms map[models.RoomSize][]models.Room

func (m memRooms) ListAllocatableRooms(_ context.Context, size models.RoomSize) ([]models.Room, error) {
	return m[size], nil
}

// memOverlaps reports the rooms listed in busy as occupied for any interval.
type memOverlaps struct {
	busy    map[int64]bool
	err     error
	exclude []models.ReservationStatus
}

func (m *memOverlaps) CountOverlapping(_ context.Context, roomID int64, _ time.Time, _ *time.Time, exclude []models.ReservationStatus) (int, error) {
	m.exclude = exclude
	if m.err != nil {
		return 0, m.err
	}
	if m.busy[roomID] {
		return 1, nil
	}
	return 0, nil
}

func TestAllocator_Ladder(t *testing.T) {
	rooms := memRooms{
		models.SizeSmall:  {{ID: 1, Size: models.SizeSmall}, {ID: 2, Size: models.SizeSmall}},
		models.SizeMedium: {{ID: 3, Size: models.SizeMedium}},
		models.SizeLarge:  {{ID: 4, Size: models.SizeLarge}},
	}
	start := time.Date(2030, 6, 1, 19, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tests := []struct {
		name     string
		size     models.RoomSize
		busy     map[int64]bool
		wantRoom int64
		upgraded bool
		reason   string
		wantErr  error
	}{
		{name: "first by priority", size: models.SizeSmall, wantRoom: 1},
		{name: "next in tier", size: models.SizeSmall, busy: map[int64]bool{1: true}, wantRoom: 2},
		{name: "upgrade one step", size: models.SizeSmall, busy: map[int64]bool{1: true, 2: true}, wantRoom: 3, upgraded: true, reason: "Upgraded from small to medium"},
		{name: "upgrade two steps", size: models.SizeSmall, busy: map[int64]bool{1: true, 2: true, 3: true}, wantRoom: 4, upgraded: true, reason: "Upgraded from small to large"},
		{name: "large never downgrades", size: models.SizeLarge, busy: map[int64]bool{4: true}, wantErr: ErrNoRoomAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overlaps := &memOverlaps{busy: tt.busy}
			a := NewAllocator(rooms, NewDetector(overlaps))

			alloc, err := a.Allocate(context.Background(), tt.size, start, &end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoom, alloc.Room.ID)
			assert.Equal(t, tt.upgraded, alloc.Upgraded)
			assert.Equal(t, tt.reason, alloc.Reason)
			assert.Equal(t, tt.size, alloc.RequestedSize)
			assert.Equal(t, models.NonBlockingStatuses, overlaps.exclude)
		})
	}
}

func TestAllocator_Errors(t *testing.T) {
	start := time.Date(2030, 6, 1, 19, 0, 0, 0, time.UTC)
	rooms := memRooms{models.SizeSmall: {{ID: 1, Size: models.SizeSmall}}}

	a := NewAllocator(rooms, NewDetector(&memOverlaps{}))
	_, err := a.Allocate(context.Background(), "xl", start, nil)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = a.AllocateSlots(context.Background(), models.SizeSmall, nil)
	assert.ErrorAs(t, err, &verr)

	storeErr := errors.New("database is locked")
	a = NewAllocator(rooms, NewDetector(&memOverlaps{err: storeErr}))
	_, err = a.Allocate(context.Background(), models.SizeSmall, start, nil)
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrNoRoomAvailable)
}

func TestDetector_ExplicitExclusions(t *testing.T) {
	overlaps := &memOverlaps{}
	d := NewDetector(overlaps)
	start := time.Date(2030, 6, 1, 19, 0, 0, 0, time.UTC)

	_, err := d.IsOccupied(context.Background(), 1, start, nil, []models.ReservationStatus{})
	require.NoError(t, err)
	assert.Empty(t, overlaps.exclude)
	assert.NotNil(t, overlaps.exclude)
}
