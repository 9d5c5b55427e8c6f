package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomSize_Ladder(t *testing.T) {
	next, ok := SizeSmall.Next()
	assert.True(t, ok)
	assert.Equal(t, SizeMedium, next)

	next, ok = SizeMedium.Next()
	assert.True(t, ok)
	assert.Equal(t, SizeLarge, next)

	_, ok = SizeLarge.Next()
	assert.False(t, ok)

	assert.Less(t, SizeSmall.Rank(), SizeMedium.Rank())
	assert.Less(t, SizeMedium.Rank(), SizeLarge.Rank())
	assert.Equal(t, 0, RoomSize("huge").Rank())
}

func TestParseRoomSize(t *testing.T) {
	size, err := ParseRoomSize(" Medium ")
	require.NoError(t, err)
	assert.Equal(t, SizeMedium, size)

	_, err = ParseRoomSize("huge")
	assert.Error(t, err)
	_, err = ParseRoomSize("")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  ReservationStatus
		to    ReservationStatus
		allow bool
	}{
		{"booked to in use", StatusBooked, StatusInUse, true},
		{"booked to cancelled", StatusBooked, StatusCancelled, true},
		{"booked to finished", StatusBooked, StatusFinished, true},
		{"in use to finished", StatusInUse, StatusFinished, true},
		{"locked to finished", StatusLocked, StatusFinished, true},
		{"locked to cancelled", StatusLocked, StatusCancelled, true},
		{"maintenance to finished", StatusMaintenance, StatusFinished, true},
		{"in use to cancelled", StatusInUse, StatusCancelled, false},
		{"in use back to booked", StatusInUse, StatusBooked, false},
		{"finished to booked", StatusFinished, StatusBooked, false},
		{"cancelled to finished", StatusCancelled, StatusFinished, false},
		{"unknown status", ReservationStatus("gone"), StatusFinished, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allow, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNoTransitionReturnsToBooked(t *testing.T) {
	for from := range reservationTransitions {
		assert.False(t, CanTransition(from, StatusBooked), "from %s", from)
	}
}

func TestReservation_Overlaps(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }
	ptr := func(t time.Time) *time.Time { return &t }

	closed := Reservation{Start: at(10), End: ptr(at(12))}
	open := Reservation{Start: at(10)}

	assert.True(t, closed.Overlaps(at(11), ptr(at(13))))
	assert.False(t, closed.Overlaps(at(12), ptr(at(13))), "touching end is free")
	assert.False(t, closed.Overlaps(at(8), ptr(at(10))), "touching start is free")
	assert.True(t, closed.Overlaps(at(9), nil), "open-ended candidate")
	assert.False(t, closed.Overlaps(at(12), nil))
	assert.True(t, open.Overlaps(at(20), ptr(at(21))))
	assert.False(t, open.Overlaps(at(8), ptr(at(10))))
}

func TestParseSlot(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)

	slot, err := ParseSlot("2025-03-10", "19:00-21:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 19, 0, 0, 0, loc), slot.Start)
	assert.Equal(t, time.Date(2025, 3, 10, 21, 30, 0, 0, loc), slot.End)
	assert.Equal(t, 150*time.Minute, slot.Duration())

	slot, err = ParseSlot("2025-03-10", "22:00-24:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, loc), slot.End)

	bad := []string{"", "19:00", "21:00-19:00", "19:00-19:00", "25:00-26:00", "19:0-20:00", "aa:00-20:00", "24:30-24:45"}
	for _, label := range bad {
		_, err := ParseSlot("2025-03-10", label, loc)
		assert.Error(t, err, label)
	}

	_, err = ParseSlot("10.03.2025", "19:00-20:00", loc)
	assert.Error(t, err)
}

func TestTimeSlot_Overlaps(t *testing.T) {
	loc := time.UTC
	a, _ := ParseSlot("2025-03-10", "10:00-12:00", loc)
	b, _ := ParseSlot("2025-03-10", "11:00-13:00", loc)
	c, _ := ParseSlot("2025-03-10", "12:00-13:00", loc)

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
	assert.True(t, b.Overlaps(c))
}
