package schedule

import (
	"context"
	"time"

	"roomsched/internal/models"
)

// OverlapCounter is the store query behind conflict detection.
type OverlapCounter interface {
	CountOverlapping(ctx context.Context, roomID int64, start time.Time, end *time.Time, exclude []models.ReservationStatus) (int, error)
}

// Detector answers whether a room is occupied for an interval.
type Detector struct {
	store OverlapCounter
}

func NewDetector(store OverlapCounter) *Detector {
	return &Detector{store: store}
}

// IsOccupied reports whether any reservation of roomID intersects [start, end). A nil end is
// open-ended. A nil exclude uses models.NonBlockingStatuses; an empty non-nil slice excludes
// nothing.
func (d *Detector) IsOccupied(ctx context.Context, roomID int64, start time.Time, end *time.Time, exclude []models.ReservationStatus) (bool, error) {
	if exclude == nil {
		exclude = models.NonBlockingStatuses
	}
	n, err := d.store.CountOverlapping(ctx, roomID, start, end, exclude)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
