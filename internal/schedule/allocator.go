package schedule

import (
	"context"
	"fmt"
	"time"

	"roomsched/internal/models"
)

// RoomLister lists allocatable rooms of a size ordered by priority, then id.
type RoomLister interface {
	ListAllocatableRooms(ctx context.Context, size models.RoomSize) ([]models.Room, error)
}

// Allocation is the allocator's decision for one booking.
type Allocation struct {
	Room          models.Room     `json:"room"`
	RequestedSize models.RoomSize `json:"requested_size"`
	AssignedSize  models.RoomSize `json:"assigned_size"`
	Upgraded      bool            `json:"upgraded"`
	Reason        string          `json:"reason,omitempty"`
}

// Allocator picks a free room, walking the size ladder upwards when needed.
type Allocator struct {
	rooms    RoomLister
	detector *Detector
}

func NewAllocator(rooms RoomLister, detector *Detector) *Allocator {
	return &Allocator{rooms: rooms, detector: detector}
}

type interval struct {
	start time.Time
	end   *time.Time
}

// Allocate finds a room for a single interval. A nil end is open-ended.
func (a *Allocator) Allocate(ctx context.Context, size models.RoomSize, start time.Time, end *time.Time) (*Allocation, error) {
	return a.allocate(ctx, size, []interval{{start: start, end: end}})
}

// AllocateSlots finds one room that is free for every slot.
func (a *Allocator) AllocateSlots(ctx context.Context, size models.RoomSize, slots []models.TimeSlot) (*Allocation, error) {
	ivs := make([]interval, len(slots))
	for i := range slots {
		end := slots[i].End
		ivs[i] = interval{start: slots[i].Start, end: &end}
	}
	return a.allocate(ctx, size, ivs)
}

func (a *Allocator) allocate(ctx context.Context, size models.RoomSize, ivs []interval) (*Allocation, error) {
	if !size.Valid() {
		return nil, &ValidationError{Field: "size", Reason: fmt.Sprintf("unknown room size %q", size)}
	}
	if len(ivs) == 0 {
		return nil, &ValidationError{Field: "slots", Reason: "nothing to allocate"}
	}

	for tier, ok := size, true; ok; tier, ok = tier.Next() {
		rooms, err := a.rooms.ListAllocatableRooms(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("list %s rooms: %w", tier, err)
		}

		for _, room := range rooms {
			free, err := a.freeForAll(ctx, room.ID, ivs)
			if err != nil {
				return nil, err
			}
			if !free {
				continue
			}

			alloc := &Allocation{
				Room:          room,
				RequestedSize: size,
				AssignedSize:  tier,
				Upgraded:      tier != size,
			}
			if alloc.Upgraded {
				alloc.Reason = fmt.Sprintf("Upgraded from %s to %s", size, tier)
			}
			return alloc, nil
		}
	}

	return nil, ErrNoRoomAvailable
}

func (a *Allocator) freeForAll(ctx context.Context, roomID int64, ivs []interval) (bool, error) {
	for _, iv := range ivs {
		occupied, err := a.detector.IsOccupied(ctx, roomID, iv.start, iv.end, nil)
		if err != nil {
			return false, fmt.Errorf("check room %d: %w", roomID, err)
		}
		if occupied {
			return false, nil
		}
	}
	return true, nil
}
