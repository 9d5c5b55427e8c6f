package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRoomOccupied      = errors.New("room is occupied for the requested interval")
	// ErrAwaitingReconcile means a pending booking still owns live reservations from an
	// earlier conversion attempt.
	ErrAwaitingReconcile = errors.New("booking has unreconciled reservations")
)

// ReservationStatus is a node of the reservation lifecycle.
type ReservationStatus string

const (
	StatusBooked      ReservationStatus = "booked"
	StatusInUse       ReservationStatus = "in_use"
	StatusFinished    ReservationStatus = "finished"
	StatusCancelled   ReservationStatus = "cancelled"
	StatusLocked      ReservationStatus = "locked"
	StatusMaintenance ReservationStatus = "maintenance"
)

// NonBlockingStatuses never occupy a room.
var NonBlockingStatuses = []ReservationStatus{StatusCancelled, StatusFinished}

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	StatusBooked:      {StatusInUse, StatusCancelled, StatusFinished},
	StatusInUse:       {StatusFinished},
	StatusLocked:      {StatusFinished, StatusCancelled},
	StatusMaintenance: {StatusFinished, StatusCancelled},
	StatusFinished:    {},
	StatusCancelled:   {},
}

// ParseReservationStatus validates a status coming from outside.
func ParseReservationStatus(s string) (ReservationStatus, bool) {
	st := ReservationStatus(s)
	_, ok := reservationTransitions[st]
	return st, ok
}

// CanTransition checks if the lifecycle allows moving from one status to another.
func CanTransition(from, to ReservationStatus) bool {
	allowed, ok := reservationTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Reservation occupies a room for [Start, End). A nil End means open-ended.
type Reservation struct {
	ID        string            `json:"id"`
	RoomID    int64             `json:"room_id"`
	BookingID string            `json:"booking_id,omitempty"`
	Start     time.Time         `json:"start"`
	End       *time.Time        `json:"end,omitempty"`
	Status    ReservationStatus `json:"status"`
	Note      string            `json:"note,omitempty"`
	CreatedBy string            `json:"created_by,omitempty"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Overlaps reports whether the reservation intersects [start, end); a nil end is +inf.
func (r *Reservation) Overlaps(start time.Time, end *time.Time) bool {
	if end != nil && !r.Start.Before(*end) {
		return false
	}
	return r.End == nil || r.End.After(start)
}
