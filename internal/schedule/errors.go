package schedule

import (
	"errors"
	"fmt"
	"strings"

	"roomsched/internal/models"
)

var (
	// ErrNoRoomAvailable means no room of the requested size or any larger size is free.
	ErrNoRoomAvailable = errors.New("no room available")
	// ErrLockContention means another worker currently holds the booking's conversion lock.
	ErrLockContention = errors.New("booking is locked by another worker")
	// ErrBookingChanged means the booking left pending while it was being converted.
	ErrBookingChanged = errors.New("booking changed during conversion")
)

// ValidationError reports bad input. Nothing has been written when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError means the booking could not be placed; it stays pending.
type ConflictError struct {
	BookingID string
	Size      models.RoomSize
	Err       error
}

func (e *ConflictError) Error() string {
	if e.BookingID == "" {
		return fmt.Sprintf("%s room: %v", e.Size, e.Err)
	}
	return fmt.Sprintf("booking %s (%s room): %v", e.BookingID, e.Size, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// PartialFailureError means some reservations were written before a later step failed.
// The reconcile job either commits or rolls back the written reservations.
type PartialFailureError struct {
	BookingID  string
	WrittenIDs []string
	Step       string
	Err        error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("booking %s: %s failed after writing [%s]: %v",
		e.BookingID, e.Step, strings.Join(e.WrittenIDs, ", "), e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}
