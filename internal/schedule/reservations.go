package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"roomsched/internal/models"
	"roomsched/internal/notify"
)

// DirectInput is a staff request to put an entry straight on the schedule.
type DirectInput struct {
	RoomID    int64                    `json:"room_id"`
	Start     time.Time                `json:"start"`
	End       *time.Time               `json:"end,omitempty"`
	Status    models.ReservationStatus `json:"status"`
	Note      string                   `json:"note"`
	CreatedBy string                   `json:"created_by"`
}

var directStatuses = map[models.ReservationStatus]bool{
	models.StatusBooked:      true,
	models.StatusInUse:       true,
	models.StatusLocked:      true,
	models.StatusMaintenance: true,
}

// CreateDirectReservation writes a staff-created reservation after the same conflict checks the
// conversion path uses.
func (s *Service) CreateDirectReservation(ctx context.Context, in DirectInput) (*models.Reservation, error) {
	if in.Status == "" {
		in.Status = models.StatusBooked
	}
	if !directStatuses[in.Status] {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("cannot create a reservation as %q", in.Status)}
	}
	if in.Start.IsZero() {
		return nil, &ValidationError{Field: "start", Reason: "is required"}
	}
	if in.End == nil {
		if in.Status != models.StatusInUse {
			return nil, &ValidationError{Field: "end", Reason: "only in-use walk-ins may be open-ended"}
		}
	} else {
		d := in.End.Sub(in.Start)
		if d < s.opts.MinDirect {
			return nil, &ValidationError{Field: "end", Reason: fmt.Sprintf("duration must be at least %s", s.opts.MinDirect)}
		}
		if d > s.opts.MaxDirect {
			return nil, &ValidationError{Field: "end", Reason: fmt.Sprintf("duration must be at most %s", s.opts.MaxDirect)}
		}
	}

	room, err := s.store.GetRoom(ctx, in.RoomID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &ValidationError{Field: "room_id", Reason: fmt.Sprintf("room %d does not exist", in.RoomID)}
		}
		return nil, err
	}
	if !room.IsActive {
		return nil, &ValidationError{Field: "room_id", Reason: fmt.Sprintf("room %d is inactive", in.RoomID)}
	}

	occupied, err := s.detector.IsOccupied(ctx, room.ID, in.Start, in.End, nil)
	if err != nil {
		return nil, err
	}
	if occupied {
		return nil, &ConflictError{Size: room.Size, Err: fmt.Errorf("room %d: %w", room.ID, models.ErrRoomOccupied)}
	}

	by := strings.TrimSpace(in.CreatedBy)
	if by == "" {
		by = "staff"
	}
	r := &models.Reservation{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		Start:     in.Start,
		End:       in.End,
		Status:    in.Status,
		Note:      strings.TrimSpace(in.Note),
		CreatedBy: by,
	}
	if err := s.store.InsertReservation(ctx, r, models.NonBlockingStatuses); err != nil {
		if errors.Is(err, models.ErrRoomOccupied) {
			return nil, &ConflictError{Size: room.Size, Err: err}
		}
		return nil, err
	}

	s.logger.Info().Str("reservation_id", r.ID).Int64("room_id", r.RoomID).Str("status", string(r.Status)).Msg("direct reservation created")
	s.publish(ctx, notify.Event{
		Type:           notify.EventReservationCreated,
		RoomID:         r.RoomID,
		ReservationIDs: []string{r.ID},
		Status:         string(r.Status),
	})
	return r, nil
}

// CancelReservation moves a reservation to cancelled.
func (s *Service) CancelReservation(ctx context.Context, id, by string) (*models.Reservation, error) {
	return s.Transition(ctx, id, models.StatusCancelled, by)
}

// StartReservation checks a booked reservation in.
func (s *Service) StartReservation(ctx context.Context, id, by string) (*models.Reservation, error) {
	return s.Transition(ctx, id, models.StatusInUse, by)
}

// FinishReservation closes a reservation.
func (s *Service) FinishReservation(ctx context.Context, id, by string) (*models.Reservation, error) {
	return s.Transition(ctx, id, models.StatusFinished, by)
}

// Transition applies one lifecycle step, rejecting moves the state machine forbids.
func (s *Service) Transition(ctx context.Context, id string, to models.ReservationStatus, by string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(r.Status, to) {
		return nil, fmt.Errorf("reservation %s: %s -> %s: %w", id, r.Status, to, models.ErrInvalidTransition)
	}
	if by == "" {
		by = "staff"
	}

	ok, err := s.store.UpdateReservationStatus(ctx, id, r.Status, to, by, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("reservation %s changed concurrently: %w", id, models.ErrInvalidTransition)
	}

	from := r.Status
	r, err = s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.Event{
		Type:           notify.EventReservationStatus,
		RoomID:         r.RoomID,
		BookingID:      r.BookingID,
		ReservationIDs: []string{r.ID},
		Status:         string(r.Status),
		Data:           map[string]any{"from": from, "by": by},
	})
	return r, nil
}
