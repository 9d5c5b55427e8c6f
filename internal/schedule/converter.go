package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"roomsched/internal/lock"
	"roomsched/internal/metrics"
	"roomsched/internal/models"
	"roomsched/internal/notify"
)

const conversionActor = "system:conversion"

// Convert turns a pending booking into reservations under the booking lock. It is idempotent:
// an already converted booking returns its existing reservation ids.
func (s *Service) Convert(ctx context.Context, bookingID string) ([]string, error) {
	lease, err := s.locker.Acquire(ctx, bookingID)
	if err != nil {
		metrics.IncConversion("lock_unavailable")
		return nil, err
	}
	if lease == nil {
		b, gerr := s.store.GetBooking(ctx, bookingID)
		if gerr == nil && b.IsConverted() {
			return b.ReservationIDs, nil
		}
		if errors.Is(gerr, models.ErrNotFound) {
			return nil, gerr
		}
		metrics.IncConversion("contended")
		return nil, ErrLockContention
	}
	defer s.releaseLease(lease)

	stop := lock.KeepAlive(ctx, lease, s.logger)
	defer stop()

	return s.convertLocked(ctx, bookingID)
}

// ConvertLocked is the body of Convert. The caller must hold the booking lock.
func (s *Service) ConvertLocked(ctx context.Context, b *models.Booking) ([]string, error) {
	return s.convertLocked(ctx, b.ID)
}

func (s *Service) convertLocked(ctx context.Context, bookingID string) ([]string, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	log := s.logger.With().Str("booking_id", b.ID).Logger()

	switch b.Status {
	case models.BookingConfirmed:
		if len(b.ReservationIDs) > 0 {
			metrics.IncConversion("already_converted")
			return b.ReservationIDs, nil
		}
		return nil, &ValidationError{Field: "status", Reason: "booking is confirmed without reservations"}
	case models.BookingCancelled:
		return nil, &ValidationError{Field: "status", Reason: "booking is cancelled"}
	}

	// Leftovers of an earlier attempt belong to the reconcile job. Converting again would
	// treat them as someone else's occupancy and orphan them.
	leftover, err := s.store.ListLiveBookingReservations(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list booking reservations: %w", err)
	}
	if len(leftover) > 0 {
		metrics.IncConversion("awaiting_reconcile")
		ids := make([]string, len(leftover))
		for i := range leftover {
			ids[i] = leftover[i].ID
		}
		log.Warn().Strs("reservation_ids", ids).Msg("booking has reservations from an earlier attempt, leaving it to reconcile")
		return nil, &PartialFailureError{
			BookingID:  b.ID,
			WrittenIDs: ids,
			Step:       "pending_reconcile",
			Err:        models.ErrAwaitingReconcile,
		}
	}

	slots, err := s.parseSlots(b.Date, b.Slots)
	if err != nil {
		metrics.IncConversion("invalid")
		return nil, err
	}

	alloc, err := s.allocator.AllocateSlots(ctx, b.Size, slots)
	if err != nil {
		if errors.Is(err, ErrNoRoomAvailable) {
			metrics.IncConversion("conflict")
			log.Info().Str("size", string(b.Size)).Msg("no room available, booking stays pending")
			return nil, &ConflictError{BookingID: b.ID, Size: b.Size, Err: err}
		}
		return nil, fmt.Errorf("allocate: %w", err)
	}

	note := fmt.Sprintf("%s (%s) - created from booking %s", b.CustomerName, b.CustomerPhone, b.ID)
	written := make([]string, 0, len(slots))

	fail := func(step string, err error) error {
		if len(written) == 0 {
			if errors.Is(err, models.ErrRoomOccupied) {
				metrics.IncConversion("conflict")
				return &ConflictError{BookingID: b.ID, Size: b.Size, Err: err}
			}
			metrics.IncConversion("error")
			return fmt.Errorf("%s: %w", step, err)
		}
		return s.partialFailure(ctx, b, alloc.Room.ID, written, step, err)
	}

	for _, slot := range slots {
		end := slot.End

		// Write-time re-check; InsertReservation repeats it inside its transaction.
		occupied, err := s.detector.IsOccupied(ctx, alloc.Room.ID, slot.Start, &end, nil)
		if err != nil {
			return nil, fail("check_room", err)
		}
		if occupied {
			return nil, fail("check_room", fmt.Errorf("room %d at %s: %w", alloc.Room.ID, slot.Label, models.ErrRoomOccupied))
		}

		r := &models.Reservation{
			ID:        uuid.NewString(),
			RoomID:    alloc.Room.ID,
			BookingID: b.ID,
			Start:     slot.Start,
			End:       &end,
			Status:    models.StatusBooked,
			Note:      note,
			CreatedBy: conversionActor,
		}
		if err := s.store.InsertReservation(ctx, r, models.NonBlockingStatuses); err != nil {
			return nil, fail("create_reservation", err)
		}
		written = append(written, r.ID)
	}

	ok, err := s.store.ConfirmBooking(ctx, b.ID, written, s.now())
	if err != nil {
		return nil, fail("commit_booking", err)
	}
	if !ok {
		return s.resolveLostCommit(ctx, b, alloc.Room.ID, written)
	}

	metrics.IncConversion("converted")
	if alloc.Upgraded {
		metrics.IncAllocationUpgrade(string(alloc.RequestedSize), string(alloc.AssignedSize))
	}
	log.Info().
		Int64("room_id", alloc.Room.ID).
		Bool("upgraded", alloc.Upgraded).
		Strs("reservation_ids", written).
		Msg("booking converted")

	s.publish(ctx, notify.Event{
		Type:           notify.EventBookingConverted,
		RoomID:         alloc.Room.ID,
		BookingID:      b.ID,
		ReservationIDs: written,
		Status:         string(models.BookingConfirmed),
		Message:        alloc.Reason,
		Data: map[string]any{
			"requested_size": alloc.RequestedSize,
			"assigned_size":  alloc.AssignedSize,
			"upgraded":       alloc.Upgraded,
		},
	})

	return written, nil
}

// resolveLostCommit handles a commit that matched no pending row.
func (s *Service) resolveLostCommit(ctx context.Context, b *models.Booking, roomID int64, written []string) ([]string, error) {
	cur, err := s.store.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, s.partialFailure(ctx, b, roomID, written, "commit_booking", err)
	}

	switch {
	case cur.IsConverted():
		// Another worker committed first; ours are surplus.
		s.rollback(ctx, written, conversionActor)
		metrics.IncConversion("already_converted")
		return cur.ReservationIDs, nil
	case cur.Status == models.BookingCancelled:
		s.rollback(ctx, written, conversionActor)
		metrics.IncConversion("invalid")
		return nil, &ValidationError{Field: "status", Reason: "booking was cancelled during conversion"}
	}
	return nil, s.partialFailure(ctx, b, roomID, written, "commit_booking", ErrBookingChanged)
}

func (s *Service) partialFailure(ctx context.Context, b *models.Booking, roomID int64, written []string, step string, err error) error {
	metrics.IncConversion("partial_failure")
	metrics.IncPartialFailure(step)

	pf := &PartialFailureError{
		BookingID:  b.ID,
		WrittenIDs: append([]string(nil), written...),
		Step:       step,
		Err:        err,
	}

	s.logger.Error().
		Err(err).
		Bool("partial_failure", true).
		Str("booking_id", b.ID).
		Int64("room_id", roomID).
		Str("step", step).
		Strs("written_ids", pf.WrittenIDs).
		Msg("conversion partially failed")

	s.publish(ctx, notify.Event{
		Type:           notify.EventBookingPartialFailure,
		RoomID:         roomID,
		BookingID:      b.ID,
		ReservationIDs: pf.WrittenIDs,
		Message:        fmt.Sprintf("step %s: %v", step, err),
	})

	return pf
}

// rollback cancels reservations that are still booked. Errors are logged only.
func (s *Service) rollback(ctx context.Context, ids []string, actor string) int {
	ctx = context.WithoutCancel(ctx)
	n := 0
	for _, id := range ids {
		ok, err := s.store.UpdateReservationStatus(ctx, id, models.StatusBooked, models.StatusCancelled, actor, s.now())
		if err != nil {
			s.logger.Error().Err(err).Str("reservation_id", id).Msg("rollback failed")
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

// parseSlots validates a booking's slot labels and returns them ordered by start.
func (s *Service) parseSlots(date string, labels []string) ([]models.TimeSlot, error) {
	if len(labels) == 0 {
		return nil, &ValidationError{Field: "slots", Reason: "at least one slot is required"}
	}
	if _, err := models.ParseDate(date, s.opts.Location); err != nil {
		return nil, &ValidationError{Field: "date", Reason: err.Error()}
	}

	slots := make([]models.TimeSlot, 0, len(labels))
	for _, label := range labels {
		slot, err := models.ParseSlot(date, label, s.opts.Location)
		if err != nil {
			return nil, &ValidationError{Field: "slots", Reason: err.Error()}
		}
		slots = append(slots, slot)
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })

	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Equal(slots[i-1].Start) && slots[i].End.Equal(slots[i-1].End) {
			return nil, &ValidationError{Field: "slots", Reason: fmt.Sprintf("duplicate slot %q", slots[i].Label)}
		}
		if slots[i].Overlaps(slots[i-1]) {
			return nil, &ValidationError{Field: "slots", Reason: fmt.Sprintf("slots %q and %q overlap", slots[i-1].Label, slots[i].Label)}
		}
	}
	return slots, nil
}

// ParseSlots exposes slot validation to other packages (reconciliation).
func (s *Service) ParseSlots(date string, labels []string) ([]models.TimeSlot, error) {
	return s.parseSlots(date, labels)
}
