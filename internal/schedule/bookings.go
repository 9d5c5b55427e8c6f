package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"roomsched/internal/models"
	"roomsched/internal/notify"
)

// BookingInput is an intake request from the customer-facing side.
type BookingInput struct {
	CustomerName  string   `json:"customer_name"`
	CustomerPhone string   `json:"customer_phone"`
	CustomerEmail string   `json:"customer_email"`
	Size          string   `json:"size"`
	Date          string   `json:"date"`
	Slots         []string `json:"slots"`
	Note          string   `json:"note"`
}

// CreateResult is the outcome of CreateBooking. Accepted means the booking was stored but
// left pending for the sweep, with Reason explaining why.
type CreateResult struct {
	Booking  *models.Booking
	Accepted bool
	Reason   string
}

// CreateBooking validates and stores a booking, then tries to convert it right away.
func (s *Service) CreateBooking(ctx context.Context, in BookingInput) (*CreateResult, error) {
	b, err := s.validateBooking(in)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("store booking: %w", err)
	}
	s.logger.Info().Str("booking_id", b.ID).Str("size", string(b.Size)).Strs("slots", b.Slots).Msg("booking created")

	_, convErr := s.Convert(ctx, b.ID)

	current, err := s.store.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("reload booking: %w", err)
	}

	if convErr == nil {
		return &CreateResult{Booking: current}, nil
	}

	var verr *ValidationError
	if errors.As(convErr, &verr) {
		return nil, convErr
	}

	s.logger.Info().Err(convErr).Str("booking_id", b.ID).Msg("booking accepted as pending")
	return &CreateResult{Booking: current, Accepted: true, Reason: convErr.Error()}, nil
}

func (s *Service) validateBooking(in BookingInput) (*models.Booking, error) {
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return nil, &ValidationError{Field: "customer_name", Reason: "is required"}
	}
	phone, ok := NormalizePhone(in.CustomerPhone)
	if !ok {
		return nil, &ValidationError{Field: "customer_phone", Reason: "must contain 10 to 15 digits"}
	}
	email := strings.TrimSpace(in.CustomerEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, &ValidationError{Field: "customer_email", Reason: "is not a valid address"}
		}
	}
	size, err := models.ParseRoomSize(in.Size)
	if err != nil {
		return nil, &ValidationError{Field: "size", Reason: err.Error()}
	}

	slots, err := s.parseSlots(in.Date, in.Slots)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, slot := range slots {
		if !slot.End.After(now) {
			return nil, &ValidationError{Field: "slots", Reason: fmt.Sprintf("slot %q is in the past", slot.Label)}
		}
	}

	labels := make([]string, len(slots))
	for i, slot := range slots {
		labels[i] = slot.Label
	}

	return &models.Booking{
		ID:            uuid.NewString(),
		CustomerName:  name,
		CustomerPhone: phone,
		CustomerEmail: email,
		Size:          size,
		Date:          strings.TrimSpace(in.Date),
		Slots:         labels,
		Status:        models.BookingPending,
		Note:          strings.TrimSpace(in.Note),
	}, nil
}

const cancelActor = "system:booking-cancel"

// CancelBooking cancels a pending booking. It takes the conversion lock so it cannot race a
// conversion in flight. Booked reservations left tagged to the booking by an earlier attempt
// are cancelled first.
func (s *Service) CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	lease, err := s.locker.Acquire(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, ErrLockContention
	}
	defer s.releaseLease(lease)

	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingPending {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, models.ErrInvalidTransition)
	}

	leftover, err := s.store.ListLiveBookingReservations(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(leftover) > 0 {
		ids := make([]string, len(leftover))
		for i := range leftover {
			ids[i] = leftover[i].ID
		}
		n := s.rollback(ctx, ids, cancelActor)
		s.logger.Info().Str("booking_id", bookingID).Int("cancelled", n).Msg("rolled back reservations of cancelled booking")
	}

	ok, err := s.store.CancelBooking(ctx, bookingID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", bookingID, models.ErrInvalidTransition)
	}

	s.publish(ctx, notify.Event{Type: notify.EventBookingCancelled, BookingID: bookingID, Status: string(models.BookingCancelled)})
	return s.store.GetBooking(ctx, bookingID)
}

// NormalizePhone strips separators and checks the digit count.
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	repl := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\t", "", ".", "")
	s = repl.Replace(s)
	plus := strings.HasPrefix(s, "+")
	digits := filterDigits(strings.TrimPrefix(s, "+"))
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	if plus {
		return "+" + digits, true
	}
	return digits, true
}

func filterDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
