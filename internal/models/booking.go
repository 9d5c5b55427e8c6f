package models

import "time"

// BookingStatus is the status of a customer booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is an unconfirmed customer request for a room size and a set of slots on one date.
// It becomes confirmed once the slots are turned into reservations.
type Booking struct {
	ID             string        `json:"id"`
	CustomerName   string        `json:"customer_name"`
	CustomerPhone  string        `json:"customer_phone"`
	CustomerEmail  string        `json:"customer_email,omitempty"`
	Size           RoomSize      `json:"size"`
	Date           string        `json:"date"`
	Slots          []string      `json:"slots"`
	Status         BookingStatus `json:"status"`
	ReservationIDs []string      `json:"reservation_ids,omitempty"`
	Note           string        `json:"note,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
}

// IsConverted reports whether the booking already owns its reservations.
func (b *Booking) IsConverted() bool {
	return b.Status == BookingConfirmed && len(b.ReservationIDs) > 0
}
