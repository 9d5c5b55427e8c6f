package api

import (
	"net/http"

	"roomsched/internal/models"
	"roomsched/internal/schedule"
)

// BookingResponse is returned by the booking endpoints.
type BookingResponse struct {
	BookingID      string               `json:"booking_id"`
	Status         models.BookingStatus `json:"status"`
	ReservationIDs []string             `json:"reservation_ids,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

// handleCreateBooking stores a booking and converts it when a room is free.
// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var in schedule.BookingInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.scheduler.CreateBooking(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := BookingResponse{
		BookingID:      res.Booking.ID,
		Status:         res.Booking.Status,
		ReservationIDs: res.Booking.ReservationIDs,
		Reason:         res.Reason,
	}
	if res.Accepted {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// POST /api/bookings/{id}/convert
func (s *HTTPServer) handleConvertBooking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ids, err := s.scheduler.Convert(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{
		BookingID:      id,
		Status:         models.BookingConfirmed,
		ReservationIDs: ids,
	})
}

// POST /api/bookings/{id}/cancel
func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.scheduler.CancelBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{BookingID: b.ID, Status: b.Status})
}
