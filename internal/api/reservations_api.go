package api

import (
	"fmt"
	"net/http"

	"roomsched/internal/models"
	"roomsched/internal/schedule"
)

// ActionRequest is the optional body of a reservation action.
type ActionRequest struct {
	By string `json:"by"`
}

var reservationActions = map[string]models.ReservationStatus{
	"cancel": models.StatusCancelled,
	"start":  models.StatusInUse,
	"finish": models.StatusFinished,
}

// handleCreateReservation lets staff put an entry straight on the schedule.
// POST /api/reservations
func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var in schedule.DirectInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.scheduler.CreateDirectReservation(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleReservationAction applies cancel, start or finish.
// POST /api/reservations/{id}/{action}
func (s *HTTPServer) handleReservationAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	to, ok := reservationActions[action]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}

	var req ActionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := s.scheduler.Transition(r.Context(), r.PathValue("id"), to, req.By)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
