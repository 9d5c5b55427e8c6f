package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"roomsched/internal/models"
	"roomsched/internal/report"
	"roomsched/internal/schedule"
)

// AvailabilityResponse is the response for GET /api/availability.
type AvailabilityResponse struct {
	Date  string              `json:"date"`
	Size  models.RoomSize     `json:"size"`
	Slots []schedule.SlotInfo `json:"slots"`
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GET /api/availability?date=YYYY-MM-DD&size=small
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	size, err := models.ParseRoomSize(r.URL.Query().Get("size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slots, err := s.scheduler.Availability(r.Context(), date, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Date: date, Size: size, Slots: slots})
}

// GET /api/reports/schedule?date=YYYY-MM-DD
func (s *HTTPServer) handleScheduleReport(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if _, err := models.ParseDate(date, time.UTC); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := s.exporter.WriteDay(r.Context(), date, &buf); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(date)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
