// Package api exposes the scheduling engine over HTTP JSON.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"roomsched/internal/lifecycle"
	"roomsched/internal/lock"
	"roomsched/internal/metrics"
	"roomsched/internal/models"
	"roomsched/internal/schedule"
)

// Scheduler is the engine surface the API drives. *schedule.Service implements it.
type Scheduler interface {
	CreateBooking(ctx context.Context, in schedule.BookingInput) (*schedule.CreateResult, error)
	Convert(ctx context.Context, bookingID string) ([]string, error)
	CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	CreateDirectReservation(ctx context.Context, in schedule.DirectInput) (*models.Reservation, error)
	Transition(ctx context.Context, id string, to models.ReservationStatus, by string) (*models.Reservation, error)
	Availability(ctx context.Context, date string, size models.RoomSize) ([]schedule.SlotInfo, error)
}

// ScheduleExporter renders the day schedule workbook.
type ScheduleExporter interface {
	WriteDay(ctx context.Context, date string, out io.Writer) error
}

// JobRunner triggers lifecycle jobs on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (*lifecycle.Report, error)
}

// Config holds the HTTP settings.
type Config struct {
	Port                 int
	APIKey               string
	BookingRatePerMinute int
	BookingBurst         int
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	scheduler Scheduler
	exporter  ScheduleExporter
	jobs      JobRunner
	apiKey    string
	limiter   *rate.Limiter
	server    *http.Server
	logger    *zerolog.Logger
}

func NewHTTPServer(cfg Config, scheduler Scheduler, exporter ScheduleExporter, jobs JobRunner, logger *zerolog.Logger) *HTTPServer {
	perMinute := cfg.BookingRatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := cfg.BookingBurst
	if burst <= 0 {
		burst = 5
	}
	l := logger.With().Str("component", "api").Logger()

	s := &HTTPServer{
		scheduler: scheduler,
		exporter:  exporter,
		jobs:      jobs,
		apiKey:    cfg.APIKey,
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
		logger:    &l,
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/bookings", "create_booking", s.rateLimited(s.handleCreateBooking))
	s.route(mux, "POST /api/bookings/{id}/convert", "convert_booking", s.handleConvertBooking)
	s.route(mux, "POST /api/bookings/{id}/cancel", "cancel_booking", s.handleCancelBooking)
	s.route(mux, "POST /api/reservations", "create_reservation", s.handleCreateReservation)
	s.route(mux, "POST /api/reservations/{id}/{action}", "reservation_action", s.handleReservationAction)
	s.route(mux, "GET /api/availability", "availability", s.handleAvailability)
	s.route(mux, "GET /api/reports/schedule", "schedule_report", s.handleScheduleReport)
	s.route(mux, "POST /api/jobs/{name}/run", "run_job", s.handleRunJob)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if s.authorized(r) {
			h(rec, r)
		} else {
			writeError(rec, http.StatusUnauthorized, "invalid or missing API key")
		}
		metrics.IncHTTPRequest(name, strconv.Itoa(rec.status))
	})
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	key := r.Header.Get("X-Api-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

func (s *HTTPServer) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many booking requests; try again later")
			return
		}
		h(w, r)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verr *schedule.ValidationError
		cerr *schedule.ConflictError
		perr *schedule.PartialFailureError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &cerr):
		return http.StatusConflict
	case errors.Is(err, models.ErrAwaitingReconcile):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusInternalServerError
	case errors.Is(err, models.ErrNotFound), errors.Is(err, lifecycle.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, lifecycle.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, schedule.ErrLockContention):
		return http.StatusLocked
	case errors.Is(err, lock.ErrLockStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := s.logger.Info()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	msg := err.Error()
	if status == http.StatusInternalServerError {
		var perr *schedule.PartialFailureError
		if !errors.As(err, &perr) {
			msg = "internal error"
		}
	}
	writeError(w, status, msg)
}
