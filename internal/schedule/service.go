// Package schedule turns bookings into room reservations and manages reservation status.
package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"roomsched/internal/lock"
	"roomsched/internal/models"
	"roomsched/internal/notify"
)

// Store is the persistence the engine needs. *database.DB implements it.
type Store interface {
	OverlapCounter
	RoomLister
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	InsertReservation(ctx context.Context, r *models.Reservation, exclude []models.ReservationStatus) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListLiveBookingReservations(ctx context.Context, bookingID string) ([]models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, from, to models.ReservationStatus, by string, at time.Time) (bool, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, id string, reservationIDs []string, at time.Time) (bool, error)
	CancelBooking(ctx context.Context, id string, at time.Time) (bool, error)
}

// Locker guards one booking at a time. Acquire returns (nil, nil) on contention.
type Locker interface {
	Acquire(ctx context.Context, bookingID string) (*lock.Lease, error)
}

// Options holds the scheduling rules.
type Options struct {
	Location     *time.Location
	Open         string
	Close        string
	SlotDuration time.Duration
	MinDirect    time.Duration
	MaxDirect    time.Duration
	Now          func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Open == "" {
		o.Open = "10:00"
	}
	if o.Close == "" {
		o.Close = "24:00"
	}
	if o.SlotDuration <= 0 {
		o.SlotDuration = time.Hour
	}
	if o.MinDirect <= 0 {
		o.MinDirect = 30 * time.Minute
	}
	if o.MaxDirect <= 0 {
		o.MaxDirect = 8 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service is the conversion coordinator plus the staff-facing reservation operations.
type Service struct {
	store     Store
	locker    Locker
	publisher notify.Publisher
	detector  *Detector
	allocator *Allocator
	opts      Options
	logger    *zerolog.Logger
}

func NewService(store Store, locker Locker, publisher notify.Publisher, opts Options, logger *zerolog.Logger) *Service {
	opts.applyDefaults()
	if publisher == nil {
		publisher = notify.Nop{}
	}
	detector := NewDetector(store)
	l := logger.With().Str("component", "schedule").Logger()
	return &Service{
		store:     store,
		locker:    locker,
		publisher: publisher,
		detector:  detector,
		allocator: NewAllocator(store, detector),
		opts:      opts,
		logger:    &l,
	}
}

// Detector exposes the conflict detector used by the service.
func (s *Service) Detector() *Detector {
	return s.detector
}

// Allocator exposes the room allocator used by the service.
func (s *Service) Allocator() *Allocator {
	return s.allocator
}

// Location is the civil timezone of dates and slots.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

// publish delivers an event; failures are logged by the publisher and never returned.
func (s *Service) publish(ctx context.Context, ev notify.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Debug().Err(err).Str("event", ev.Type).Msg("event not fully delivered")
	}
}

func (s *Service) releaseLease(lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		s.logger.Warn().Err(err).Str("key", lease.Key()).Msg("lock release failed; lease will expire")
	}
}
