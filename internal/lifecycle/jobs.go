package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"roomsched/internal/database"
	"roomsched/internal/lock"
	"roomsched/internal/models"
	"roomsched/internal/notify"
)

// Job names.
const (
	JobPendingSweep = "pending_sweep"
	JobAutoCancel   = "auto_cancel"
	JobAutoFinish   = "auto_finish"
	JobReconcile    = "reconcile"
)

// Store is the persistence the jobs need. *database.DB implements it.
type Store interface {
	ListBookingsByStatus(ctx context.Context, status models.BookingStatus, limit int) ([]models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, id string, reservationIDs []string, at time.Time) (bool, error)
	ListReservations(ctx context.Context, filter database.ReservationFilter) ([]models.Reservation, error)
	ListLiveBookingReservations(ctx context.Context, bookingID string) ([]models.Reservation, error)
	ListUnconfirmedBookingReservations(ctx context.Context, createdBefore time.Time) ([]models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, from, to models.ReservationStatus, by string, at time.Time) (bool, error)
}

// Locker is the booking conversion lock.
type Locker interface {
	Acquire(ctx context.Context, bookingID string) (*lock.Lease, error)
}

// Converter converts a booking whose lock the caller already holds.
type Converter interface {
	ConvertLocked(ctx context.Context, b *models.Booking) ([]string, error)
	ParseSlots(date string, labels []string) ([]models.TimeSlot, error)
}

// RoomCleaner drops per-room session state once a room's day is closed.
type RoomCleaner interface {
	CleanupRoom(ctx context.Context, roomID int64) error
}

// Deps are shared by the jobs.
type Deps struct {
	Store     Store
	Locker    Locker
	Converter Converter
	Publisher notify.Publisher
	Cleaner   RoomCleaner
	Location  *time.Location
	Now       func() time.Time
	Logger    *zerolog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Deps) publish(ctx context.Context, ev notify.Event) {
	if d.Publisher == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = d.now()
	}
	_ = d.Publisher.Publish(context.WithoutCancel(ctx), ev)
}

func (d *Deps) release(lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		d.Logger.Warn().Err(err).Str("key", lease.Key()).Msg("lock release failed; lease will expire")
	}
}

// PendingSweep retries conversion of every pending booking.
type PendingSweep struct {
	deps    Deps
	timeout time.Duration
	limit   int
}

func NewPendingSweep(deps Deps, timeout time.Duration, limit int) *PendingSweep {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PendingSweep{deps: deps, timeout: timeout, limit: limit}
}

func (j *PendingSweep) Name() string { return JobPendingSweep }

func (j *PendingSweep) Run(ctx context.Context) (rep *Report, err error) {
	rep = newReport(j.Name(), time.Now())
	defer func() { rep.finish(err) }()

	bookings, err := j.deps.Store.ListBookingsByStatus(ctx, models.BookingPending, j.limit)
	if err != nil {
		return rep, fmt.Errorf("list pending bookings: %w", err)
	}

	for i := range bookings {
		if ctx.Err() != nil {
			j.deps.Logger.Info().Int("remaining", len(bookings)-i).Msg("pending sweep interrupted")
			return rep, ctx.Err()
		}
		outcome, convErr := j.sweepOne(ctx, &bookings[i])
		rep.add(bookings[i].ID, outcome, convErr)
	}
	return rep, nil
}

func (j *PendingSweep) sweepOne(ctx context.Context, b *models.Booking) (string, error) {
	log := j.deps.Logger.With().Str("job", j.Name()).Str("booking_id", b.ID).Logger()

	lease, err := j.deps.Locker.Acquire(ctx, b.ID)
	if err != nil {
		log.Warn().Err(err).Msg("lock unavailable")
		return OutcomeFailed, err
	}
	if lease == nil {
		return OutcomeSkippedLocked, nil
	}
	defer j.deps.release(lease)

	cctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	ids, err := j.deps.Converter.ConvertLocked(cctx, b)
	if errors.Is(err, models.ErrAwaitingReconcile) {
		log.Debug().Err(err).Msg("booking waits for reconcile")
		return OutcomeSkipped, nil
	}
	if err != nil {
		log.Info().Err(err).Msg("booking not converted")
		return OutcomeFailed, err
	}
	log.Debug().Strs("reservation_ids", ids).Msg("booking converted by sweep")
	return OutcomeSuccess, nil
}

// statusSweep moves every reservation matching a filter to a terminal status.
type statusSweep struct {
	deps  Deps
	name  string
	to    models.ReservationStatus
	actor string
}

func (j *statusSweep) apply(ctx context.Context, rep *Report, list []models.Reservation) map[int64]bool {
	rooms := make(map[int64]bool)
	at := j.deps.now()
	for _, r := range list {
		ok, err := j.deps.Store.UpdateReservationStatus(ctx, r.ID, r.Status, j.to, j.actor, at)
		switch {
		case err != nil:
			j.deps.Logger.Error().Err(err).Str("job", j.name).Str("reservation_id", r.ID).Msg("status update failed")
			rep.add(r.ID, OutcomeFailed, err)
			continue
		case !ok:
			// changed under us
			rep.add(r.ID, OutcomeSkipped, nil)
			continue
		}
		rep.add(r.ID, OutcomeSuccess, nil)
		rooms[r.RoomID] = true

		j.deps.publish(ctx, notify.Event{
			Type:           notify.EventReservationStatus,
			RoomID:         r.RoomID,
			BookingID:      r.BookingID,
			ReservationIDs: []string{r.ID},
			Status:         string(j.to),
			Data:           map[string]any{"from": r.Status, "by": j.actor},
		})
	}
	return rooms
}

// AutoCancel cancels booked reservations nobody checked in to within the grace period.
type AutoCancel struct {
	statusSweep
	grace time.Duration
}

func NewAutoCancel(deps Deps, grace time.Duration) *AutoCancel {
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &AutoCancel{
		statusSweep: statusSweep{deps: deps, name: JobAutoCancel, to: models.StatusCancelled, actor: "system:auto-cancel"},
		grace:       grace,
	}
}

func (j *AutoCancel) Name() string { return j.name }

func (j *AutoCancel) Run(ctx context.Context) (rep *Report, err error) {
	rep = newReport(j.name, time.Now())
	defer func() { rep.finish(err) }()

	cutoff := j.deps.now().Add(-j.grace)
	list, err := j.deps.Store.ListReservations(ctx, database.ReservationFilter{
		Statuses:    []models.ReservationStatus{models.StatusBooked},
		StartBefore: &cutoff,
	})
	if err != nil {
		return rep, fmt.Errorf("list no-shows: %w", err)
	}

	j.apply(ctx, rep, list)
	return rep, nil
}

// AutoFinish closes every live reservation of the ending day and clears room session state.
type AutoFinish struct {
	statusSweep
	boundaryHour int
}

var finishable = []models.ReservationStatus{
	models.StatusBooked, models.StatusInUse, models.StatusLocked, models.StatusMaintenance,
}

func NewAutoFinish(deps Deps, boundaryHour int) *AutoFinish {
	return &AutoFinish{
		statusSweep:  statusSweep{deps: deps, name: JobAutoFinish, to: models.StatusFinished, actor: "system:auto-finish"},
		boundaryHour: boundaryHour,
	}
}

func (j *AutoFinish) Name() string { return j.name }

func (j *AutoFinish) Run(ctx context.Context) (rep *Report, err error) {
	rep = newReport(j.name, time.Now())
	defer func() { rep.finish(err) }()

	loc := j.deps.Location
	if loc == nil {
		loc = time.UTC
	}
	cutoff := NextDayBoundary(j.deps.now(), loc, j.boundaryHour)
	list, err := j.deps.Store.ListReservations(ctx, database.ReservationFilter{
		Statuses:    finishable,
		StartBefore: &cutoff,
	})
	if err != nil {
		return rep, fmt.Errorf("list live reservations: %w", err)
	}

	rooms := j.apply(ctx, rep, list)

	if j.deps.Cleaner != nil {
		for roomID := range rooms {
			if err := j.deps.Cleaner.CleanupRoom(ctx, roomID); err != nil {
				j.deps.Logger.Warn().Err(err).Int64("room_id", roomID).Msg("room session cleanup failed")
			}
		}
	}
	return rep, nil
}

// Reconcile settles reservations left behind by conversions that wrote reservations but never
// committed the booking, and booked leftovers of cancelled or already confirmed bookings.
type Reconcile struct {
	deps  Deps
	grace time.Duration
}

func NewReconcile(deps Deps, grace time.Duration) *Reconcile {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Reconcile{deps: deps, grace: grace}
}

func (j *Reconcile) Name() string { return JobReconcile }

func (j *Reconcile) Run(ctx context.Context) (rep *Report, err error) {
	rep = newReport(j.Name(), time.Now())
	defer func() { rep.finish(err) }()

	orphans, err := j.deps.Store.ListUnconfirmedBookingReservations(ctx, j.deps.now().Add(-j.grace))
	if err != nil {
		return rep, fmt.Errorf("list unconfirmed reservations: %w", err)
	}

	var order []string
	seen := make(map[string]bool)
	for _, r := range orphans {
		if !seen[r.BookingID] {
			seen[r.BookingID] = true
			order = append(order, r.BookingID)
		}
	}

	for _, id := range order {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		outcome, rerr := j.reconcileOne(ctx, id)
		rep.add(id, outcome, rerr)
	}
	return rep, nil
}

func (j *Reconcile) reconcileOne(ctx context.Context, bookingID string) (string, error) {
	log := j.deps.Logger.With().Str("job", j.Name()).Str("booking_id", bookingID).Logger()

	lease, err := j.deps.Locker.Acquire(ctx, bookingID)
	if err != nil {
		return OutcomeFailed, err
	}
	if lease == nil {
		return OutcomeSkippedLocked, nil
	}
	defer j.deps.release(lease)

	b, err := j.deps.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return OutcomeFailed, err
	}

	live, err := j.deps.Store.ListLiveBookingReservations(ctx, bookingID)
	if err != nil {
		return OutcomeFailed, err
	}

	switch b.Status {
	case models.BookingConfirmed:
		// Committed meanwhile; drop anything it does not own.
		owned := make(map[string]bool, len(b.ReservationIDs))
		for _, id := range b.ReservationIDs {
			owned[id] = true
		}
		var extra []models.Reservation
		for _, r := range live {
			if !owned[r.ID] {
				extra = append(extra, r)
			}
		}
		if len(extra) == 0 {
			return OutcomeSkipped, nil
		}
		return j.rollback(ctx, b, extra, "booking already confirmed")
	case models.BookingCancelled:
		return j.rollback(ctx, b, live, "booking cancelled")
	}

	ids, ok := j.matchSlots(b, live)
	if !ok {
		return j.rollback(ctx, b, live, "reservations do not cover the booking")
	}

	committed, err := j.deps.Store.ConfirmBooking(ctx, b.ID, ids, j.deps.now())
	if err != nil {
		return OutcomeFailed, err
	}
	if !committed {
		return OutcomeFailed, errors.New("booking left pending during reconcile")
	}

	log.Info().Strs("reservation_ids", ids).Msg("reconcile committed booking")
	j.deps.publish(ctx, notify.Event{
		Type:           notify.EventBookingReconciled,
		RoomID:         live[0].RoomID,
		BookingID:      b.ID,
		ReservationIDs: ids,
		Status:         string(models.BookingConfirmed),
		Data:           map[string]any{"action": OutcomeCommitted},
	})
	return OutcomeCommitted, nil
}

// matchSlots returns reservation ids in slot order when every slot has exactly one live
// reservation and all of them are on the same room.
func (j *Reconcile) matchSlots(b *models.Booking, live []models.Reservation) ([]string, bool) {
	slots, err := j.deps.Converter.ParseSlots(b.Date, b.Slots)
	if err != nil || len(live) != len(slots) {
		return nil, false
	}

	ids := make([]string, 0, len(slots))
	for _, slot := range slots {
		found := false
		for _, r := range live {
			if r.RoomID != live[0].RoomID || r.End == nil {
				return nil, false
			}
			if r.Start.Equal(slot.Start) && r.End.Equal(slot.End) {
				ids = append(ids, r.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return ids, true
}

func (j *Reconcile) rollback(ctx context.Context, b *models.Booking, list []models.Reservation, reason string) (string, error) {
	var cancelled []string
	var firstErr error
	for _, r := range list {
		if r.Status != models.StatusBooked {
			continue
		}
		ok, err := j.deps.Store.UpdateReservationStatus(ctx, r.ID, models.StatusBooked, models.StatusCancelled, "system:reconcile", j.deps.now())
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			cancelled = append(cancelled, r.ID)
		}
	}

	j.deps.Logger.Warn().
		Str("job", j.Name()).
		Str("booking_id", b.ID).
		Str("reason", reason).
		Strs("cancelled_ids", cancelled).
		Msg("reconcile rolled back reservations")

	var roomID int64
	if len(list) > 0 {
		roomID = list[0].RoomID
	}
	j.deps.publish(ctx, notify.Event{
		Type:           notify.EventBookingReconciled,
		RoomID:         roomID,
		BookingID:      b.ID,
		ReservationIDs: cancelled,
		Status:         string(b.Status),
		Message:        reason,
		Data:           map[string]any{"action": OutcomeRolledBack},
	})

	if firstErr != nil {
		return OutcomeFailed, firstErr
	}
	return OutcomeRolledBack, nil
}
