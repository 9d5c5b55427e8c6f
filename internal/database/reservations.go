package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"roomsched/internal/models"
)

var reservationColumns = []string{
	"id", "room_id", "booking_id", "start_time", "end_time", "status",
	"note", "created_by", "updated_by", "created_at", "updated_at",
}

// ReservationFilter narrows ListReservations. Zero values mean "any".
type ReservationFilter struct {
	RoomID      int64
	BookingID   string
	Statuses    []models.ReservationStatus
	StartBefore *time.Time
	// OverlapFrom/OverlapTo select reservations intersecting [OverlapFrom, OverlapTo).
	OverlapFrom *time.Time
	OverlapTo   *time.Time
	Limit       uint64
}

// CountOverlapping counts reservations of roomID intersecting [start, end), ignoring excluded
// statuses. A nil end is treated as +inf; a stored NULL end_time also extends to +inf.
func (db *DB) CountOverlapping(ctx context.Context, roomID int64, start time.Time, end *time.Time, exclude []models.ReservationStatus) (int, error) {
	return countOverlapping(ctx, db, roomID, start, end, exclude)
}

func countOverlapping(ctx context.Context, ex executor, roomID int64, start time.Time, end *time.Time, exclude []models.ReservationStatus) (int, error) {
	q := builder.Select("COUNT(*)").
		From("reservations").
		Where(squirrel.Eq{"room_id": roomID}).
		Where(overlapPredicate(start, end))
	if len(exclude) > 0 {
		q = q.Where(squirrel.NotEq{"status": statusStrings(exclude)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: CountOverlapping: %v", ErrBuildQuery, err)
	}

	var count int
	if err := ex.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: CountOverlapping: %v", ErrExecQuery, err)
	}
	return count, nil
}

// overlapPredicate: existing.start < end AND (existing.end > start OR existing.end IS NULL).
func overlapPredicate(start time.Time, end *time.Time) squirrel.Sqlizer {
	and := squirrel.And{
		squirrel.Or{
			squirrel.Gt{"end_time": toMillis(start)},
			squirrel.Eq{"end_time": nil},
		},
	}
	if end != nil {
		and = append(and, squirrel.Lt{"start_time": toMillis(*end)})
	}
	return and
}

// InsertReservation re-checks the room for overlaps and inserts inside one transaction.
// It returns models.ErrRoomOccupied when a blocking reservation exists.
func (db *DB) InsertReservation(ctx context.Context, r *models.Reservation, exclude []models.ReservationStatus) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.UpdatedBy == "" {
		r.UpdatedBy = r.CreatedBy
	}

	query, args, err := builder.Insert("reservations").
		Columns(reservationColumns...).
		Values(
			r.ID, r.RoomID, r.BookingID, toMillis(r.Start), nullMillis(r.End), string(r.Status),
			r.Note, r.CreatedBy, r.UpdatedBy, toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: InsertReservation - build insert query: %v", ErrBuildQuery, err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		count, err := countOverlapping(ctx, tx, r.RoomID, r.Start, r.End, exclude)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("room %d: %w", r.RoomID, models.ErrRoomOccupied)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: InsertReservation - execute insert: %v", ErrExecQuery, err)
		}
		return nil
	})
}

// GetReservation returns a reservation by id or models.ErrNotFound.
func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	query, args, err := builder.Select(reservationColumns...).From("reservations").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetReservation: %v", ErrBuildQuery, err)
	}

	r, err := scanReservation(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: GetReservation: %v", ErrScanRow, err)
	}
	return r, nil
}

// ListReservations returns reservations matching filter ordered by start time.
func (db *DB) ListReservations(ctx context.Context, filter ReservationFilter) ([]models.Reservation, error) {
	q := builder.Select(reservationColumns...).From("reservations")
	if filter.RoomID > 0 {
		q = q.Where(squirrel.Eq{"room_id": filter.RoomID})
	}
	if filter.BookingID != "" {
		q = q.Where(squirrel.Eq{"booking_id": filter.BookingID})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(squirrel.Eq{"status": statusStrings(filter.Statuses)})
	}
	if filter.StartBefore != nil {
		q = q.Where(squirrel.Lt{"start_time": toMillis(*filter.StartBefore)})
	}
	if filter.OverlapFrom != nil {
		q = q.Where(overlapPredicate(*filter.OverlapFrom, filter.OverlapTo))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	q = q.OrderBy("start_time ASC", "room_id ASC")

	return db.queryReservations(ctx, "ListReservations", q)
}

// ListLiveBookingReservations returns the reservations tagged to a booking that still occupy
// their room, ordered by start time.
func (db *DB) ListLiveBookingReservations(ctx context.Context, bookingID string) ([]models.Reservation, error) {
	q := builder.Select(reservationColumns...).
		From("reservations").
		Where(squirrel.Eq{"booking_id": bookingID}).
		Where(squirrel.NotEq{"status": statusStrings(models.NonBlockingStatuses)}).
		OrderBy("start_time ASC", "room_id ASC")

	return db.queryReservations(ctx, "ListLiveBookingReservations", q)
}

// ListUnconfirmedBookingReservations returns reservations written before createdBefore that
// no booking owns yet:
//   - live reservations of a pending booking;
//   - booked reservations of a cancelled booking;
//   - booked reservations of a confirmed booking that are missing from its reservation_ids.
func (db *DB) ListUnconfirmedBookingReservations(ctx context.Context, createdBefore time.Time) ([]models.Reservation, error) {
	cols := make([]string, len(reservationColumns))
	for i, c := range reservationColumns {
		cols[i] = "r." + c
	}

	booked := squirrel.Eq{"r.status": string(models.StatusBooked)}
	q := builder.Select(cols...).
		From("reservations r").
		Join("bookings b ON b.id = r.booking_id").
		Where(squirrel.Or{
			squirrel.And{
				squirrel.Eq{"b.status": string(models.BookingPending)},
				squirrel.NotEq{"r.status": statusStrings(models.NonBlockingStatuses)},
			},
			squirrel.And{
				squirrel.Eq{"b.status": string(models.BookingCancelled)},
				booked,
			},
			squirrel.And{
				squirrel.Eq{"b.status": string(models.BookingConfirmed)},
				booked,
				squirrel.Expr("instr(b.reservation_ids, r.id) = 0"),
			},
		}).
		Where(squirrel.Lt{"r.created_at": toMillis(createdBefore)}).
		OrderBy("r.booking_id ASC", "r.start_time ASC")

	return db.queryReservations(ctx, "ListUnconfirmedBookingReservations", q)
}

// UpdateReservationStatus moves a reservation from one status to another. The write is guarded
// by the expected current status, so concurrent writers cannot both apply a transition.
func (db *DB) UpdateReservationStatus(ctx context.Context, id string, from, to models.ReservationStatus, by string, at time.Time) (bool, error) {
	query, args, err := builder.Update("reservations").
		Set("status", string(to)).
		Set("updated_by", by).
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{"id": id, "status": string(from)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: UpdateReservationStatus: %v", ErrBuildQuery, err)
	}

	return db.execAffected(ctx, "UpdateReservationStatus", query, args)
}

func (db *DB) queryReservations(ctx context.Context, op string, q squirrel.SelectBuilder) ([]models.Reservation, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBuildQuery, op, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecQuery, op, err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrScanRow, op, err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                    models.Reservation
		status               string
		start                int64
		end                  sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&r.ID, &r.RoomID, &r.BookingID, &start, &end, &status,
		&r.Note, &r.CreatedBy, &r.UpdatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Start = fromMillis(start)
	r.End = fromNullMillis(end)
	r.Status = models.ReservationStatus(status)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func statusStrings(statuses []models.ReservationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
