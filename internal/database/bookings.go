package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"roomsched/internal/models"
)

var bookingColumns = []string{
	"id", "customer_name", "customer_phone", "customer_email", "size", "date", "slots",
	"status", "reservation_ids", "note", "created_at", "updated_at", "confirmed_at",
}

// CreateBooking persists a new booking. Empty status defaults to pending.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.Status == "" {
		b.Status = models.BookingPending
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	slots, err := json.Marshal(nonNil(b.Slots))
	if err != nil {
		return fmt.Errorf("CreateBooking - marshal slots: %w", err)
	}
	ids, err := json.Marshal(nonNil(b.ReservationIDs))
	if err != nil {
		return fmt.Errorf("CreateBooking - marshal reservation ids: %w", err)
	}

	query, args, err := builder.Insert("bookings").
		Columns(bookingColumns...).
		Values(
			b.ID, b.CustomerName, b.CustomerPhone, b.CustomerEmail, string(b.Size), b.Date, string(slots),
			string(b.Status), string(ids), b.Note, toMillis(b.CreatedAt), toMillis(b.UpdatedAt), nullMillis(b.ConfirmedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateBooking - build insert query: %v", ErrBuildQuery, err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: CreateBooking - execute insert: %v", ErrExecQuery, err)
	}
	return nil
}

// GetBooking returns a booking by id or models.ErrNotFound.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query, args, err := builder.Select(bookingColumns...).From("bookings").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetBooking - build select query: %v", ErrBuildQuery, err)
	}

	b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: GetBooking: %v", ErrScanRow, err)
	}
	return b, nil
}

// ListBookingsByStatus returns bookings in status, oldest first. limit 0 means no limit.
func (db *DB) ListBookingsByStatus(ctx context.Context, status models.BookingStatus, limit int) ([]models.Booking, error) {
	q := builder.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"status": string(status)}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListBookingsByStatus: %v", ErrBuildQuery, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ListBookingsByStatus: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: ListBookingsByStatus: %v", ErrScanRow, err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ConfirmBooking is the single atomic commit of a conversion. It only succeeds while the
// booking is still pending and reports whether this call performed the transition.
func (db *DB) ConfirmBooking(ctx context.Context, id string, reservationIDs []string, at time.Time) (bool, error) {
	ids, err := json.Marshal(nonNil(reservationIDs))
	if err != nil {
		return false, fmt.Errorf("ConfirmBooking - marshal reservation ids: %w", err)
	}

	query, args, err := builder.Update("bookings").
		Set("status", string(models.BookingConfirmed)).
		Set("reservation_ids", string(ids)).
		Set("confirmed_at", toMillis(at)).
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{"id": id, "status": string(models.BookingPending)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: ConfirmBooking: %v", ErrBuildQuery, err)
	}

	return db.execAffected(ctx, "ConfirmBooking", query, args)
}

// CancelBooking moves a pending booking to cancelled.
func (db *DB) CancelBooking(ctx context.Context, id string, at time.Time) (bool, error) {
	query, args, err := builder.Update("bookings").
		Set("status", string(models.BookingCancelled)).
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{"id": id, "status": string(models.BookingPending)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: CancelBooking: %v", ErrBuildQuery, err)
	}

	return db.execAffected(ctx, "CancelBooking", query, args)
}

func (db *DB) execAffected(ctx context.Context, op, query string, args []any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrExecQuery, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %s - rows affected: %v", ErrExecQuery, op, err)
	}
	return n > 0, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                    models.Booking
		size, status         string
		slots, ids           string
		createdAt, updatedAt int64
		confirmedAt          sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.CustomerName, &b.CustomerPhone, &b.CustomerEmail, &size, &b.Date, &slots,
		&status, &ids, &b.Note, &createdAt, &updatedAt, &confirmedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(slots), &b.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &b.ReservationIDs); err != nil {
		return nil, fmt.Errorf("decode reservation ids: %w", err)
	}
	b.Size = models.RoomSize(size)
	b.Status = models.BookingStatus(status)
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	b.ConfirmedAt = fromNullMillis(confirmedAt)
	return &b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
