// Package report renders the room schedule as xlsx workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"roomsched/internal/database"
	"roomsched/internal/models"
)

// Source is the read side of the store the exporter needs.
type Source interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
	ListReservations(ctx context.Context, filter database.ReservationFilter) ([]models.Reservation, error)
}

var reservationColumns = []string{
	"Room", "Size", "Start", "End", "Status", "Booking", "Note", "Created by", "Updated by",
}

var summaryColumns = []string{"Room", "Size", "Active", "Locked", "Reservations", "Occupied minutes"}

// ScheduleExporter writes one day of the schedule.
type ScheduleExporter struct {
	source Source
	loc    *time.Location
	now    func() time.Time
	logger *zerolog.Logger
}

func NewScheduleExporter(source Source, loc *time.Location, logger *zerolog.Logger) *ScheduleExporter {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "report").Logger()
	return &ScheduleExporter{source: source, loc: loc, now: time.Now, logger: &l}
}

// FileName is the suggested download name for a day.
func FileName(date string) string {
	return fmt.Sprintf("schedule_%s.xlsx", date)
}

// WriteDay writes the reservations touching date, plus a per-room summary, as xlsx to out.
func (e *ScheduleExporter) WriteDay(ctx context.Context, date string, out io.Writer) error {
	day, err := models.ParseDate(date, e.loc)
	if err != nil {
		return err
	}
	next := day.AddDate(0, 0, 1)

	rooms, err := e.source.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	reservations, err := e.source.ListReservations(ctx, database.ReservationFilter{
		OverlapFrom: &day,
		OverlapTo:   &next,
	})
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}

	byID := make(map[int64]models.Room, len(rooms))
	for _, r := range rooms {
		byID[r.ID] = r
	}
	sort.SliceStable(reservations, func(i, j int) bool {
		if reservations[i].RoomID != reservations[j].RoomID {
			return reservations[i].RoomID < reservations[j].RoomID
		}
		return reservations[i].Start.Before(reservations[j].Start)
	})

	w := newSheetWriter()
	defer func() { _ = w.close() }()

	if err := w.addSheet(date); err != nil {
		return err
	}
	if err := w.writeHeader(reservationColumns); err != nil {
		return err
	}
	w.setWidths(12, 8, 18, 18, 12, 38, 48, 20, 20)

	minutes := make(map[int64]int)
	counts := make(map[int64]int)
	for _, r := range reservations {
		room := byID[r.RoomID]
		name := room.Name
		if name == "" {
			name = fmt.Sprintf("#%d", r.RoomID)
		}

		end := ""
		if r.End != nil {
			end = e.format(*r.End)
		}
		if err := w.writeRow([]any{
			name, string(room.Size), e.format(r.Start), end, string(r.Status),
			r.BookingID, r.Note, r.CreatedBy, r.UpdatedBy,
		}); err != nil {
			return err
		}

		if r.Status == models.StatusCancelled {
			continue
		}
		counts[r.RoomID]++
		minutes[r.RoomID] += e.occupiedMinutes(r, day, next)
	}

	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	if err := w.writeHeader(summaryColumns); err != nil {
		return err
	}
	w.setWidths(12, 8, 8, 8, 14, 18)
	for _, room := range rooms {
		if err := w.writeRow([]any{
			room.Name, string(room.Size), yesNo(room.IsActive), yesNo(room.Locked),
			counts[room.ID], minutes[room.ID],
		}); err != nil {
			return err
		}
	}

	if err := w.save(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	e.logger.Debug().Str("date", date).Int("reservations", len(reservations)).Msg("schedule exported")
	return nil
}

func (e *ScheduleExporter) format(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02 15:04")
}

// occupiedMinutes clips a reservation to the day. Open-ended ones count until now.
func (e *ScheduleExporter) occupiedMinutes(r models.Reservation, day, next time.Time) int {
	start := r.Start
	if start.Before(day) {
		start = day
	}
	end := next
	if r.End != nil {
		end = *r.End
	} else if now := e.now(); now.Before(next) {
		end = now
	}
	if end.After(next) {
		end = next
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
