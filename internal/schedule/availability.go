package schedule

import (
	"context"
	"fmt"

	"roomsched/internal/models"
)

// SlotInfo is one cell of the availability grid.
type SlotInfo struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
	FreeRooms int    `json:"free_rooms"`
}

// Availability builds the opening-hours grid for a date and size. A slot is available when at
// least one allocatable room of exactly that size is free; upgrades are not considered.
func (s *Service) Availability(ctx context.Context, date string, size models.RoomSize) ([]SlotInfo, error) {
	if !size.Valid() {
		return nil, &ValidationError{Field: "size", Reason: fmt.Sprintf("unknown room size %q", size)}
	}
	day, err := models.ParseDate(date, s.opts.Location)
	if err != nil {
		return nil, &ValidationError{Field: "date", Reason: err.Error()}
	}

	open, err := models.ClockOnDate(day, s.opts.Open)
	if err != nil {
		return nil, fmt.Errorf("opening time: %w", err)
	}
	closing, err := models.ClockOnDate(day, s.opts.Close)
	if err != nil {
		return nil, fmt.Errorf("closing time: %w", err)
	}

	rooms, err := s.store.ListAllocatableRooms(ctx, size)
	if err != nil {
		return nil, err
	}

	now := s.now()
	step := s.opts.SlotDuration
	var grid []SlotInfo

	for cursor := open; !cursor.Add(step).After(closing); cursor = cursor.Add(step) {
		end := cursor.Add(step)
		free := 0
		if end.After(now) {
			for _, room := range rooms {
				occupied, err := s.detector.IsOccupied(ctx, room.ID, cursor, &end, nil)
				if err != nil {
					return nil, err
				}
				if !occupied {
					free++
				}
			}
		}

		label := end.Format("15:04")
		if end.Day() != cursor.Day() && label == "00:00" {
			label = "24:00"
		}
		grid = append(grid, SlotInfo{
			Start:     cursor.Format("15:04"),
			End:       label,
			Available: free > 0,
			FreeRooms: free,
		})
	}

	return grid, nil
}
