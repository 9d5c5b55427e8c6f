package models

import (
	"fmt"
	"strings"
	"time"
)

// RoomSize is the size category of a room.
type RoomSize string

const (
	SizeSmall  RoomSize = "small"
	SizeMedium RoomSize = "medium"
	SizeLarge  RoomSize = "large"
)

// ParseRoomSize validates a size coming from outside (API payloads, config files).
func ParseRoomSize(s string) (RoomSize, error) {
	size := RoomSize(strings.ToLower(strings.TrimSpace(s)))
	if !size.Valid() {
		return "", fmt.Errorf("unknown room size %q", s)
	}
	return size, nil
}

// Valid reports whether the size is one of the known categories.
func (s RoomSize) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// Next returns the upgrade target for the size. Large has none.
func (s RoomSize) Next() (RoomSize, bool) {
	switch s {
	case SizeSmall:
		return SizeMedium, true
	case SizeMedium:
		return SizeLarge, true
	}
	return "", false
}

// Rank orders sizes from small (1) to large (3); unknown sizes rank 0.
func (s RoomSize) Rank() int {
	switch s {
	case SizeSmall:
		return 1
	case SizeMedium:
		return 2
	case SizeLarge:
		return 3
	}
	return 0
}

func (s RoomSize) String() string {
	return string(s)
}

// Room is a physical room that can host one session at a time.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Size      RoomSize  `json:"size"`
	Priority  int       `json:"priority"`
	Locked    bool      `json:"locked"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Allocatable reports whether the allocator may hand this room out.
func (r *Room) Allocatable() bool {
	return r.IsActive && !r.Locked
}
