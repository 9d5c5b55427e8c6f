package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"roomsched/internal/models"
)

// RoomConfig is one entry of rooms.yaml.
type RoomConfig struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Size     string `yaml:"size"`
	Priority int    `yaml:"priority"`
	Locked   bool   `yaml:"locked"`
	IsActive *bool  `yaml:"is_active,omitempty"`
}

// RoomsConfig is the root of rooms.yaml.
type RoomsConfig struct {
	Rooms []RoomConfig `yaml:"rooms"`
}

// LoadRoomsConfig loads and validates the room directory file.
func LoadRoomsConfig(path string) (*RoomsConfig, error) {
	if path == "" {
		path = "configs/rooms.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}

	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rooms config: %w", err)
	}

	return &cfg, nil
}

// Validate checks ids, names and sizes.
func (c *RoomsConfig) Validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("no rooms defined")
	}

	ids := make(map[int64]bool)
	names := make(map[string]bool)

	for i, r := range c.Rooms {
		if r.ID <= 0 {
			return fmt.Errorf("room[%d]: id must be positive, got %d", i, r.ID)
		}
		if ids[r.ID] {
			return fmt.Errorf("room[%d]: duplicate id %d", i, r.ID)
		}
		ids[r.ID] = true

		if r.Name == "" {
			return fmt.Errorf("room[%d]: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("room[%d]: duplicate name '%s'", i, r.Name)
		}
		names[r.Name] = true

		if _, err := models.ParseRoomSize(r.Size); err != nil {
			return fmt.Errorf("room[%d]: %w", i, err)
		}
		if r.Priority < 0 {
			return fmt.Errorf("room[%d]: priority cannot be negative", i)
		}
	}

	return nil
}

// ToModels converts the validated entries; rooms are active unless stated otherwise.
func (c *RoomsConfig) ToModels() []models.Room {
	out := make([]models.Room, 0, len(c.Rooms))
	for _, r := range c.Rooms {
		size, _ := models.ParseRoomSize(r.Size)
		active := true
		if r.IsActive != nil {
			active = *r.IsActive
		}
		out = append(out, models.Room{
			ID:       r.ID,
			Name:     r.Name,
			Size:     size,
			Priority: r.Priority,
			Locked:   r.Locked,
			IsActive: active,
		})
	}
	return out
}

func (c *RoomsConfig) String() string {
	locked := 0
	for _, r := range c.Rooms {
		if r.Locked {
			locked++
		}
	}
	return fmt.Sprintf("RoomsConfig: %d rooms (%d locked)", len(c.Rooms), locked)
}
