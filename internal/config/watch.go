package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

// RoomsWatcher polls rooms.yaml by modification time. The caller loads the file once at
// startup; the watcher only reports later edits.
type RoomsWatcher struct {
	path     string
	interval time.Duration
	lastMod  time.Time
}

func NewRoomsWatcher(path string, interval time.Duration) (*RoomsWatcher, error) {
	if path == "" {
		path = "configs/rooms.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rooms file: %w", err)
	}
	return &RoomsWatcher{path: path, interval: interval, lastMod: info.ModTime()}, nil
}

// Poll returns the reloaded directory when the file changed since the last poll, or nil when
// it did not. A rejected edit is reported once; the next edit is tried again.
func (w *RoomsWatcher) Poll() (*RoomsConfig, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fmt.Errorf("stat rooms file: %w", err)
	}
	if !info.ModTime().After(w.lastMod) {
		return nil, nil
	}
	w.lastMod = info.ModTime()
	return LoadRoomsConfig(w.path)
}

// Run polls until ctx is done.
func (w *RoomsWatcher) Run(ctx context.Context, onUpdate func(*RoomsConfig), onError func(error)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := w.Poll()
			switch {
			case err != nil:
				if onError != nil {
					onError(err)
				}
			case cfg != nil && onUpdate != nil:
				onUpdate(cfg)
			}
		}
	}
}
