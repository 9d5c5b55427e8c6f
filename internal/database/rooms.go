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

var roomColumns = []string{"id", "name", "size", "priority", "locked", "is_active", "created_at", "updated_at"}

// SyncRooms applies the room directory to the database.
// It upserts rooms and marks rooms that disappeared from the directory inactive.
func (db *DB) SyncRooms(ctx context.Context, rooms []models.Room) error {
	now := toMillis(time.Now())
	seen := make(map[int64]struct{}, len(rooms))

	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, room := range rooms {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rooms (id, name, size, priority, locked, is_active, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					size = excluded.size,
					priority = excluded.priority,
					locked = excluded.locked,
					is_active = excluded.is_active,
					updated_at = excluded.updated_at`,
				room.ID, room.Name, string(room.Size), room.Priority, room.Locked, room.IsActive, now, now,
			)
			if err != nil {
				return fmt.Errorf("%w: SyncRooms - upsert room %d: %v", ErrExecQuery, room.ID, err)
			}
			seen[room.ID] = struct{}{}
		}

		ids := make([]int64, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}

		query, args, err := builder.Update("rooms").
			Set("is_active", false).
			Set("updated_at", now).
			Where(squirrel.NotEq{"id": ids}).
			Where(squirrel.Eq{"is_active": true}).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: SyncRooms - build deactivate query: %v", ErrBuildQuery, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: SyncRooms - deactivate missing rooms: %v", ErrExecQuery, err)
		}
		return nil
	})
}

// GetRoom returns a room by id or models.ErrNotFound.
func (db *DB) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	query, args, err := builder.Select(roomColumns...).From("rooms").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetRoom - build select query: %v", ErrBuildQuery, err)
	}

	room, err := scanRoom(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: GetRoom: %v", ErrScanRow, err)
	}
	return room, nil
}

// ListRooms returns every room, active or not, ordered by id.
func (db *DB) ListRooms(ctx context.Context) ([]models.Room, error) {
	return db.queryRooms(ctx, builder.Select(roomColumns...).From("rooms").OrderBy("id ASC"))
}

// ListAllocatableRooms returns active, unlocked rooms of size in allocation order.
func (db *DB) ListAllocatableRooms(ctx context.Context, size models.RoomSize) ([]models.Room, error) {
	return db.queryRooms(ctx, builder.Select(roomColumns...).
		From("rooms").
		Where(squirrel.Eq{"size": string(size), "is_active": true, "locked": false}).
		OrderBy("priority ASC", "id ASC"))
}

func (db *DB) queryRooms(ctx context.Context, q squirrel.SelectBuilder) ([]models.Room, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: queryRooms: %v", ErrBuildQuery, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: queryRooms: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: queryRooms: %v", ErrScanRow, err)
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		room                 models.Room
		size                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&room.ID, &room.Name, &size, &room.Priority, &room.Locked, &room.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	room.Size = models.RoomSize(size)
	room.CreatedAt = fromMillis(createdAt)
	room.UpdatedAt = fromMillis(updatedAt)
	return &room, nil
}
