package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/provinceapp/provchat/internal/models"
)

// SQLiteStore handles SQLite database operations. Single-node/dev parity for
// the PostgreSQL store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/provchat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/provchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		province_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS memberships (
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_read_id TEXT,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);

	-- Seed default room if not exists
	INSERT OR IGNORE INTO rooms (id, name)
	VALUES ('00000000-0000-0000-0000-000000000001', 'lobby');
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	var idStr string
	var provinceStr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, province_id, created_at
		FROM rooms WHERE id = ?
	`, id.String()).Scan(&idStr, &room.Name, &provinceStr, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	room.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	if provinceStr.Valid {
		pid, err := uuid.Parse(provinceStr.String)
		if err != nil {
			return nil, err
		}
		room.ProvinceID = &pid
	}
	return room, nil
}

// UpsertMembership joins a user to a room. An existing row is left untouched
// and returned; the operation is safe to repeat.
func (s *SQLiteStore) UpsertMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.MembershipRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memberships (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, roomID.String(), userID.String(), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.GetMembership(ctx, roomID, userID)
}

// GetMembership retrieves a membership row.
func (s *SQLiteStore) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.MembershipRecord, error) {
	rec := &models.MembershipRecord{}
	var lastRead sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, user_id, joined_at, last_read_id
		FROM memberships WHERE room_id = ? AND user_id = ?
	`, roomID.String(), userID.String()).Scan(&rec.RoomID, &rec.UserID, &rec.JoinedAt, &lastRead)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastRead.Valid {
		rec.LastReadID = lastRead.String
	}
	return rec, nil
}

// DeleteMembership removes a membership row. Removing an absent row succeeds.
func (s *SQLiteStore) DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE room_id = ? AND user_id = ?
	`, roomID.String(), userID.String())
	return err
}

// UpdateReadCursor advances the user's last-read message id.
func (s *SQLiteStore) UpdateReadCursor(ctx context.Context, roomID, userID uuid.UUID, lastMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET last_read_id = ?
		WHERE room_id = ? AND user_id = ?
	`, lastMessageID, roomID.String(), userID.String())
	return err
}
