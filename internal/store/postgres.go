package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/provinceapp/provchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// InitSchema creates tables if they don't exist and seeds the default room.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		province_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS memberships (
		room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_read_id TEXT,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);

	INSERT INTO rooms (id, name)
	VALUES ('00000000-0000-0000-0000-000000000001', 'lobby')
	ON CONFLICT (id) DO NOTHING;
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, province_id, created_at
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Name,
		&room.ProvinceID,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// UpsertMembership joins a user to a room. An existing row is left untouched
// and returned; the operation is safe to repeat.
func (s *PostgresStore) UpsertMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.MembershipRecord, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID)
	if err != nil {
		return nil, err
	}
	return s.GetMembership(ctx, roomID, userID)
}

// GetMembership retrieves a membership row.
func (s *PostgresStore) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.MembershipRecord, error) {
	rec := &models.MembershipRecord{}
	var rid, uid uuid.UUID
	var lastRead *string
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, user_id, joined_at, last_read_id
		FROM memberships WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&rid, &uid, &rec.JoinedAt, &lastRead)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.RoomID = rid.String()
	rec.UserID = uid.String()
	if lastRead != nil {
		rec.LastReadID = *lastRead
	}
	return rec, nil
}

// DeleteMembership removes a membership row. Removing an absent row succeeds.
func (s *PostgresStore) DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM memberships WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	return err
}

// UpdateReadCursor advances the user's last-read message id.
func (s *PostgresStore) UpdateReadCursor(ctx context.Context, roomID, userID uuid.UUID, lastMessageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memberships SET last_read_id = $3
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, lastMessageID)
	return err
}
