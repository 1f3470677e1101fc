package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/provinceapp/provchat/internal/models"
)

// ErrNotFound reports a missing row or message. Callers decide whether that
// is terminal or an absorbable no-op.
var ErrNotFound = errors.New("store: not found")

// DataStore is the durable row store for rooms, memberships, and read
// cursors. Both PostgresStore and SQLiteStore implement this interface;
// lookups return (nil, nil) for absent rows.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations (rooms are provisioned out of band; read-only here)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)

	// Membership operations
	UpsertMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.MembershipRecord, error)
	GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.MembershipRecord, error)
	DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error
	UpdateReadCursor(ctx context.Context, roomID, userID uuid.UUID, lastMessageID string) error
}
