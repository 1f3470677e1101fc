package chat

import (
	"context"

	"github.com/provinceapp/provchat/internal/models"
)

// Backend is the data-store boundary the sync engine drives. The production
// implementation lives in internal/store; tests use an in-memory fake.
// Implementations classify expected failures with the Kind taxonomy.
type Backend interface {
	// QueryMessages returns up to limit messages for the room, newest first.
	// A non-nil cursor bounds results strictly older than
	// (before.Timestamp, before.ID).
	QueryMessages(ctx context.Context, roomID string, limit int, before *models.Cursor) ([]models.Message, error)

	// InsertMessage appends a message; the server assigns id and timestamp.
	InsertMessage(ctx context.Context, roomID, authorID, body string) (*models.Message, error)

	DeleteMessage(ctx context.Context, roomID, messageID string) error

	// UpsertMembership joins the user to the room. An existing membership is
	// success, not an error.
	UpsertMembership(ctx context.Context, roomID, userID string) (*models.MembershipRecord, error)

	DeleteMembership(ctx context.Context, roomID, userID string) error

	UpdateReadCursor(ctx context.Context, roomID, userID, lastMessageID string) error

	// SubscribeChanges attaches handler to the room's realtime feed. The
	// handler is invoked for every event until the subscription dies (Done
	// yields) or Unsubscribe is called.
	SubscribeChanges(ctx context.Context, roomID string, handler func(models.ChangeEvent)) (ChangeSubscription, error)
}

// ChangeSubscription is one live feed attachment for a room.
type ChangeSubscription interface {
	// Done yields when the subscription terminates on its own. The transport
	// provides no delivery guarantee across the gap that follows; the caller
	// must catch up by re-querying.
	Done() <-chan error

	// Unsubscribe detaches from the feed. Best-effort.
	Unsubscribe() error
}
