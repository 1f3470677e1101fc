package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/chat"
	"github.com/provinceapp/provchat/internal/models"
)

// Backend adapts the durable row store and the Redis message log/feed to the
// contract the chat engine drives. It is the production chat.Backend.
type Backend struct {
	data   DataStore
	redis  *RedisStore
	logger zerolog.Logger
}

// NewBackend composes the two stores into one backend.
func NewBackend(data DataStore, redis *RedisStore, logger zerolog.Logger) *Backend {
	return &Backend{
		data:   data,
		redis:  redis,
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

// QueryMessages returns up to limit messages newest-first, strictly older
// than the cursor when one is given.
func (b *Backend) QueryMessages(ctx context.Context, roomID string, limit int, before *models.Cursor) ([]models.Message, error) {
	msgs, err := b.redis.GetRoomMessages(ctx, roomID, limit, before)
	if err != nil {
		return nil, chat.E("store.QueryMessages", chat.KindTransient, err)
	}
	return msgs, nil
}

// InsertMessage appends a message to the room's log. Sending requires an
// existing membership row.
func (b *Backend) InsertMessage(ctx context.Context, roomID, authorID, body string) (*models.Message, error) {
	const op = "store.InsertMessage"
	rid, uid, err := parseIDs(op, roomID, authorID)
	if err != nil {
		return nil, err
	}

	rec, err := b.data.GetMembership(ctx, rid, uid)
	if err != nil {
		return nil, chat.E(op, chat.KindTransient, err)
	}
	if rec == nil {
		return nil, chat.E(op, chat.KindPermission, errors.New("sender is not a room member"))
	}

	msg := &models.Message{RoomID: roomID, AuthorID: authorID, Body: body}
	if err := b.redis.AddMessage(ctx, msg); err != nil {
		return nil, chat.E(op, chat.KindTransient, err)
	}
	return msg, nil
}

// DeleteMessage removes a message. Deleting an absent message is a no-op.
func (b *Backend) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	err := b.redis.DeleteMessage(ctx, roomID, messageID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return chat.E("store.DeleteMessage", chat.KindTransient, err)
	}
	return nil
}

// UpsertMembership joins the user to the room. A missing room is a terminal
// domain failure, distinct from connectivity trouble.
func (b *Backend) UpsertMembership(ctx context.Context, roomID, userID string) (*models.MembershipRecord, error) {
	const op = "store.UpsertMembership"
	rid, uid, err := parseIDs(op, roomID, userID)
	if err != nil {
		return nil, err
	}

	room, err := b.data.GetRoom(ctx, rid)
	if err != nil {
		return nil, chat.E(op, chat.KindTransient, err)
	}
	if room == nil {
		return nil, chat.E(op, chat.KindNotFound, errors.New("room does not exist"))
	}

	rec, err := b.data.UpsertMembership(ctx, rid, uid)
	if err != nil {
		return nil, chat.E(op, chat.KindTransient, err)
	}
	return rec, nil
}

// DeleteMembership removes the membership row.
func (b *Backend) DeleteMembership(ctx context.Context, roomID, userID string) error {
	const op = "store.DeleteMembership"
	rid, uid, err := parseIDs(op, roomID, userID)
	if err != nil {
		return err
	}
	if err := b.data.DeleteMembership(ctx, rid, uid); err != nil {
		return chat.E(op, chat.KindTransient, err)
	}
	return nil
}

// UpdateReadCursor advances the user's read cursor.
func (b *Backend) UpdateReadCursor(ctx context.Context, roomID, userID, lastMessageID string) error {
	const op = "store.UpdateReadCursor"
	rid, uid, err := parseIDs(op, roomID, userID)
	if err != nil {
		return err
	}
	if err := b.data.UpdateReadCursor(ctx, rid, uid, lastMessageID); err != nil {
		return chat.E(op, chat.KindTransient, err)
	}
	return nil
}

// SubscribeChanges attaches handler to the room's realtime feed.
func (b *Backend) SubscribeChanges(ctx context.Context, roomID string, handler func(models.ChangeEvent)) (chat.ChangeSubscription, error) {
	sub, err := b.redis.SubscribeEvents(ctx, roomID, handler)
	if err != nil {
		return nil, chat.E("store.SubscribeChanges", chat.KindTransient, err)
	}
	return sub, nil
}

// parseIDs validates the uuid-shaped ids at the storage boundary. A
// malformed id can never name an existing resource, so it maps to NotFound.
func parseIDs(op, roomID, userID string) (uuid.UUID, uuid.UUID, error) {
	rid, err := uuid.Parse(roomID)
	if err != nil {
		return uuid.Nil, uuid.Nil, chat.E(op, chat.KindNotFound, err)
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, uuid.Nil, chat.E(op, chat.KindNotFound, err)
	}
	return rid, uid, nil
}
