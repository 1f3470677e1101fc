package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/provinceapp/provchat/internal/models"
)

// cursorSlack is how many extra entries a page fetch requests beyond limit.
// Redis scores carry only the millisecond timestamp, so same-millisecond
// entries at a page boundary come back with the page and are re-cut by id.
const cursorSlack = 64

// RedisStore holds the per-room message logs (sorted sets keyed by timestamp)
// and the per-room realtime change feeds (pub/sub channels).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// roomEventsKey returns the pub/sub channel for a room's change feed.
func roomEventsKey(roomID string) string {
	return fmt.Sprintf("room:%s:events", roomID)
}

// AddMessage stores a message and publishes its insert event on the room's
// feed. The server assigns the id (ULID) and timestamp here.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = s.client.ZAdd(ctx, roomMessagesKey(msg.RoomID), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	return s.publishEvent(ctx, models.ChangeEvent{
		Type:    models.EventInsert,
		RoomID:  msg.RoomID,
		Message: msg,
	})
}

// UpdateMessage replaces a stored message in place and publishes the update.
func (s *RedisStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	raw, _, err := s.findRaw(ctx, msg.RoomID, msg.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomMessagesKey(msg.RoomID)
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, key, raw)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(msg.Timestamp), Member: string(data)})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return s.publishEvent(ctx, models.ChangeEvent{
		Type:    models.EventUpdate,
		RoomID:  msg.RoomID,
		Message: msg,
	})
}

// DeleteMessage removes a message and publishes the delete. Returns
// ErrNotFound if the message is not in the log.
func (s *RedisStore) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	raw, _, err := s.findRaw(ctx, roomID, messageID)
	if err != nil {
		return err
	}

	if err := s.client.ZRem(ctx, roomMessagesKey(roomID), raw).Err(); err != nil {
		return err
	}

	return s.publishEvent(ctx, models.ChangeEvent{
		Type:      models.EventDelete,
		RoomID:    roomID,
		MessageID: messageID,
	})
}

// GetRoomMessages retrieves up to limit messages newest-first, bounded
// strictly below the (timestamp, id) cursor when one is given.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before *models.Cursor) ([]models.Message, error) {
	maxScore := "+inf"
	if before != nil {
		// Inclusive at the cursor millisecond; pageFrom resolves the id ties.
		maxScore = fmt.Sprintf("%d", before.Timestamp)
	}

	results, err := s.client.ZRevRangeByScore(ctx, roomMessagesKey(roomID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit + cursorSlack),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return pageFrom(messages, before, limit), nil
}

// findRaw locates a message's raw sorted-set member by id.
func (s *RedisStore) findRaw(ctx context.Context, roomID, messageID string) (string, *models.Message, error) {
	results, err := s.client.ZRange(ctx, roomMessagesKey(roomID), 0, -1).Result()
	if err != nil {
		return "", nil, err
	}

	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.ID == messageID {
			return data, &msg, nil
		}
	}

	return "", nil, ErrNotFound
}

func (s *RedisStore) publishEvent(ctx context.Context, ev models.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, roomEventsKey(ev.RoomID), data).Err()
}

// Subscription is one pub/sub attachment to a room's change feed.
type Subscription struct {
	ps   *redis.PubSub
	done chan error
}

// Done yields when the receive loop terminates on a transport error.
func (s *Subscription) Done() <-chan error {
	return s.done
}

// Unsubscribe closes the pub/sub connection.
func (s *Subscription) Unsubscribe() error {
	return s.ps.Close()
}

// SubscribeEvents attaches handler to the room's change feed. Malformed
// payloads are skipped; the consumer validates event shape again on apply.
func (s *RedisStore) SubscribeEvents(ctx context.Context, roomID string, handler func(models.ChangeEvent)) (*Subscription, error) {
	ps := s.client.Subscribe(ctx, roomEventsKey(roomID))

	// Force the SUBSCRIBE round trip so a dead transport fails here, not on
	// the first receive.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	sub := &Subscription{ps: ps, done: make(chan error, 1)}
	go func() {
		for {
			m, err := ps.ReceiveMessage(ctx)
			if err != nil {
				sub.done <- err
				return
			}
			var ev models.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				continue
			}
			handler(ev)
		}
	}()

	return sub, nil
}
