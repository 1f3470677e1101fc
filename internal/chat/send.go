package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/metrics"
	"github.com/provinceapp/provchat/internal/models"
)

var (
	// ErrBlankBody rejects empty or whitespace-only sends.
	ErrBlankBody = errors.New("chat: blank message body")

	// ErrSendInFlight rejects a send while the previous one for the same
	// room and author is still awaiting its server record.
	ErrSendInFlight = errors.New("chat: send already in flight")
)

// SendResult reports the outcome of one send. On failure Err is set and Body
// carries the original text so the caller can restore its compose field.
type SendResult struct {
	Message *models.Message // authoritative server record; success only
	TempID  string
	Body    string
	Err     error
}

// SendCoordinator performs optimistic sends: provisional record first, backend
// insert second, reconcile or roll back third. Single-flight per room per
// author; failures are reported, never silently retried, since resending user
// content automatically risks duplicates.
type SendCoordinator struct {
	backend Backend
	store   *MessageStore
	logger  zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // roomID + "\x00" + authorID
}

// NewSendCoordinator creates a coordinator bound to the given store.
func NewSendCoordinator(backend Backend, store *MessageStore, logger zerolog.Logger) *SendCoordinator {
	return &SendCoordinator{
		backend:  backend,
		store:    store,
		logger:   logger.With().Str("component", "send").Logger(),
		inflight: make(map[string]struct{}),
	}
}

// Send submits body to the room on behalf of authorID. The provisional record
// is applied synchronously so the caller's next snapshot already reflects the
// send; the server record replaces it on confirmation.
func (c *SendCoordinator) Send(ctx context.Context, roomID, authorID, body string) SendResult {
	if strings.TrimSpace(body) == "" {
		return SendResult{Body: body, Err: ErrBlankBody}
	}

	key := roomID + "\x00" + authorID
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return SendResult{Body: body, Err: ErrSendInFlight}
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	tempID := models.NewTempID()
	c.store.ApplyOptimistic(models.Message{
		ID:        tempID,
		RoomID:    roomID,
		AuthorID:  authorID,
		Body:      body,
		Timestamp: time.Now().UnixMilli(), // client-side guess; replaced on reconcile
	})

	server, err := c.backend.InsertMessage(ctx, roomID, authorID, body)
	if err != nil {
		c.store.Rollback(roomID, tempID)
		metrics.Sends.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("room", roomID).Str("author", authorID).Msg("send failed, provisional rolled back")
		return SendResult{TempID: tempID, Body: body, Err: classifyFetch("chat.Send", err)}
	}

	c.store.Reconcile(roomID, tempID, *server)
	metrics.Sends.WithLabelValues("ok").Inc()
	return SendResult{Message: server, TempID: tempID, Body: body}
}
