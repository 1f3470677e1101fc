// Package chat implements the province chat synchronization engine: per-room
// realtime subscriptions with reconnect, cursor-paginated history merged with
// live feed events, optimistic local sends reconciled against server records,
// and membership bookkeeping. The UI layer consumes it through RoomSession;
// the data backend is an external collaborator behind the Backend interface.
package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/metrics"
)

// Options tunes the subsystem. Zero values select defaults.
type Options struct {
	PageSize       int
	FetchTimeout   time.Duration
	ReconnectFloor time.Duration
}

// Subsystem owns the process-wide chat state: one channel registry, one
// message store, one send coordinator, one membership service. Construct it
// once at startup and Close it on shutdown; there is no implicit singleton.
type Subsystem struct {
	backend  Backend
	logger   zerolog.Logger
	registry *ChannelRegistry
	store    *MessageStore
	sender   *SendCoordinator
	members  *MembershipService
}

// New wires the subsystem together.
func New(backend Backend, logger zerolog.Logger, opts Options) *Subsystem {
	store := NewMessageStore(backend, logger, opts.PageSize, opts.FetchTimeout)
	registry := NewChannelRegistry(backend, logger, opts.ReconnectFloor)

	sys := &Subsystem{
		backend:  backend,
		logger:   logger,
		registry: registry,
		store:    store,
		sender:   NewSendCoordinator(backend, store, logger),
		members:  NewMembershipService(backend, logger),
	}

	// The realtime transport guarantees nothing across a disconnect gap, so
	// every successful resubscription triggers a bounded catch-up fetch.
	registry.OnResubscribed(func(roomID string) {
		if err := store.CatchUp(context.Background(), roomID); err != nil {
			logger.Warn().Err(err).Str("room", roomID).Msg("catch-up fetch failed")
		}
	})

	return sys
}

// OpenRoom joins the user to the room, attaches the realtime feed, and loads
// the first page. Join runs first so the subscription only ever exists for a
// confirmed member; the page load runs last to minimize the catch-up window.
// The store's dedup-by-id makes the subscribe-vs-load ordering safe either
// way.
func (sys *Subsystem) OpenRoom(ctx context.Context, roomID, userID string) (*RoomSession, error) {
	s := &RoomSession{
		roomID: roomID,
		userID: userID,
		sys:    sys,
		state:  SessionOpening,
	}
	s.loadCtx, s.cancelLoads = context.WithCancel(context.Background())

	if _, err := sys.members.Join(ctx, roomID, userID); err != nil {
		s.cancelLoads()
		s.setState(SessionClosed)
		return nil, err
	}

	sys.registry.Subscribe(roomID, sys.store.ApplyRemoteEvent)

	if _, err := sys.store.LoadInitial(ctx, roomID); err != nil {
		sys.registry.Unsubscribe(roomID)
		sys.store.MarkClosed(roomID)
		s.cancelLoads()
		s.setState(SessionClosed)
		return nil, err
	}

	s.setState(SessionActive)
	metrics.OpenSessions.Inc()
	return s, nil
}

// Registry exposes subscription handles, used by the UI layer to drive its
// "reconnecting" indicator.
func (sys *Subsystem) Registry() *ChannelRegistry {
	return sys.registry
}

// Members exposes membership operations outside a session.
func (sys *Subsystem) Members() *MembershipService {
	return sys.members
}

// Close releases every realtime subscription. Room logs for rooms with sends
// still in flight drain on their own.
func (sys *Subsystem) Close() {
	sys.registry.UnsubscribeAll()
}
