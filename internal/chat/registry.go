package chat

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/metrics"
	"github.com/provinceapp/provchat/internal/models"
)

// DefaultReconnectFloor is the minimum delay between resubscribe attempts.
const DefaultReconnectFloor = 5 * time.Second

// SubState is the lifecycle state of a room subscription.
type SubState int

const (
	SubIdle SubState = iota
	SubSubscribing
	SubSubscribed
	SubReconnecting
	SubClosed
)

func (s SubState) String() string {
	switch s {
	case SubIdle:
		return "idle"
	case SubSubscribing:
		return "subscribing"
	case SubSubscribed:
		return "subscribed"
	case SubReconnecting:
		return "reconnecting"
	case SubClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Handle tracks one room's realtime subscription. Only the registry's manage
// loop mutates it; everyone else reads.
type Handle struct {
	RoomID string

	mu       sync.Mutex
	state    SubState
	attempts int
	lastErr  error

	cancel context.CancelFunc
	done   chan struct{} // closed when the manage loop exits
}

// State returns the current lifecycle state.
func (h *Handle) State() SubState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastError returns the most recent transport error, if any.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Handle) setState(s SubState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	h.state = SubReconnecting
	h.attempts++
	h.lastErr = err
	h.mu.Unlock()
}

func (h *Handle) recovered() {
	h.mu.Lock()
	h.state = SubSubscribed
	h.attempts = 0
	h.lastErr = nil
	h.mu.Unlock()
}

// ChannelRegistry owns at most one live change-feed subscription per room.
// It reconnects dropped subscriptions with exponential backoff and signals
// successful resubscription so the message store can recover the gap; the
// registry itself never replays missed messages.
type ChannelRegistry struct {
	backend Backend
	logger  zerolog.Logger
	floor   time.Duration

	onResubscribed func(roomID string)

	mu   sync.Mutex
	subs map[string]*Handle
}

// NewChannelRegistry creates a registry. floor <= 0 selects the default 5s
// reconnect floor.
func NewChannelRegistry(backend Backend, logger zerolog.Logger, floor time.Duration) *ChannelRegistry {
	if floor <= 0 {
		floor = DefaultReconnectFloor
	}
	return &ChannelRegistry{
		backend: backend,
		logger:  logger.With().Str("component", "registry").Logger(),
		floor:   floor,
		subs:    make(map[string]*Handle),
	}
}

// OnResubscribed registers the post-reconnect hook. Set once, before the
// first Subscribe call.
func (r *ChannelRegistry) OnResubscribed(fn func(roomID string)) {
	r.onResubscribed = fn
}

// Subscribe attaches handler to roomID's change feed and returns its handle.
// Idempotent per room: a second call for an already-subscribed room returns
// the existing handle without creating another transport subscription.
func (r *ChannelRegistry) Subscribe(roomID string, handler func(models.ChangeEvent)) *Handle {
	r.mu.Lock()
	if h, ok := r.subs[roomID]; ok {
		r.mu.Unlock()
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		RoomID: roomID,
		state:  SubIdle,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.subs[roomID] = h
	r.mu.Unlock()

	go r.manage(ctx, h, handler)
	return h
}

// Handle returns the subscription handle for roomID, or nil if none exists.
func (r *ChannelRegistry) Handle(roomID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[roomID]
}

// Unsubscribe tears down roomID's subscription. Transport failures during
// teardown are logged, not surfaced; the local state is already gone.
func (r *ChannelRegistry) Unsubscribe(roomID string) {
	r.mu.Lock()
	h, ok := r.subs[roomID]
	if ok {
		delete(r.subs, roomID)
	}
	r.mu.Unlock()

	if ok {
		h.cancel()
	}
}

// UnsubscribeAll tears down every subscription and waits for the manage loops
// to exit. Called on subsystem shutdown.
func (r *ChannelRegistry) UnsubscribeAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range subs {
		h.cancel()
	}
	for _, h := range subs {
		<-h.done
	}
}

// manage runs the subscribe/reconnect loop until the handle is closed.
// A successful resubscription resets the backoff counter.
func (r *ChannelRegistry) manage(ctx context.Context, h *Handle, handler func(models.ChangeEvent)) {
	defer close(h.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.floor
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0 // retry until explicitly closed

	gap := false // a delivery gap may exist; catch up after the next attach
	for {
		if ctx.Err() != nil {
			h.setState(SubClosed)
			return
		}

		h.setState(SubSubscribing)
		sub, err := r.backend.SubscribeChanges(ctx, h.RoomID, handler)
		if err != nil {
			h.fail(err)
			r.logger.Warn().Err(err).Str("room", h.RoomID).Msg("subscribe failed, retrying")
			if !sleepCtx(ctx, bo.NextBackOff()) {
				h.setState(SubClosed)
				return
			}
			gap = true
			continue
		}

		h.recovered()
		bo.Reset()
		if gap {
			gap = false
			metrics.FeedReconnects.Inc()
			if r.onResubscribed != nil {
				r.onResubscribed(h.RoomID)
			}
		}

		select {
		case <-ctx.Done():
			if err := sub.Unsubscribe(); err != nil {
				r.logger.Debug().Err(err).Str("room", h.RoomID).Msg("transport unsubscribe failed")
			}
			h.setState(SubClosed)
			return
		case err := <-sub.Done():
			h.fail(err)
			r.logger.Warn().Err(err).Str("room", h.RoomID).Msg("change feed dropped, reconnecting")
			gap = true
			if !sleepCtx(ctx, bo.NextBackOff()) {
				h.setState(SubClosed)
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
