package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/provinceapp/provchat/internal/metrics"
	"github.com/provinceapp/provchat/internal/models"
)

// SessionState is the lifecycle state of a RoomSession.
type SessionState int

const (
	SessionClosed SessionState = iota
	SessionOpening
	SessionActive
	SessionClosing
)

func (s SessionState) String() string {
	switch s {
	case SessionOpening:
		return "opening"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// RoomSession is the per-visible-room facade handed to the UI layer. Open one
// per room on screen, Close it when the room leaves the screen.
type RoomSession struct {
	roomID string
	userID string
	sys    *Subsystem

	loadCtx     context.Context
	cancelLoads context.CancelFunc

	mu         sync.Mutex
	state      SessionState
	unregister func()
}

// RoomID returns the room this session is attached to.
func (s *RoomSession) RoomID() string {
	return s.roomID
}

// State returns the session lifecycle state.
func (s *RoomSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RoomSession) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Snapshot returns the current consistent view of the room's log.
func (s *RoomSession) Snapshot() models.RoomSnapshot {
	return s.sys.store.Snapshot(s.roomID)
}

// LoadOlder fetches the next older history page and returns the number of
// messages added. Closing the session cancels an outstanding call.
func (s *RoomSession) LoadOlder() (int, error) {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return 0, E("chat.LoadOlder", KindConflict, errors.New("session not active"))
	}
	ctx := s.loadCtx
	s.mu.Unlock()

	return s.sys.store.LoadOlder(ctx, s.roomID)
}

// Send submits body as the session user. It runs on the caller's context, not
// the session's: an in-flight send survives Close and still reconciles, since
// dropping it on view-close would silently lose user data.
func (s *RoomSession) Send(ctx context.Context, body string) SendResult {
	return s.sys.sender.Send(ctx, s.roomID, s.userID, body)
}

// MarkRead advances the session user's read cursor. Best-effort.
func (s *RoomSession) MarkRead(ctx context.Context, lastMessageID string) {
	s.sys.members.MarkRead(ctx, s.roomID, s.userID, lastMessageID)
}

// Leave removes the user's membership. Distinct from Close: closing a room
// view only releases the realtime subscription.
func (s *RoomSession) Leave(ctx context.Context) error {
	return s.sys.members.Leave(ctx, s.roomID, s.userID)
}

// OnSnapshotChanged registers cb, fired once per applied mutation batch. A
// second call replaces the previous callback; nil unregisters.
func (s *RoomSession) OnSnapshotChanged(cb func(models.RoomSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	if cb != nil {
		s.unregister = s.sys.store.OnSnapshotChanged(s.roomID, cb)
	}
}

// Close cancels outstanding page loads, releases the realtime subscription,
// and schedules the room log for eviction. Membership is untouched.
// Idempotent.
func (s *RoomSession) Close() {
	s.mu.Lock()
	if s.state == SessionClosed || s.state == SessionClosing {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosing
	unreg := s.unregister
	s.unregister = nil
	s.mu.Unlock()

	s.cancelLoads()
	if unreg != nil {
		unreg()
	}
	s.sys.registry.Unsubscribe(s.roomID)
	s.sys.store.MarkClosed(s.roomID)
	metrics.OpenSessions.Dec()

	s.setState(SessionClosed)
}
