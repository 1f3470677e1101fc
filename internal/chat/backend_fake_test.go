package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/provinceapp/provchat/internal/models"
)

// fakeBackend is an in-memory Backend with scriptable failures and a
// manually driven change feed.
type fakeBackend struct {
	mu      sync.Mutex
	seq     int
	nowMS   int64
	rooms   map[string]bool
	msgs    map[string][]models.Message
	members map[string]map[string]*models.MembershipRecord
	subs    map[string][]*fakeSub

	queryErr       error
	insertErr      error
	upsertErr      error
	readCursorErr  error
	subscribeFails int // fail this many SubscribeChanges calls, then succeed
	subscribeCalls int

	queryGate  chan struct{} // when set, QueryMessages blocks until closed
	insertGate chan struct{} // when set, InsertMessage blocks until closed
}

func newFakeBackend(rooms ...string) *fakeBackend {
	f := &fakeBackend{
		nowMS:   1_000_000,
		rooms:   make(map[string]bool),
		msgs:    make(map[string][]models.Message),
		members: make(map[string]map[string]*models.MembershipRecord),
		subs:    make(map[string][]*fakeSub),
	}
	for _, r := range rooms {
		f.rooms[r] = true
	}
	return f
}

// addMessage seeds a server message without emitting a feed event. Each call
// advances the fake clock by one second.
func (f *fakeBackend) addMessage(roomID, authorID, body string) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.newMessageLocked(roomID, authorID, body)
	f.msgs[roomID] = append(f.msgs[roomID], m)
	return m
}

// addMessageAt seeds a server message with an explicit timestamp.
func (f *fakeBackend) addMessageAt(roomID, authorID, body string, ts int64) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := models.Message{
		ID:        fmt.Sprintf("m%08d", f.seq),
		RoomID:    roomID,
		AuthorID:  authorID,
		Body:      body,
		Timestamp: ts,
	}
	f.msgs[roomID] = append(f.msgs[roomID], m)
	return m
}

func (f *fakeBackend) newMessageLocked(roomID, authorID, body string) models.Message {
	f.seq++
	f.nowMS += 1000
	return models.Message{
		ID:        fmt.Sprintf("m%08d", f.seq),
		RoomID:    roomID,
		AuthorID:  authorID,
		Body:      body,
		Timestamp: f.nowMS,
	}
}

// emit delivers an event to every live subscription of its room.
func (f *fakeBackend) emit(ev models.ChangeEvent) {
	for _, s := range f.liveSubs(ev.RoomID) {
		s.handler(ev)
	}
}

// dropFeed kills every live subscription for the room, simulating a
// transport failure.
func (f *fakeBackend) dropFeed(roomID string, err error) {
	f.mu.Lock()
	subs := f.subs[roomID]
	f.subs[roomID] = nil
	f.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			s.done <- err
		}
		s.mu.Unlock()
	}
}

func (f *fakeBackend) liveSubs(roomID string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var live []*fakeSub
	for _, s := range f.subs[roomID] {
		s.mu.Lock()
		if !s.closed {
			live = append(live, s)
		}
		s.mu.Unlock()
	}
	return live
}

func (f *fakeBackend) liveSubCount(roomID string) int {
	return len(f.liveSubs(roomID))
}

func (f *fakeBackend) subscribeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func (f *fakeBackend) membership(roomID, userID string) *models.MembershipRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] == nil {
		return nil
	}
	return f.members[roomID][userID]
}

func (f *fakeBackend) QueryMessages(ctx context.Context, roomID string, limit int, before *models.Cursor) ([]models.Message, error) {
	f.mu.Lock()
	gate := f.queryGate
	err := f.queryErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]models.Message(nil), f.msgs[roomID]...)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[j].Before(&msgs[i]) // newest first
	})

	var bound *models.Message
	if before != nil {
		bound = &models.Message{Timestamp: before.Timestamp, ID: before.ID}
	}
	out := make([]models.Message, 0, limit)
	for i := range msgs {
		if bound != nil && !msgs[i].Before(bound) {
			continue
		}
		out = append(out, msgs[i])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBackend) InsertMessage(ctx context.Context, roomID, authorID, body string) (*models.Message, error) {
	f.mu.Lock()
	gate := f.insertGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	}

	f.mu.Lock()
	if f.insertErr != nil {
		err := f.insertErr
		f.mu.Unlock()
		return nil, err
	}
	if !f.rooms[roomID] {
		f.mu.Unlock()
		return nil, E("fake.InsertMessage", KindNotFound, errors.New("room does not exist"))
	}
	if f.members[roomID] == nil || f.members[roomID][authorID] == nil {
		f.mu.Unlock()
		return nil, E("fake.InsertMessage", KindPermission, errors.New("sender is not a room member"))
	}
	m := f.newMessageLocked(roomID, authorID, body)
	f.msgs[roomID] = append(f.msgs[roomID], m)
	f.mu.Unlock()

	// The backend publishes the insert to the feed before the RPC returns,
	// so live subscribers can see a send's own confirmation race its
	// reconcile.
	f.emit(models.ChangeEvent{Type: models.EventInsert, RoomID: roomID, Message: &m})
	return &m, nil
}

func (f *fakeBackend) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	f.mu.Lock()
	msgs := f.msgs[roomID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			f.msgs[roomID] = append(msgs[:i], msgs[i+1:]...)
			f.mu.Unlock()
			f.emit(models.ChangeEvent{Type: models.EventDelete, RoomID: roomID, MessageID: messageID})
			return nil
		}
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) UpsertMembership(ctx context.Context, roomID, userID string) (*models.MembershipRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if !f.rooms[roomID] {
		return nil, E("fake.UpsertMembership", KindNotFound, errors.New("room does not exist"))
	}
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[string]*models.MembershipRecord)
	}
	if rec, ok := f.members[roomID][userID]; ok {
		return rec, nil
	}
	rec := &models.MembershipRecord{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}
	f.members[roomID][userID] = rec
	return rec, nil
}

func (f *fakeBackend) DeleteMembership(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] != nil {
		delete(f.members[roomID], userID)
	}
	return nil
}

func (f *fakeBackend) UpdateReadCursor(ctx context.Context, roomID, userID, lastMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readCursorErr != nil {
		return f.readCursorErr
	}
	if f.members[roomID] != nil && f.members[roomID][userID] != nil {
		f.members[roomID][userID].LastReadID = lastMessageID
	}
	return nil
}

func (f *fakeBackend) SubscribeChanges(ctx context.Context, roomID string, handler func(models.ChangeEvent)) (ChangeSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if f.subscribeFails > 0 {
		f.subscribeFails--
		return nil, E("fake.SubscribeChanges", KindTransient, errors.New("transport down"))
	}
	s := &fakeSub{roomID: roomID, handler: handler, done: make(chan error, 1)}
	f.subs[roomID] = append(f.subs[roomID], s)
	return s, nil
}

type fakeSub struct {
	roomID  string
	handler func(models.ChangeEvent)
	done    chan error

	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Done() <-chan error {
	return s.done
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
