package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/metrics"
	"github.com/provinceapp/provchat/internal/models"
)

const (
	// DefaultPageSize is the history page size when none is configured.
	DefaultPageSize = 30

	// DefaultFetchTimeout bounds a single history fetch. A fetch that blows
	// this deadline is a transient failure, not a domain one.
	DefaultFetchTimeout = 10 * time.Second

	// maxCatchUpPages bounds the post-reconnect gap recovery.
	maxCatchUpPages = 5
)

// MessageStore holds the loaded portion of each room's log and merges
// paginated history with live feed events.
//
// All mutations for one room serialize on that room's lock. History fetches
// run outside the lock and merge through the same dedup-by-id path as feed
// inserts, so events arriving mid-fetch are neither lost nor double-applied.
// Rooms share nothing and proceed fully in parallel.
type MessageStore struct {
	backend      Backend
	logger       zerolog.Logger
	pageSize     int
	fetchTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]*roomLog
}

type roomLog struct {
	mu sync.Mutex

	roomID       string
	msgs         []models.Message          // confirmed records, (timestamp, id) ascending
	index        map[string]struct{}       // ids present in msgs
	outbox       []models.Message          // provisional tail, send order
	deferred     map[string]models.Message // updates that outran their insert
	canLoadOlder bool
	revision     uint64
	closed       bool // session closed; evict once the outbox drains

	listeners    map[int]func(models.RoomSnapshot)
	nextListener int
}

// NewMessageStore creates a store. Zero values for pageSize and fetchTimeout
// select the defaults.
func NewMessageStore(backend Backend, logger zerolog.Logger, pageSize int, fetchTimeout time.Duration) *MessageStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &MessageStore{
		backend:      backend,
		logger:       logger.With().Str("component", "messagestore").Logger(),
		pageSize:     pageSize,
		fetchTimeout: fetchTimeout,
		rooms:        make(map[string]*roomLog),
	}
}

// room returns the log for roomID, creating it if needed.
func (s *MessageStore) room(roomID string) *roomLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.rooms[roomID]
	if !ok {
		rl = &roomLog{
			roomID:       roomID,
			index:        make(map[string]struct{}),
			deferred:     make(map[string]models.Message),
			canLoadOlder: true, // unknown until the first page answers
			listeners:    make(map[int]func(models.RoomSnapshot)),
		}
		s.rooms[roomID] = rl
	}
	return rl
}

// lookup returns the log for roomID without creating one.
func (s *MessageStore) lookup(roomID string) *roomLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

func (s *MessageStore) evict(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// LoadInitial fetches the newest page for the room and returns the resulting
// snapshot.
func (s *MessageStore) LoadInitial(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	rl := s.room(roomID)

	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	page, err := s.backend.QueryMessages(fctx, roomID, s.pageSize, nil)
	cancel()
	if err != nil {
		return models.RoomSnapshot{}, classifyFetch("chat.LoadInitial", err)
	}
	metrics.PageLoadDuration.Observe(time.Since(start).Seconds())
	metrics.PageLoads.Inc()

	rl.mu.Lock()
	// Reopening a room disarms a pending eviction left behind by a prior
	// session whose send is still in flight; the late reconcile must land in
	// the log the new session is watching, not tear it down.
	rl.closed = false
	for _, m := range page {
		rl.insertLocked(m)
	}
	rl.canLoadOlder = len(page) >= s.pageSize
	snap, cbs := rl.commitLocked()
	rl.mu.Unlock()

	fire(cbs, snap)
	return snap, nil
}

// LoadOlder fetches the page strictly older than the oldest held message and
// prepends it. It returns the number of messages added; zero with the
// snapshot's CanLoadOlder false means the log is exhausted.
func (s *MessageStore) LoadOlder(ctx context.Context, roomID string) (int, error) {
	rl := s.room(roomID)

	rl.mu.Lock()
	if !rl.canLoadOlder {
		rl.mu.Unlock()
		return 0, nil
	}
	var before *models.Cursor
	if len(rl.msgs) > 0 {
		oldest := rl.msgs[0]
		before = &models.Cursor{Timestamp: oldest.Timestamp, ID: oldest.ID}
	}
	rl.mu.Unlock()

	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	page, err := s.backend.QueryMessages(fctx, roomID, s.pageSize, before)
	cancel()
	if err != nil {
		return 0, classifyFetch("chat.LoadOlder", err)
	}
	metrics.PageLoadDuration.Observe(time.Since(start).Seconds())
	metrics.PageLoads.Inc()

	rl.mu.Lock()
	if rl.closed {
		// Session closed mid-fetch; discard the result.
		rl.mu.Unlock()
		return 0, nil
	}
	added := 0
	for _, m := range page {
		if rl.insertLocked(m) {
			added++
		}
	}
	// A page shorter than requested is the exhaustion signal. A short page
	// caused by concurrent deletes is equally terminal for the spinner and
	// is not an error.
	rl.canLoadOlder = len(page) >= s.pageSize
	snap, cbs := rl.commitLocked()
	rl.mu.Unlock()

	fire(cbs, snap)
	return added, nil
}

// ApplyRemoteEvent applies one change-feed event. Duplicate inserts and
// deletes of absent ids are absorbed silently; an update that outran its
// insert is deferred and replayed once the insert lands. Malformed events are
// defects: logged with full context and dropped.
//
// An event for a room no session holds is dropped rather than allocating a
// log for it: the backend persists the record before publishing the event, so
// the next load of the room sees its effect anyway.
func (s *MessageStore) ApplyRemoteEvent(ev models.ChangeEvent) {
	rl := s.lookup(ev.RoomID)
	if rl == nil {
		return
	}

	rl.mu.Lock()
	changed := false
	switch ev.Type {
	case models.EventInsert:
		if ev.Message == nil {
			rl.mu.Unlock()
			s.logger.Error().Str("room", ev.RoomID).Str("type", string(ev.Type)).Msg("malformed change event: missing record")
			return
		}
		changed = rl.insertLocked(*ev.Message)
	case models.EventUpdate:
		if ev.Message == nil {
			rl.mu.Unlock()
			s.logger.Error().Str("room", ev.RoomID).Str("type", string(ev.Type)).Msg("malformed change event: missing record")
			return
		}
		changed = rl.updateLocked(*ev.Message)
	case models.EventDelete:
		id := ev.MessageID
		if id == "" && ev.Message != nil {
			id = ev.Message.ID
		}
		changed = rl.deleteLocked(id)
	default:
		rl.mu.Unlock()
		s.logger.Error().Str("room", ev.RoomID).Str("type", string(ev.Type)).Msg("malformed change event: unknown type")
		return
	}
	if !changed {
		rl.mu.Unlock()
		return
	}
	snap, cbs := rl.commitLocked()
	rl.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(string(ev.Type)).Inc()
	fire(cbs, snap)
}

// ApplyOptimistic appends a provisional message to the room's outbox tail.
// The tail keeps send order: the provisional timestamp is a client-side guess
// and does not participate in (timestamp, id) sorting.
func (s *MessageStore) ApplyOptimistic(m models.Message) models.RoomSnapshot {
	rl := s.room(m.RoomID)

	rl.mu.Lock()
	rl.outbox = append(rl.outbox, m)
	snap, cbs := rl.commitLocked()
	rl.mu.Unlock()

	fire(cbs, snap)
	return snap
}

// Reconcile swaps the provisional entry for the authoritative server record
// in one mutation, so no snapshot observer ever sees both or neither. The
// insert is a no-op if the feed already delivered the same server id.
func (s *MessageStore) Reconcile(roomID, tempID string, server models.Message) {
	rl := s.lookup(roomID)
	if rl == nil {
		return
	}

	rl.mu.Lock()
	rl.removeOutboxLocked(tempID)
	rl.insertLocked(server)
	snap, cbs := rl.commitLocked()
	evictNow := rl.closed && len(rl.outbox) == 0
	rl.mu.Unlock()

	fire(cbs, snap)
	if evictNow {
		s.evict(roomID)
	}
}

// Rollback removes the provisional entry after a failed send.
func (s *MessageStore) Rollback(roomID, tempID string) {
	rl := s.lookup(roomID)
	if rl == nil {
		return
	}

	rl.mu.Lock()
	if !rl.removeOutboxLocked(tempID) {
		rl.mu.Unlock()
		return
	}
	snap, cbs := rl.commitLocked()
	evictNow := rl.closed && len(rl.outbox) == 0
	rl.mu.Unlock()

	fire(cbs, snap)
	if evictNow {
		s.evict(roomID)
	}
}

// CatchUp recovers events possibly missed during a feed outage. It re-fetches
// newest-first pages until one overlaps a message already held, merging
// through the same dedup path as feed inserts. Bounded to maxCatchUpPages.
func (s *MessageStore) CatchUp(ctx context.Context, roomID string) error {
	rl := s.room(roomID)

	rl.mu.Lock()
	var newest *models.Message
	if len(rl.msgs) > 0 {
		m := rl.msgs[len(rl.msgs)-1]
		newest = &m
	}
	rl.mu.Unlock()

	if newest == nil {
		// Nothing held yet; a plain initial load covers the gap.
		_, err := s.LoadInitial(ctx, roomID)
		return err
	}

	var before *models.Cursor
	var fetched []models.Message
	for page := 0; page < maxCatchUpPages; page++ {
		fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		batch, err := s.backend.QueryMessages(fctx, roomID, s.pageSize, before)
		cancel()
		if err != nil {
			return classifyFetch("chat.CatchUp", err)
		}
		fetched = append(fetched, batch...)

		overlap := false
		for i := range batch {
			if !newest.Before(&batch[i]) {
				overlap = true
				break
			}
		}
		if overlap || len(batch) < s.pageSize {
			break
		}
		oldest := batch[len(batch)-1]
		before = &models.Cursor{Timestamp: oldest.Timestamp, ID: oldest.ID}
	}

	rl.mu.Lock()
	added := 0
	for _, m := range fetched {
		if rl.insertLocked(m) {
			added++
		}
	}
	if added == 0 {
		rl.mu.Unlock()
		metrics.CatchUpFetches.Inc()
		return nil
	}
	snap, cbs := rl.commitLocked()
	rl.mu.Unlock()

	metrics.CatchUpFetches.Inc()
	s.logger.Debug().Str("room", roomID).Int("recovered", added).Msg("catch-up merged missed messages")
	fire(cbs, snap)
	return nil
}

// Snapshot returns the current consistent view of the room's loaded log. A
// room with no log held reads as empty.
func (s *MessageStore) Snapshot(roomID string) models.RoomSnapshot {
	rl := s.lookup(roomID)
	if rl == nil {
		return models.RoomSnapshot{RoomID: roomID, CanLoadOlder: true}
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.snapshotLocked()
}

// OnSnapshotChanged registers cb for the room and returns an unregister
// function. cb fires once per applied mutation batch, after the batch commits.
func (s *MessageStore) OnSnapshotChanged(roomID string, cb func(models.RoomSnapshot)) func() {
	rl := s.room(roomID)
	rl.mu.Lock()
	id := rl.nextListener
	rl.nextListener++
	rl.listeners[id] = cb
	rl.mu.Unlock()

	return func() {
		rl.mu.Lock()
		delete(rl.listeners, id)
		rl.mu.Unlock()
	}
}

// MarkClosed flags the room's log for eviction. The log survives while sends
// are still in flight so their late reconciliations land instead of being
// dropped; it is evicted as soon as the outbox drains.
func (s *MessageStore) MarkClosed(roomID string) {
	rl := s.lookup(roomID)
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rl.closed = true
	evictNow := len(rl.outbox) == 0
	rl.mu.Unlock()

	if evictNow {
		s.evict(roomID)
	}
}

// insertLocked places m in sorted position. Reports false for duplicates.
func (rl *roomLog) insertLocked(m models.Message) bool {
	if _, dup := rl.index[m.ID]; dup {
		return false
	}
	if upd, ok := rl.deferred[m.ID]; ok {
		delete(rl.deferred, m.ID)
		m = upd
	}
	i := sort.Search(len(rl.msgs), func(i int) bool {
		return !rl.msgs[i].Before(&m)
	})
	rl.msgs = append(rl.msgs, models.Message{})
	copy(rl.msgs[i+1:], rl.msgs[i:])
	rl.msgs[i] = m
	rl.index[m.ID] = struct{}{}
	return true
}

// updateLocked replaces the record in place. An update for an id not yet held
// is deferred and replayed when its insert lands (feed reordering).
func (rl *roomLog) updateLocked(m models.Message) bool {
	if _, ok := rl.index[m.ID]; !ok {
		rl.deferred[m.ID] = m
		return false
	}
	for i := range rl.msgs {
		if rl.msgs[i].ID == m.ID {
			rl.msgs[i] = m
			return true
		}
	}
	return false
}

// deleteLocked removes the record by id. No-op if absent.
func (rl *roomLog) deleteLocked(id string) bool {
	delete(rl.deferred, id)
	if _, ok := rl.index[id]; !ok {
		return false
	}
	delete(rl.index, id)
	for i := range rl.msgs {
		if rl.msgs[i].ID == id {
			rl.msgs = append(rl.msgs[:i], rl.msgs[i+1:]...)
			return true
		}
	}
	return false
}

func (rl *roomLog) removeOutboxLocked(tempID string) bool {
	for i := range rl.outbox {
		if rl.outbox[i].ID == tempID {
			rl.outbox = append(rl.outbox[:i], rl.outbox[i+1:]...)
			return true
		}
	}
	return false
}

// commitLocked seals a mutation batch: bumps the revision and captures the
// snapshot plus the listener set to fire after the lock is released.
func (rl *roomLog) commitLocked() (models.RoomSnapshot, []func(models.RoomSnapshot)) {
	rl.revision++
	snap := rl.snapshotLocked()
	cbs := make([]func(models.RoomSnapshot), 0, len(rl.listeners))
	for _, cb := range rl.listeners {
		cbs = append(cbs, cb)
	}
	return snap, cbs
}

func (rl *roomLog) snapshotLocked() models.RoomSnapshot {
	msgs := make([]models.Message, 0, len(rl.msgs)+len(rl.outbox))
	msgs = append(msgs, rl.msgs...)
	msgs = append(msgs, rl.outbox...)
	return models.RoomSnapshot{
		RoomID:       rl.roomID,
		Messages:     msgs,
		CanLoadOlder: rl.canLoadOlder,
		Revision:     rl.revision,
	}
}

func fire(cbs []func(models.RoomSnapshot), snap models.RoomSnapshot) {
	for _, cb := range cbs {
		cb(snap)
	}
}
