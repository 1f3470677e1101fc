package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/models"
)

func newTestSender(f *fakeBackend, s *MessageStore) *SendCoordinator {
	return NewSendCoordinator(f, s, zerolog.Nop())
}

func join(t *testing.T, f *fakeBackend, roomID, userID string) {
	t.Helper()
	if _, err := f.UpsertMembership(context.Background(), roomID, userID); err != nil {
		t.Fatal(err)
	}
}

func TestSendSuccessReconciles(t *testing.T) {
	f := newFakeBackend("r1")
	join(t, f, "r1", "u1")
	s := newTestStore(f, 10)
	c := newTestSender(f, s)

	res := c.Send(context.Background(), "r1", "u1", "hello")
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Message == nil || res.Message.Body != "hello" {
		t.Fatalf("expected server record, got %+v", res.Message)
	}
	if !strings.HasPrefix(res.TempID, models.TempIDPrefix) {
		t.Fatalf("temp id %q lacks prefix", res.TempID)
	}

	snap := s.Snapshot("r1")
	assertIDs(t, snap, res.Message.ID)
	if snap.Messages[0].Provisional() {
		t.Fatal("reconciled message must carry the server id")
	}
}

func TestSendBlankBodyRejected(t *testing.T) {
	f := newFakeBackend("r1")
	join(t, f, "r1", "u1")
	s := newTestStore(f, 10)
	c := newTestSender(f, s)

	res := c.Send(context.Background(), "r1", "u1", "   \n\t ")
	if !errors.Is(res.Err, ErrBlankBody) {
		t.Fatalf("expected ErrBlankBody, got %v", res.Err)
	}
	if len(s.Snapshot("r1").Messages) != 0 {
		t.Fatal("blank send must not leave a provisional entry")
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	f := newFakeBackend("r1")
	join(t, f, "r1", "u1")
	f.insertErr = E("fake.InsertMessage", KindTransient, errors.New("backend down"))
	s := newTestStore(f, 10)
	c := newTestSender(f, s)

	res := c.Send(context.Background(), "r1", "u1", "hello")
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(res.Err) {
		t.Fatalf("transient insert failure must be retryable, got kind %s", KindOf(res.Err))
	}
	if res.Body != "hello" {
		t.Fatalf("failed send must return the original body, got %q", res.Body)
	}
	if len(s.Snapshot("r1").Messages) != 0 {
		t.Fatal("failed send must roll the provisional back")
	}
}

func TestSendByNonMemberIsPermissionError(t *testing.T) {
	f := newFakeBackend("r1")
	s := newTestStore(f, 10)
	c := newTestSender(f, s)

	res := c.Send(context.Background(), "r1", "u1", "hello")
	if KindOf(res.Err) != KindPermission {
		t.Fatalf("expected permission kind, got %v", res.Err)
	}
	if IsRetryable(res.Err) {
		t.Fatal("permission failures must not be retryable")
	}
}

func TestSendSingleFlightPerRoomAuthor(t *testing.T) {
	f := newFakeBackend("r1")
	join(t, f, "r1", "u1")
	join(t, f, "r1", "u2")
	f.insertGate = make(chan struct{})
	s := newTestStore(f, 10)
	c := newTestSender(f, s)

	var wg sync.WaitGroup
	var first SendResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = c.Send(context.Background(), "r1", "u1", "one")
	}()

	waitFor(t, time.Second, "first send to claim the slot", func() bool {
		return len(s.Snapshot("r1").Messages) == 1
	})

	// Same author, same room: refused while the first is pending.
	second := c.Send(context.Background(), "r1", "u1", "two")
	if !errors.Is(second.Err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", second.Err)
	}

	// Different author in the same room is not serialized against u1; it
	// parks on the gate rather than being refused.
	done := make(chan SendResult, 1)
	go func() {
		done <- c.Send(context.Background(), "r1", "u2", "three")
	}()

	close(f.insertGate)
	wg.Wait()
	if first.Err != nil {
		t.Fatal(first.Err)
	}
	other := <-done
	if other.Err != nil {
		t.Fatal(other.Err)
	}

	// The slot is free again after completion.
	res := c.Send(context.Background(), "r1", "u1", "four")
	if res.Err != nil {
		t.Fatal(res.Err)
	}
}
