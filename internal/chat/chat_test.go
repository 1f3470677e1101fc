package chat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestStore(f *fakeBackend, pageSize int) *MessageStore {
	return NewMessageStore(f, zerolog.Nop(), pageSize, time.Second)
}

func newTestSubsystem(t *testing.T, f *fakeBackend, opts Options) *Subsystem {
	t.Helper()
	if opts.ReconnectFloor == 0 {
		opts.ReconnectFloor = 10 * time.Millisecond
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = time.Second
	}
	sys := New(f, zerolog.Nop(), opts)
	t.Cleanup(sys.Close)
	return sys
}
