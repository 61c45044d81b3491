package presence

import (
	"context"
	"testing"
	"time"

	"github.com/crmoreira/beacon/internal/bus"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// Two loopbacks on one bus model two clients in the same room.
func TestLoopbackPropagatesAnnounces(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	alice := NewLoopback(b)
	bob := NewLoopback(b)

	trAlice := NewTracker("alice", alice, nil, 30*time.Second, nil)
	trBob := NewTracker("bob", bob, nil, 30*time.Second, nil)

	if err := alice.Join(ctx, trAlice.applySync); err != nil {
		t.Fatal(err)
	}
	if err := bob.Join(ctx, trBob.applySync); err != nil {
		t.Fatal(err)
	}

	if err := trAlice.AnnounceSelf(ctx, "bob"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		e, ok := trBob.Get("alice")
		return ok && e.TypingTo == "bob"
	}, "bob never saw alice typing")

	// Clearing: the final observed record has no typing flag (LWW).
	if err := trAlice.AnnounceSelf(ctx, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		e, ok := trBob.Get("alice")
		return ok && e.TypingTo == ""
	}, "typing flag leaked after clear")
}

func TestLoopbackLeaveBroadcastsTombstone(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	alice := NewLoopback(b)
	bob := NewLoopback(b)

	trAlice := NewTracker("alice", alice, nil, 30*time.Second, nil)
	trBob := NewTracker("bob", bob, nil, 30*time.Second, nil)

	if err := alice.Join(ctx, trAlice.applySync); err != nil {
		t.Fatal(err)
	}
	if err := bob.Join(ctx, trBob.applySync); err != nil {
		t.Fatal(err)
	}

	if err := trAlice.AnnounceSelf(ctx, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, ok := trBob.Get("alice")
		return ok
	}, "bob never saw alice")

	if err := alice.Leave(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, ok := trBob.Get("alice")
		return !ok
	}, "alice's record survived her leave")
}
