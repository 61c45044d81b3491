package typing

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAnnouncer) AnnounceSelf(_ context.Context, typingTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, typingTo)
	return nil
}

func (f *fakeAnnouncer) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestSetCoalescesRepeats(t *testing.T) {
	fa := &fakeAnnouncer{}
	p := NewPublisher(fa, time.Minute, nil)
	ctx := context.Background()

	// Ten "keystrokes" inside the window: exactly one announce goes out.
	for i := 0; i < 10; i++ {
		if err := p.Set(ctx, "peer1"); err != nil {
			t.Fatal(err)
		}
	}

	if calls := fa.snapshot(); len(calls) != 1 || calls[0] != "peer1" {
		t.Errorf("calls = %v, want exactly one announce for peer1", calls)
	}
}

func TestSetRepublishesAfterWindow(t *testing.T) {
	fa := &fakeAnnouncer{}
	p := NewPublisher(fa, time.Minute, nil)
	ctx := context.Background()

	base := time.Now()
	p.now = func() time.Time { return base }
	if err := p.Set(ctx, "peer1"); err != nil {
		t.Fatal(err)
	}

	p.now = func() time.Time { return base.Add(61 * time.Second) }
	if err := p.Set(ctx, "peer1"); err != nil {
		t.Fatal(err)
	}

	if calls := fa.snapshot(); len(calls) != 2 {
		t.Errorf("calls = %v, want 2 (window elapsed)", calls)
	}
}

func TestTargetChangePublishesImmediately(t *testing.T) {
	fa := &fakeAnnouncer{}
	p := NewPublisher(fa, time.Minute, nil)
	ctx := context.Background()

	if err := p.Set(ctx, "peer1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Set(ctx, "peer2"); err != nil {
		t.Fatal(err)
	}

	calls := fa.snapshot()
	if len(calls) != 2 || calls[1] != "peer2" {
		t.Errorf("calls = %v, want immediate announce for peer2", calls)
	}
}

func TestClearPublishesOnce(t *testing.T) {
	fa := &fakeAnnouncer{}
	p := NewPublisher(fa, time.Minute, nil)
	ctx := context.Background()

	if err := p.Set(ctx, "peer1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	// Clearing again without typing is a no-op.
	if err := p.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	calls := fa.snapshot()
	if len(calls) != 2 || calls[1] != "" {
		t.Errorf("calls = %v, want [peer1 \"\"]", calls)
	}
}

func TestIdleAutoClear(t *testing.T) {
	fa := &fakeAnnouncer{}
	p := NewPublisher(fa, 20*time.Millisecond, nil) // idleAfter = 60ms
	ctx := context.Background()

	if err := p.Set(ctx, "peer1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := fa.snapshot()
		if len(calls) == 2 && calls[1] == "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("idle clear never fired; calls = %v", fa.snapshot())
}
