// Package typing coalesces compose-box activity into presence announces.
// The UI invokes Set on every keystroke; the publisher makes sure peers see
// at most one announce per window plus one final clear.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Announcer is the presence surface typing state is published through.
type Announcer interface {
	AnnounceSelf(ctx context.Context, typingTo string) error
}

// Publisher rate-limits typing announces. A target change always publishes
// immediately; repeats for the same target publish at most once per window.
// If the UI stops calling Set without clearing, an idle timer clears the
// flag so it cannot stick on other clients.
type Publisher struct {
	announcer Announcer
	window    time.Duration
	idleAfter time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	target    string
	lastSent  time.Time
	idleTimer *time.Timer
	now       func() time.Time
}

// NewPublisher creates a publisher with the given coalescing window.
func NewPublisher(a Announcer, window time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		announcer: a,
		window:    window,
		idleAfter: 3 * window,
		logger:    logger,
		now:       time.Now,
	}
}

// Set marks the local user as typing to peerID.
func (p *Publisher) Set(ctx context.Context, peerID string) error {
	p.mu.Lock()
	changed := peerID != p.target
	due := p.now().Sub(p.lastSent) >= p.window
	if changed || due {
		p.target = peerID
		p.lastSent = p.now()
		p.resetIdleLocked()
		p.mu.Unlock()
		return p.announcer.AnnounceSelf(ctx, peerID)
	}
	p.resetIdleLocked()
	p.mu.Unlock()
	return nil
}

// Clear announces the typing flag removed. No-op when nothing is active.
func (p *Publisher) Clear(ctx context.Context) error {
	p.mu.Lock()
	if p.target == "" {
		p.mu.Unlock()
		return nil
	}
	p.target = ""
	p.lastSent = time.Time{}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	p.mu.Unlock()

	return p.announcer.AnnounceSelf(ctx, "")
}

// resetIdleLocked is called with p.mu held.
func (p *Publisher) resetIdleLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(p.idleAfter, func() {
		if err := p.Clear(context.Background()); err != nil {
			p.logger.Warn("idle typing clear failed", zap.Error(err))
		}
	})
}
