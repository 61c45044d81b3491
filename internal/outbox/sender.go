// Package outbox drains queued outgoing messages into the message table.
// Sends survive daemon restarts because the queue is persisted; a message is
// acked only after the backend insert commits.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmoreira/beacon/internal/auth"
	"github.com/crmoreira/beacon/internal/backend"
	"github.com/crmoreira/beacon/internal/bus"
)

// SendResult is the payload for send ack and failure events.
type SendResult struct {
	ClientMsgID string
	MsgID       string
	Error       string
}

// Sender drains the outbox on a fixed interval.
type Sender struct {
	auth     auth.Provider
	db       *backend.DB
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
}

// NewSender creates an outbox sender.
func NewSender(p auth.Provider, db *backend.DB, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		auth:     p,
		db:       db,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Enqueue queues a message for sending and returns its client message id.
// The queued entry is picked up by the drain loop; Kick the sender (or wait
// for the next tick) to deliver it.
func (s *Sender) Enqueue(receiverID, body string) (string, error) {
	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, receiverID, body); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}
	return clientMsgID, nil
}

// Start drains the outbox until ctx is cancelled. Entries a previous
// process left claimed but unsent are requeued first, then one drain pass
// runs immediately so nothing waits for the ticker.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueInFlightOutbox(); err != nil {
		s.logger.Warn("outbox requeue failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued in-flight messages", zap.Int64("count", n))
	}
	s.drain(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// Drain runs a single drain pass. Exposed so a handler can flush a fresh
// enqueue without waiting for the ticker.
func (s *Sender) Drain(ctx context.Context) {
	s.drain(ctx)
}

func (s *Sender) drain(ctx context.Context) {
	u, err := s.auth.CurrentUser(ctx)
	if err != nil {
		// Queued entries wait for a login; not an error.
		return
	}

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Warn("outbox query failed", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.process(u.ID, entry)
	}
}

func (s *Sender) process(senderID string, entry backend.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Warn("mark sending failed", zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		return
	}

	// The client message id doubles as the message id so a redelivered
	// entry lands on the ON CONFLICT clause instead of duplicating.
	msg := &backend.Message{
		MsgID:      entry.ClientMsgID,
		SenderID:   senderID,
		ReceiverID: entry.ReceiverID,
		Body:       entry.Body,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := s.db.InsertMessage(msg); err != nil {
		s.logger.Error("send failed",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("receiver", entry.ReceiverID),
			zap.Error(err))
		if markErr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); markErr != nil {
			s.logger.Warn("mark failed failed", zap.Error(markErr))
		}
		s.bus.Emit(bus.KindMessageSendFailed, SendResult{ClientMsgID: entry.ClientMsgID, Error: err.Error()})
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
		s.logger.Warn("mark sent failed", zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
	}

	s.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("msg_id", msg.MsgID),
		zap.String("receiver", entry.ReceiverID))
	s.bus.Emit(bus.KindMessageSendAck, SendResult{ClientMsgID: entry.ClientMsgID, MsgID: msg.MsgID})
	s.bus.Emit(bus.KindMessageUpserted, msg.MsgID)
}
