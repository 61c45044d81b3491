package gateway

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmoreira/beacon/internal/backend"
	"github.com/crmoreira/beacon/internal/chat"
)

type messageDTO struct {
	MsgID      string `json:"msg_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	Read       bool   `json:"read"`
	CreatedAt  int64  `json:"created_at"`
}

type chatDTO struct {
	PeerID      string     `json:"peer_id"`
	UnreadCount int        `json:"unread_count"`
	LastMessage messageDTO `json:"last_message"`
}

type groupDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   int64  `json:"created_at"`
	MemberCount int    `json:"member_count"`
}

func toMessageDTO(m backend.Message) messageDTO {
	return messageDTO{
		MsgID:      m.MsgID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

func (s *Server) handleChats(c *fiber.Ctx) error {
	if _, err := s.currentUser(c); err != nil {
		return err
	}

	chats := s.views.Chats()
	out := make([]chatDTO, 0, len(chats))
	for _, ch := range chats {
		out = append(out, chatDTO{
			PeerID:      ch.PeerID,
			UnreadCount: ch.UnreadCount,
			LastMessage: toMessageDTO(ch.LastMessage),
		})
	}
	return c.JSON(fiber.Map{
		"chats":        out,
		"total_unread": chat.TotalUnread(chats),
	})
}

func (s *Server) handleConversation(c *fiber.Ctx) error {
	u, err := s.currentUser(c)
	if err != nil {
		return err
	}
	peer := c.Params("peer")

	before := int64(c.QueryInt("before", 0))
	limit := c.QueryInt("limit", 50)
	msgs, err := s.db.ListConversation(u.ID, peer, before, limit)
	if err != nil {
		return err
	}

	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return c.JSON(fiber.Map{"messages": out})
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	if _, err := s.currentUser(c); err != nil {
		return err
	}
	peer := c.Params("peer")

	var req struct {
		Body string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil || req.Body == "" {
		return fiber.NewError(fiber.StatusBadRequest, "body required")
	}

	clientMsgID, err := s.sender.Enqueue(peer, req.Body)
	if err != nil {
		return err
	}
	// Flush immediately; the entry stays queued for the loop if this fails.
	s.sender.Drain(c.Context())

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"client_msg_id": clientMsgID})
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	u, err := s.currentUser(c)
	if err != nil {
		return err
	}
	peer := c.Params("peer")

	n, err := s.db.MarkConversationRead(u.ID, peer)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := s.views.RefreshChats(c.Context()); err != nil {
			s.logger.Warn("refresh after mark read failed", zap.Error(err))
		}
	}
	return c.JSON(fiber.Map{"marked": n})
}

func (s *Server) handleGroups(c *fiber.Ctx) error {
	if _, err := s.currentUser(c); err != nil {
		return err
	}

	groups := s.views.Groups()
	out := make([]groupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupDTO{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			ImageURL:    g.ImageURL,
			OwnerID:     g.OwnerID,
			CreatedAt:   g.CreatedAt,
			MemberCount: g.MemberCount,
		})
	}
	return c.JSON(fiber.Map{"groups": out})
}

func (s *Server) handleCreateGroup(c *fiber.Ctx) error {
	u, err := s.currentUser(c)
	if err != nil {
		return err
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		ImageURL    string `json:"image_url"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name required")
	}

	g := &backend.Group{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		OwnerID:     u.ID,
	}
	if err := s.db.InsertGroup(g); err != nil {
		return err
	}
	if err := s.views.RefreshGroups(c.Context()); err != nil {
		s.logger.Warn("refresh after group create failed", zap.Error(err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": g.ID})
}

func (s *Server) handleJoinGroup(c *fiber.Ctx) error {
	u, err := s.currentUser(c)
	if err != nil {
		return err
	}
	groupID := c.Params("id")

	if err := s.db.AddGroupMember(groupID, u.ID); err != nil {
		return err
	}
	if err := s.views.RefreshGroups(c.Context()); err != nil {
		s.logger.Warn("refresh after group join failed", zap.Error(err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePresence(c *fiber.Ctx) error {
	if _, err := s.currentUser(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"presence": s.tracker.Snapshot()})
}

func (s *Server) handleTyping(c *fiber.Ctx) error {
	if _, err := s.currentUser(c); err != nil {
		return err
	}

	var req struct {
		Peer string `json:"peer"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	if req.Peer == "" {
		if err := s.typist.Clear(c.Context()); err != nil {
			return err
		}
	} else if err := s.typist.Set(c.Context(), req.Peer); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
