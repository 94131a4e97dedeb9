package core

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/vovakirdan/staffchat-server/internal/proto"
	"github.com/vovakirdan/staffchat-server/internal/store"
)

// MaxContentLength caps chat message content, in bytes.
const MaxContentLength = 8 << 10

// SubmitInbound handles one raw frame read from a connection. Protocol and
// authorization problems are answered on that connection only; the returned
// error is non-nil only when the connection is unknown.
func (h *Hub) SubmitInbound(ctx context.Context, connID string, raw []byte) error {
	c, ok := h.registry.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	h.stats.messagesIn.Add(1)
	c.touch(h.now())
	if st, changed := h.presence.Touch(c.Participant.ID); changed {
		h.publishPresence(ctx, st)
	}

	f, err := proto.Decode(raw)
	if err != nil {
		h.sendError(c, "", ErrCodeInvalidFrame, "malformed frame")
		return nil
	}

	payload, err := proto.DecodePayload(f)
	switch {
	case errors.Is(err, proto.ErrUnknownType):
		h.log.Debug().Str("conn_id", c.ID).Str("type", f.Type).Msg("ignoring frame of unknown type")
		return nil
	case err != nil:
		h.sendError(c, f.CorrelationID, ErrCodeInvalidFrame, err.Error())
		return nil
	}

	switch p := payload.(type) {
	case *proto.ChatMessage:
		h.handleChat(ctx, c, f, p)
	case *proto.Typing:
		h.handleTyping(ctx, c, f, p)
	case *proto.Presence:
		h.handlePresence(ctx, c, f, p)
	case *proto.Heartbeat:
		h.sendAck(c, f.CorrelationID, proto.ActionHeartbeat, proto.Ack{})
	default:
		// Server-to-client schemas sent by a client.
		h.log.Debug().Str("conn_id", c.ID).Str("type", f.Type).Msg("ignoring outbound-only frame")
	}
	return nil
}

func (h *Hub) handleChat(ctx context.Context, c *Conn, f proto.Frame, msg *proto.ChatMessage) {
	pid := c.Participant.ID

	if f.ChannelID <= 0 {
		h.sendError(c, f.CorrelationID, ErrCodeBadRequest, "channelId is required")
		return
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		h.sendError(c, f.CorrelationID, ErrCodeBadRequest, "content is required")
		return
	}
	if len(content) > MaxContentLength {
		h.sendError(c, f.CorrelationID, ErrCodeBadRequest, "content too long")
		return
	}

	if !h.limiter.Allow(pid) {
		h.stats.rejected.Add(1)
		h.sendError(c, f.CorrelationID, ErrCodeRateLimited, "rate limit exceeded")
		return
	}

	member, err := h.members.IsMember(ctx, f.ChannelID, pid)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", f.ChannelID).Int64("participant_id", pid).Msg("membership check failed")
		h.sendError(c, f.CorrelationID, ErrCodeInternal, "membership check failed")
		return
	}
	if !member {
		h.stats.rejected.Add(1)
		h.sendError(c, f.CorrelationID, ErrCodeNotMember, "not a member of this channel")
		return
	}

	stored := &store.Message{
		ChannelID: f.ChannelID,
		UserID:    pid,
		Body:      content,
		DedupeID:  msg.DedupeID,
		CreatedAt: h.now().UTC(),
	}
	if err := h.messages.SaveMessage(ctx, stored); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.sendAck(c, f.CorrelationID, proto.ActionDuplicate, proto.Ack{})
			return
		}
		h.log.Error().Err(err).Int64("channel_id", f.ChannelID).Int64("participant_id", pid).Msg("persist message failed")
		h.sendError(c, f.CorrelationID, ErrCodeInternal, "failed to store message")
		return
	}

	h.sendAck(c, f.CorrelationID, proto.ActionSent, proto.Ack{MessageID: stored.ID})

	if h.presence.SetTyping(f.ChannelID, pid, false) {
		h.broadcastTyping(ctx, f.ChannelID, pid, false)
	}

	out, err := proto.NewFrame("", proto.ChatMessage{
		MessageID:  stored.ID,
		Content:    content,
		DedupeID:   msg.DedupeID,
		SenderName: c.Participant.Name,
		SentAt:     stored.CreatedAt.UnixMilli(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("build chat frame")
		return
	}
	out.ParticipantID = pid
	out.CorrelationID = f.CorrelationID
	if err := h.Broadcast(ctx, f.ChannelID, out); err != nil {
		h.log.Warn().Err(err).Int64("channel_id", f.ChannelID).Msg("chat broadcast failed")
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Conn, f proto.Frame, t *proto.Typing) {
	pid := c.Participant.ID
	if f.ChannelID <= 0 {
		h.sendError(c, f.CorrelationID, ErrCodeBadRequest, "channelId is required")
		return
	}

	members, err := h.roster.MembersOf(ctx, f.ChannelID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", f.ChannelID).Msg("roster lookup failed")
		h.sendError(c, f.CorrelationID, ErrCodeInternal, "roster lookup failed")
		return
	}
	if !slices.Contains(members, pid) {
		h.stats.rejected.Add(1)
		h.sendError(c, f.CorrelationID, ErrCodeNotMember, "not a member of this channel")
		return
	}

	h.presence.SetTyping(f.ChannelID, pid, t.Typing)
	h.broadcastTyping(ctx, f.ChannelID, pid, t.Typing)
}

func (h *Hub) handlePresence(ctx context.Context, c *Conn, f proto.Frame, p *proto.Presence) {
	st, changed := h.presence.SetMessage(c.Participant.ID, strings.TrimSpace(p.Message))
	if !changed {
		return
	}
	h.sendAck(c, f.CorrelationID, proto.ActionStatus, proto.Ack{})
	h.publishPresence(ctx, st)
}
