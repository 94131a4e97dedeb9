package proto

import (
	"encoding/json"
	"fmt"
)

// Payload is one of the finite payload schemas a frame can carry.
type Payload interface {
	FrameType() string
}

// ChatMessage is a chat message submitted by a client or fanned out to a channel.
type ChatMessage struct {
	MessageID  int64  `json:"messageId,omitempty"`
	Content    string `json:"content"`
	DedupeID   string `json:"dedupeId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	SentAt     int64  `json:"sentAt,omitempty"`
}

// Typing signals that a participant started or stopped composing.
type Typing struct {
	Typing bool   `json:"typing"`
	Name   string `json:"name,omitempty"`
}

// Presence describes a participant's status.
type Presence struct {
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	Name     string `json:"name,omitempty"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// ChannelEvent announces a change to a channel (member added, renamed, archived...).
type ChannelEvent struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// News is an institution-wide news item.
type News struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Author string `json:"author,omitempty"`
}

// Alert is an emergency alert. It travels on the priority path.
type Alert struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	IssuedBy string `json:"issuedBy,omitempty"`
}

// Ack carries optional details on an acknowledgment.
type Ack struct {
	ConnectionID string `json:"connectionId,omitempty"`
	MessageID    int64  `json:"messageId,omitempty"`
	Protocol     int    `json:"protocol,omitempty"`
}

// Heartbeat is sent by clients to keep their presence fresh.
type Heartbeat struct{}

func (ChatMessage) FrameType() string  { return TypeChatMessage }
func (Typing) FrameType() string       { return TypeTyping }
func (Presence) FrameType() string     { return TypePresence }
func (ChannelEvent) FrameType() string { return TypeChannelEvent }
func (News) FrameType() string         { return TypeNews }
func (Alert) FrameType() string        { return TypeAlert }
func (Ack) FrameType() string          { return TypeAck }
func (Heartbeat) FrameType() string    { return TypeHeartbeat }

// DecodePayload returns the typed payload of a frame. Frames of unknown type
// yield ErrUnknownType; callers log and ignore them.
func DecodePayload(f Frame) (Payload, error) {
	var p Payload
	switch f.Type {
	case TypeChatMessage:
		p = &ChatMessage{}
	case TypeTyping:
		p = &Typing{}
	case TypePresence:
		p = &Presence{}
	case TypeChannelEvent:
		p = &ChannelEvent{}
	case TypeNews:
		p = &News{}
	case TypeAlert:
		p = &Alert{}
	case TypeAck:
		p = &Ack{}
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeError:
		return nil, fmt.Errorf("%w: %s is server-only", ErrUnknownType, f.Type)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if len(f.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(f.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, f.Type, err)
	}
	return p, nil
}
