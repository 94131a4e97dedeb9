package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is the only wire version the server speaks.
const ProtocolVersion = 1

// Frame types.
const (
	TypeChatMessage  = "chat_message"
	TypeTyping       = "typing"
	TypePresence     = "presence"
	TypeChannelEvent = "channel_event"
	TypeNews         = "news"
	TypeAlert        = "alert"
	TypeAck          = "ack"
	TypeError        = "error"
	// TypeHeartbeat is inbound only.
	TypeHeartbeat = "heartbeat"
)

// Actions carried on ack and presence frames.
const (
	ActionConnected = "connected"
	ActionSent      = "sent"
	ActionDuplicate = "duplicate"
	ActionHeartbeat = "heartbeat"
	ActionStatus    = "status"
	ActionPublished = "published"
	ActionIssued    = "issued"
)

var (
	// ErrUnknownType is returned by DecodePayload for frame types it has no schema for.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrMalformed is returned when a frame cannot be parsed.
	ErrMalformed = errors.New("malformed frame")
)

// Frame is the envelope for every message in either direction.
type Frame struct {
	Type          string          `json:"type"`
	Action        string          `json:"action,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ParticipantID int64           `json:"participantId,omitempty"`
	ChannelID     int64           `json:"channelId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Success       bool            `json:"success"`
	ErrorCode     string          `json:"errorCode,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// NewFrame builds a successful frame whose type is taken from the payload.
func NewFrame(action string, payload Payload) (Frame, error) {
	f := Frame{
		Type:      payload.FrameType(),
		Action:    action,
		Success:   true,
		Timestamp: Now(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", f.Type, err)
	}
	f.Payload = raw
	return f, nil
}

// ErrorFrame builds an error envelope answering the frame with the given correlation id.
func ErrorFrame(correlationID, code, msg string) Frame {
	return Frame{
		Type:          TypeError,
		CorrelationID: correlationID,
		Success:       false,
		ErrorCode:     code,
		ErrorMessage:  msg,
		Timestamp:     Now(),
	}
}

// AckFrame builds an acknowledgment for a client request.
func AckFrame(correlationID, action string) Frame {
	return Frame{
		Type:          TypeAck,
		Action:        action,
		CorrelationID: correlationID,
		Success:       true,
		Timestamp:     Now(),
	}
}

// Decode parses a raw inbound frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return f, nil
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Now returns the server timestamp used on frames, in unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}
