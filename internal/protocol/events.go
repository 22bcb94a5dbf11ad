// Package protocol defines the push-channel message types exchanged between
// the Fiqir client and the server. All messages are serialized as JSON and
// follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Server -> Client push event types.
const (
	TypeNewMessage   = "new_message"
	TypeNewLike      = "new_like"
	TypeNewMatch     = "new_match"
	TypeGiftReceived = "gift_received"
	TypeTyping       = "typing"
	TypeReadReceipt  = "read_receipt"
)

// Client -> Server push message types. The bulk of client actions go over
// REST; typing indicators are the only fire-and-forget upstream message.
const (
	TypeSetTyping = "typing"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct. The wire shape is {"type": ..., "data": ...}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It extracts the
// "type" field and captures the "data" payload for later decoding into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.Data = partial.Data
	return nil
}

// ---------------------------------------------------------------------------
// Event payload structs
// ---------------------------------------------------------------------------

// MessageData is the payload of a new_message event: a chat message created
// by the match partner (text or gift).
type MessageData struct {
	ID        string           `json:"id"`
	MatchID   string           `json:"match_id"`
	SenderID  string           `json:"sender_id"`
	Content   string           `json:"content,omitempty"`
	Gift      *GiftPayloadData `json:"gift,omitempty"`
	CreatedAt int64            `json:"created_at"`
}

// GiftPayloadData describes a gift attached to a chat message.
type GiftPayloadData struct {
	GiftID   string `json:"gift_id"`
	Name     string `json:"name"`
	CoinCost int64  `json:"coin_cost"`
}

// LikeData is the payload of a new_like event: another user liked the
// current user.
type LikeData struct {
	LikeID    string `json:"like_id"`
	LikerID   string `json:"liker_id"`
	LikedID   string `json:"liked_id"`
	CreatedAt int64  `json:"created_at"`
}

// MatchData is the payload of a new_match event and of the match_data field
// of a like response.
type MatchData struct {
	ID           string       `json:"id"`
	ParticipantA string       `json:"participant_a"`
	ParticipantB string       `json:"participant_b"`
	CreatedAt    int64        `json:"created_at"`
	UnreadCount  int          `json:"unread_count"`
	LastMessage  *MessageData `json:"last_message,omitempty"`
}

// GiftReceivedData is the payload of a gift_received event: someone sent the
// current user a gift, crediting their wallet with the creator share.
type GiftReceivedData struct {
	TransactionID string `json:"transaction_id"`
	SenderID      string `json:"sender_id"`
	GiftID        string `json:"gift_id"`
	CoinsEarned   int64  `json:"coins_earned"`
}

// TypingData is the payload of a typing event, both directions.
type TypingData struct {
	MatchID  string `json:"match_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptData is the payload of a read_receipt event: the partner has
// read all messages in the match up to the given message id.
type ReadReceiptData struct {
	MatchID       string `json:"match_id"`
	ReaderID      string `json:"reader_id"`
	LastMessageID string `json:"last_message_id"`
	ReadAt        int64  `json:"read_at"`
}

// ---------------------------------------------------------------------------
// Event — closed tagged variant over the known push event types.
// ---------------------------------------------------------------------------

// Event is a decoded push event. Exactly one of the payload pointers is
// non-nil for the known types; Unknown carries the raw payload for event
// types this client version does not recognize.
type Event struct {
	Type         string
	Message      *MessageData
	Like         *LikeData
	Match        *MatchData
	GiftReceived *GiftReceivedData
	Typing       *TypingData
	ReadReceipt  *ReadReceiptData

	// Unknown is set for unrecognized event types so that new server-side
	// events never break the client. Subscribers may still inspect the raw
	// payload if they know how.
	Unknown json.RawMessage
}

// IsUnknown reports whether the event carries a type this client does not
// recognize.
func (e *Event) IsUnknown() bool { return e.Unknown != nil }

// ParseEvent parses raw push-channel bytes into a typed Event. Unknown event
// types do not produce an error: they decode into an Event with Unknown set,
// so forward compatibility is preserved. An error is returned only for
// malformed JSON or a payload that does not match its declared type.
func ParseEvent(data []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	ev := &Event{Type: env.Type}

	var err error
	switch env.Type {
	case TypeNewMessage:
		var d MessageData
		err = json.Unmarshal(env.Data, &d)
		ev.Message = &d
	case TypeNewLike:
		var d LikeData
		err = json.Unmarshal(env.Data, &d)
		ev.Like = &d
	case TypeNewMatch:
		var d MatchData
		err = json.Unmarshal(env.Data, &d)
		ev.Match = &d
	case TypeGiftReceived:
		var d GiftReceivedData
		err = json.Unmarshal(env.Data, &d)
		ev.GiftReceived = &d
	case TypeTyping:
		var d TypingData
		err = json.Unmarshal(env.Data, &d)
		ev.Typing = &d
	case TypeReadReceipt:
		var d ReadReceiptData
		err = json.Unmarshal(env.Data, &d)
		ev.ReadReceipt = &d
	default:
		ev.Unknown = env.Data
		if ev.Unknown == nil {
			ev.Unknown = json.RawMessage("null")
		}
	}

	if err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return ev, nil
}

// NewEnvelope creates a JSON-encoded {"type": ..., "data": ...} envelope for
// the given event type and payload struct.
func NewEnvelope(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	out, err := json.Marshal(Envelope{Type: eventType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal envelope: %w", err)
	}
	return out, nil
}
