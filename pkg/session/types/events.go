package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "chatwootbridge/internal/errors"
)

// EventKind identifies one variant of Event
type EventKind string

const (
	EventKindQRCode  EventKind = "qrcode"
	EventKindStatus  EventKind = "status"
	EventKindMessage EventKind = "mensagem"
)

// Event is one session occurrence. Exactly one of QRCodeEvent, StatusEvent
// or *MessageEvent implements it.
type Event interface {
	Kind() EventKind
}

// QRCodeEvent is emitted when the session needs to be paired again
type QRCodeEvent struct {
	Base64   string `json:"base64Qr"`
	URLCode  string `json:"urlCode,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// qrCodeWire also accepts the flattened webhook field names
type qrCodeWire struct {
	QRCodeEvent
	QRCode  string `json:"qrcode,omitempty"`
	URLCode string `json:"urlcode,omitempty"`
}

func (QRCodeEvent) Kind() EventKind { return EventKindQRCode }

// StatusEvent is emitted when the session connection state changes
type StatusEvent struct {
	Status string `json:"status"`
}

func (StatusEvent) Kind() EventKind { return EventKindStatus }

// SenderID is the sender identity. The runtime sends either a plain
// "<number>@<server>" string or an object with user/server parts.
type SenderID struct {
	Serialized string
	User       string
	Server     string
	structured bool
}

// Number returns the user part of the identity
func (s SenderID) Number() string {
	if s.structured {
		return s.User
	}
	number, _, _ := strings.Cut(s.Serialized, "@")
	return number
}

func (s *SenderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = SenderID{Serialized: raw}
		return nil
	case '{':
		var obj struct {
			User       string `json:"user"`
			Server     string `json:"server"`
			Serialized string `json:"_serialized"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.User == "" {
			return apperrors.NewMalformedInputError("sender.id", "sender id object has no user")
		}
		*s = SenderID{Serialized: obj.Serialized, User: obj.User, Server: obj.Server, structured: true}
		return nil
	default:
		return apperrors.NewMalformedInputError("sender.id", fmt.Sprintf("unexpected sender id shape: %s", data))
	}
}

func (s SenderID) MarshalJSON() ([]byte, error) {
	if s.structured {
		return json.Marshal(map[string]string{
			"user":        s.User,
			"server":      s.Server,
			"_serialized": s.Serialized,
		})
	}
	return json.Marshal(s.Serialized)
}

// NewSenderID builds a plain string identity
func NewSenderID(id string) SenderID {
	return SenderID{Serialized: id}
}

// Sender describes who sent a message
type Sender struct {
	ID            SenderID `json:"id"`
	PushName      string   `json:"pushname,omitempty"`
	FormattedName string   `json:"formattedName,omitempty"`
	IsMyContact   bool     `json:"isMyContact,omitempty"`
}

// DisplayName prefers the saved contact name, then the push name
func (s Sender) DisplayName() string {
	if s.IsMyContact && s.FormattedName != "" {
		return s.FormattedName
	}
	if s.PushName != "" {
		return s.PushName
	}
	return s.FormattedName
}

// Timestamp accepts a JSON number or string
type Timestamp string

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*t = Timestamp(raw)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return apperrors.NewMalformedInputError("timestamp", fmt.Sprintf("unexpected timestamp shape: %s", data))
	}
	if i, err := n.Int64(); err == nil {
		*t = Timestamp(strconv.FormatInt(i, 10))
		return nil
	}
	*t = Timestamp(n.String())
	return nil
}

func (t Timestamp) String() string {
	return string(t)
}

// MessageEvent is an inbound or outbound chat message
type MessageEvent struct {
	ID         string    `json:"id,omitempty"`
	ChatID     string    `json:"chatId"`
	Sender     Sender    `json:"sender"`
	Type       string    `json:"type,omitempty"`
	Body       string    `json:"body,omitempty"`
	Caption    string    `json:"caption,omitempty"`
	Mimetype   string    `json:"mimetype,omitempty"`
	Timestamp  Timestamp `json:"timestamp,omitempty"`
	IsGroupMsg bool      `json:"isGroupMsg,omitempty"`

	// InlineMedia is an already base64 encoded payload. Synthetic QR code
	// messages carry it so no decryption round trip is needed.
	InlineMedia string `json:"-"`
}

func (*MessageEvent) Kind() EventKind { return EventKindMessage }

// SourceID is the number segment of the chat id
func (m *MessageEvent) SourceID() string {
	number, _, _ := strings.Cut(m.ChatID, "@")
	return number
}

// Text returns the body, falling back to the caption
func (m *MessageEvent) Text() string {
	if m.Body != "" {
		return m.Body
	}
	return m.Caption
}

// Validate checks the fields every message needs before routing
func (m *MessageEvent) Validate() error {
	if m.ChatID == "" {
		return apperrors.NewMalformedInputError("chatId", "message has no chat id")
	}
	if m.Sender.ID.Number() == "" {
		return apperrors.NewMalformedInputError("sender.id", "message has no sender id")
	}
	return nil
}

// DecodeEvent validates a raw payload into the variant named by kind
func DecodeEvent(kind EventKind, raw json.RawMessage) (Event, error) {
	switch kind {
	case EventKindQRCode:
		var wire qrCodeWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "invalid qrcode payload")
		}
		ev := wire.QRCodeEvent
		if ev.Base64 == "" {
			ev.Base64 = wire.QRCode
		}
		if ev.URLCode == "" {
			ev.URLCode = wire.URLCode
		}
		if ev.Base64 == "" {
			return nil, apperrors.NewMalformedInputError("base64Qr", "qrcode payload has no image")
		}
		return ev, nil
	case EventKindStatus:
		ev, err := decodeStatus(raw)
		if err != nil {
			return nil, err
		}
		return ev, nil
	case EventKindMessage:
		var ev MessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			if appErr, ok := apperrors.As(err); ok {
				return nil, appErr
			}
			return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "invalid message payload")
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		return &ev, nil
	default:
		return nil, apperrors.NewMalformedInputError("event", fmt.Sprintf("unknown event kind %q", kind))
	}
}

// decodeStatus accepts a bare status string or a {"status": ...} object
func decodeStatus(raw json.RawMessage) (StatusEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var status string
		if err := json.Unmarshal(trimmed, &status); err != nil {
			return StatusEvent{}, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "invalid status payload")
		}
		return StatusEvent{Status: status}, nil
	}

	var ev StatusEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return StatusEvent{}, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "invalid status payload")
	}
	if ev.Status == "" {
		return StatusEvent{}, apperrors.NewMalformedInputError("status", "status payload has no status")
	}
	return ev, nil
}

// Topic returns the bus topic for kind in session
func Topic(kind EventKind, session string) string {
	return string(kind) + "-" + session
}

// KindForWebhookEvent maps a runtime webhook event name to an EventKind
func KindForWebhookEvent(name string) (EventKind, bool) {
	switch strings.ToLower(name) {
	case "qrcode":
		return EventKindQRCode, true
	case "status-find", "status", "onstatechange":
		return EventKindStatus, true
	case "onmessage", "message", "mensagem", "onanymessage":
		return EventKindMessage, true
	default:
		return "", false
	}
}
