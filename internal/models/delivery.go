package models

import "time"

// DeliveryStatus is the recorded result of handling one session event
type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusDropped   DeliveryStatus = "dropped"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is one row of the delivery log
type DeliveryRecord struct {
	ID             int64          `json:"id"`
	EventID        string         `json:"event_id"`
	Session        string         `json:"session"`
	ChatID         string         `json:"chat_id"`
	EventKind      string         `json:"event_kind"`
	MessageType    string         `json:"message_type"`
	ContactID      int            `json:"contact_id,omitempty"`
	ConversationID int            `json:"conversation_id,omitempty"`
	MessageID      int            `json:"message_id,omitempty"`
	Status         DeliveryStatus `json:"status"`
	Stage          string         `json:"stage,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	HandledAt      time.Time      `json:"handled_at"`
}
