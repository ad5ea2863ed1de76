package types

import "io"

// ConversationStatus represents a Chatwoot conversation lifecycle state
type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusSnoozed  ConversationStatus = "snoozed"
	ConversationStatusResolved ConversationStatus = "resolved"
)

// Account is the subset of the account resource used by the connectivity probe
type Account struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Contact represents a Chatwoot contact
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier,omitempty"`
}

// Meta holds the match count returned by search endpoints
type Meta struct {
	Count int `json:"count"`
}

// ContactSearchResult is the response of GET /contacts/search
type ContactSearchResult struct {
	Meta    Meta      `json:"meta"`
	Payload []Contact `json:"payload"`
}

// CreateContactRequest is the body of POST /contacts
type CreateContactRequest struct {
	InboxID     int    `json:"inbox_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

// CreateContactResponse is the response of POST /contacts
type CreateContactResponse struct {
	Payload struct {
		Contact Contact `json:"contact"`
	} `json:"payload"`
}

// Conversation represents a Chatwoot conversation
type Conversation struct {
	ID        int                `json:"id"`
	InboxID   int                `json:"inbox_id"`
	ContactID int                `json:"contact_id,omitempty"`
	SourceID  string             `json:"source_id,omitempty"`
	Status    ConversationStatus `json:"status"`
}

// IsResolved reports whether the conversation is closed
func (c *Conversation) IsResolved() bool {
	return c.Status == ConversationStatusResolved
}

// ConversationList is the response of GET /contacts/{id}/conversations
type ConversationList struct {
	Payload []Conversation `json:"payload"`
}

// CreateConversationRequest is the body of POST /conversations
type CreateConversationRequest struct {
	SourceID  string             `json:"source_id"`
	InboxID   int                `json:"inbox_id"`
	ContactID int                `json:"contact_id"`
	Status    ConversationStatus `json:"status"`
}

// CreateMessageRequest is the body of a plain text POST /conversations/{id}/messages
type CreateMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// Message represents a created Chatwoot message
type Message struct {
	ID             int          `json:"id"`
	Content        string       `json:"content"`
	MessageType    interface{}  `json:"message_type"`
	ConversationID int          `json:"conversation_id"`
	Private        bool         `json:"private"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Attachment is an attachment on a created message
type Attachment struct {
	ID       int    `json:"id"`
	FileType string `json:"file_type"`
	DataURL  string `json:"data_url"`
}

// AttachmentMessage is a multipart message with a single binary attachment
type AttachmentMessage struct {
	Content     string
	Filename    string
	ContentType string
	Data        io.Reader
}

// ErrorResponse is the error body shape returned by the Chatwoot API
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
