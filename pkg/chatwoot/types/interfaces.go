package types

import "context"

// Gateway is the authenticated request/response surface of one Chatwoot account and inbox
type Gateway interface {
	GetAccount(ctx context.Context) (*Account, error)
	SearchContacts(ctx context.Context, query string) (*ContactSearchResult, error)
	CreateContact(ctx context.Context, req CreateContactRequest) (*Contact, error)
	ListContactConversations(ctx context.Context, contactID int) ([]Conversation, error)
	CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error)
	CreateMessage(ctx context.Context, conversationID int, req CreateMessageRequest) (*Message, error)
	CreateAttachmentMessage(ctx context.Context, conversationID int, msg AttachmentMessage) (*Message, error)
}
