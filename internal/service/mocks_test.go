package service

import (
	"context"
	"time"

	"chatwootbridge/internal/models"
	cwtypes "chatwootbridge/pkg/chatwoot/types"
	"chatwootbridge/pkg/session/types"

	"github.com/stretchr/testify/mock"
)

// Mock Chatwoot gateway
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetAccount(ctx context.Context) (*cwtypes.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Account), args.Error(1)
}

func (m *mockGateway) SearchContacts(ctx context.Context, query string) (*cwtypes.ContactSearchResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.ContactSearchResult), args.Error(1)
}

func (m *mockGateway) CreateContact(ctx context.Context, req cwtypes.CreateContactRequest) (*cwtypes.Contact, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Contact), args.Error(1)
}

func (m *mockGateway) ListContactConversations(ctx context.Context, contactID int) ([]cwtypes.Conversation, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cwtypes.Conversation), args.Error(1)
}

func (m *mockGateway) CreateConversation(ctx context.Context, req cwtypes.CreateConversationRequest) (*cwtypes.Conversation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Conversation), args.Error(1)
}

func (m *mockGateway) CreateMessage(ctx context.Context, conversationID int, req cwtypes.CreateMessageRequest) (*cwtypes.Message, error) {
	args := m.Called(ctx, conversationID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Message), args.Error(1)
}

func (m *mockGateway) CreateAttachmentMessage(ctx context.Context, conversationID int, msg cwtypes.AttachmentMessage) (*cwtypes.Message, error) {
	args := m.Called(ctx, conversationID, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Message), args.Error(1)
}

// Mock session media decrypter
type mockDecrypter struct {
	mock.Mock
}

func (m *mockDecrypter) DecryptFile(ctx context.Context, msg *types.MessageEvent) ([]byte, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Mock contact resolver
type mockContactResolver struct {
	mock.Mock
}

func (m *mockContactResolver) Resolve(ctx context.Context, msg *types.MessageEvent) (*cwtypes.Contact, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Contact), args.Error(1)
}

// Mock conversation resolver
type mockConversationResolver struct {
	mock.Mock
}

func (m *mockConversationResolver) Resolve(ctx context.Context, contact *cwtypes.Contact, sourceID string) (*cwtypes.Conversation, error) {
	args := m.Called(ctx, contact, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cwtypes.Conversation), args.Error(1)
}

// Mock delivery log
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordDelivery(ctx context.Context, record *models.DeliveryRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

type mockPurger struct {
	mock.Mock
}

func (m *mockPurger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
