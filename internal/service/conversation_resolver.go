package service

import (
	"context"

	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/tracing"
	cwtypes "chatwootbridge/pkg/chatwoot/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ConversationResolver finds or opens the conversation of a contact in the inbox
type ConversationResolver interface {
	Resolve(ctx context.Context, contact *cwtypes.Contact, sourceID string) (*cwtypes.Conversation, error)
}

type conversationResolver struct {
	gateway cwtypes.Gateway
	inboxID int
	session string
	metrics *metrics.Registry
	logger  *logrus.Logger
}

func NewConversationResolver(gateway cwtypes.Gateway, inboxID int, session string, registry *metrics.Registry, logger *logrus.Logger) ConversationResolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &conversationResolver{
		gateway: gateway,
		inboxID: inboxID,
		session: session,
		metrics: registry,
		logger:  logger,
	}
}

// Resolve reuses the first conversation in the inbox that is not resolved and
// only opens a new one when there is none. sourceID is used only on create.
func (r *conversationResolver) Resolve(ctx context.Context, contact *cwtypes.Contact, sourceID string) (*cwtypes.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "conversation.resolve")
	defer span.End()

	if contact == nil {
		return nil, apperrors.NewMalformedInputError("contact", "no contact to resolve a conversation for")
	}

	log := sessionEntry(r.logger, r.session).WithField(LogFieldContactID, contact.ID)

	conversations, err := r.gateway.ListContactConversations(ctx, contact.ID)
	if err != nil {
		r.logFailure(ctx, log, err, "Failed to list contact conversations")
		return nil, err
	}

	if existing := r.findOpen(conversations); existing != nil {
		log.WithField(LogFieldConversationID, existing.ID).Infof("%sConversation found", prefixInfo)
		tracing.AddSpanAttributes(ctx, attribute.Bool("conversation.created", false))
		return existing, nil
	}

	log.Infof("%sOpening conversation for %s", prefixInfo, contact.Name)
	conversation, err := r.gateway.CreateConversation(ctx, cwtypes.CreateConversationRequest{
		SourceID:  sourceID,
		InboxID:   r.inboxID,
		ContactID: contact.ID,
		Status:    cwtypes.ConversationStatusOpen,
	})
	if err != nil {
		r.logFailure(ctx, log, err, "Failed to create conversation")
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.IncrementCounter(metrics.ConversationsCreated, map[string]string{"session": r.session})
	}
	tracing.AddSpanAttributes(ctx, attribute.Bool("conversation.created", true))
	log.WithField(LogFieldConversationID, conversation.ID).Infof("%sConversation created", prefixSuccess)
	return conversation, nil
}

// findOpen returns the first match; the remote order is not guaranteed
func (r *conversationResolver) findOpen(conversations []cwtypes.Conversation) *cwtypes.Conversation {
	for i := range conversations {
		if conversations[i].InboxID == r.inboxID && !conversations[i].IsResolved() {
			return &conversations[i]
		}
	}
	return nil
}

func (r *conversationResolver) logFailure(ctx context.Context, entry *logrus.Entry, err error, message string) {
	tracing.RecordError(ctx, err)
	apperrors.LogError(entry, err, prefixFailure+message)
}
