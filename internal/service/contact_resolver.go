package service

import (
	"context"

	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/tracing"
	cwtypes "chatwootbridge/pkg/chatwoot/types"
	"chatwootbridge/pkg/session/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ContactResolver finds or creates the remote contact of a message sender
type ContactResolver interface {
	Resolve(ctx context.Context, msg *types.MessageEvent) (*cwtypes.Contact, error)
}

type contactResolver struct {
	gateway cwtypes.Gateway
	inboxID int
	session string
	metrics *metrics.Registry
	logger  *logrus.Logger
}

func NewContactResolver(gateway cwtypes.Gateway, inboxID int, session string, registry *metrics.Registry, logger *logrus.Logger) ContactResolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &contactResolver{
		gateway: gateway,
		inboxID: inboxID,
		session: session,
		metrics: registry,
		logger:  logger,
	}
}

// Resolve searches by phone number before creating, so sequential calls for
// the same sender return the same contact. Failures are logged and returned;
// there is no retry.
func (r *contactResolver) Resolve(ctx context.Context, msg *types.MessageEvent) (*cwtypes.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.resolve")
	defer span.End()

	if msg == nil {
		return nil, apperrors.NewMalformedInputError("message", "no message to resolve a contact for")
	}

	number := msg.Sender.ID.Number()
	if number == "" {
		err := apperrors.NewMalformedInputError("sender.id", "sender has no phone number")
		r.logFailure(ctx, err, "Contact has no phone number", "")
		return nil, err
	}

	name := msg.Sender.DisplayName()
	phone := "+" + number
	log := sessionEntry(r.logger, r.session).WithField(LogFieldPhone, phoneForLog(ctx, phone))

	found, err := r.gateway.SearchContacts(ctx, number)
	if err != nil {
		r.logFailure(ctx, err, "Failed to search contact", phone)
		return nil, err
	}
	if found != nil && found.Meta.Count > 0 && len(found.Payload) > 0 {
		contact := found.Payload[0]
		log.WithField(LogFieldContactID, contact.ID).Infof("%sContact found: %s", prefixInfo, name)
		tracing.AddSpanAttributes(ctx, attribute.Bool("contact.created", false))
		return &contact, nil
	}

	log.Infof("%sCreating contact: %s", prefixInfo, name)
	contact, err := r.gateway.CreateContact(ctx, cwtypes.CreateContactRequest{
		InboxID:     r.inboxID,
		Name:        name,
		PhoneNumber: phone,
	})
	if err != nil {
		r.logFailure(ctx, err, "Failed to create contact", phone)
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.IncrementCounter(metrics.ContactsCreated, map[string]string{"session": r.session})
	}
	tracing.AddSpanAttributes(ctx, attribute.Bool("contact.created", true))
	log.WithField(LogFieldContactID, contact.ID).Infof("%sContact created: %s", prefixSuccess, name)
	return contact, nil
}

func (r *contactResolver) logFailure(ctx context.Context, err error, message, phone string) {
	tracing.RecordError(ctx, err)
	entry := sessionEntry(r.logger, r.session)
	if phone != "" {
		entry = entry.WithField(LogFieldPhone, phoneForLog(ctx, phone))
	}
	apperrors.LogError(entry, err, prefixFailure+message)
}
