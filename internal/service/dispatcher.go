package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatwootbridge/internal/constants"
	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/models"
	"chatwootbridge/internal/tracing"
	cwtypes "chatwootbridge/pkg/chatwoot/types"
	"chatwootbridge/pkg/media"
	"chatwootbridge/pkg/session"
	"chatwootbridge/pkg/session/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DeliveryKind is the delivery path an event took
type DeliveryKind string

const (
	DeliveryText  DeliveryKind = "text"
	DeliveryMedia DeliveryKind = "media"
)

// Pipeline stages, used to tag failures
const (
	stageContact      = "contact"
	stageConversation = "conversation"
	stageDelivery     = "delivery"
)

// DeliveryOutcome describes a delivered event. Dropped and failed events
// have no outcome.
type DeliveryOutcome struct {
	EventID        string
	Kind           DeliveryKind
	ContactID      int
	ConversationID int
	Message        *cwtypes.Message
	Filename       string
}

// DeliveryRecorder persists the result of each handled event
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, record *models.DeliveryRecord) error
}

// DispatcherConfig is the read-only configuration of one session's dispatcher
type DispatcherConfig struct {
	Session          string
	BaseURL          string
	AccountID        int
	InboxID          int
	MobileName       string
	MobileNumber     string
	SendQRCode       bool
	SendStatus       bool
	QRCodeDelay      time.Duration
	SerializePerChat bool
}

// NewDispatcherConfig derives the dispatcher settings for session from cfg
func NewDispatcherConfig(session string, cfg models.ChatwootConfig) DispatcherConfig {
	config := DispatcherConfig{
		Session:          session,
		BaseURL:          cfg.BaseURL,
		AccountID:        cfg.AccountID,
		InboxID:          cfg.InboxID,
		MobileName:       cfg.MobileName,
		MobileNumber:     cfg.MobileNumber,
		SendQRCode:       cfg.ShouldSendQRCode(),
		SendStatus:       cfg.ShouldSendStatus(),
		QRCodeDelay:      time.Duration(cfg.QRCodeDelayMs) * time.Millisecond,
		SerializePerChat: cfg.SerializePerChat,
	}
	if config.MobileName == "" {
		config.MobileName = constants.DefaultMobileName
	}
	if config.MobileNumber == "" {
		config.MobileNumber = constants.DefaultMobileNumber
	}
	return config
}

// Dispatcher mirrors one session's events into the support inbox. It is
// built with NewDispatcher, which has no side effects, and attached to a bus
// with Start.
type Dispatcher struct {
	config        DispatcherConfig
	gateway       cwtypes.Gateway
	contacts      ContactResolver
	conversations ConversationResolver
	encoder       media.Encoder
	prober        *Prober
	recorder      DeliveryRecorder
	metrics       *metrics.Registry
	logger        *logrus.Logger
	locks         *keyedMutex

	mu      sync.Mutex
	subs    []session.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewDispatcher(config DispatcherConfig, gateway cwtypes.Gateway, contacts ContactResolver, conversations ConversationResolver, encoder media.Encoder, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if encoder == nil {
		encoder = media.NewEncoder()
	}
	if contacts == nil {
		contacts = NewContactResolver(gateway, config.InboxID, config.Session, nil, logger)
	}
	if conversations == nil {
		conversations = NewConversationResolver(gateway, config.InboxID, config.Session, nil, logger)
	}

	return &Dispatcher{
		config:        config,
		gateway:       gateway,
		contacts:      contacts,
		conversations: conversations,
		encoder:       encoder,
		logger:        logger,
		locks:         newKeyedMutex(),
	}
}

// SetProber runs p once on Start
func (d *Dispatcher) SetProber(p *Prober) {
	d.prober = p
}

// SetRecorder writes every handled event to r
func (d *Dispatcher) SetRecorder(r DeliveryRecorder) {
	d.recorder = r
}

// SetMetrics reports dispatch counters and timings to registry
func (d *Dispatcher) SetMetrics(registry *metrics.Registry) {
	d.metrics = registry
}

// Start subscribes to the session topics on bus and launches the probe
func (d *Dispatcher) Start(ctx context.Context, bus session.Bus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher for session %s is already running", d.config.Session)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	done := ctx.Done()

	log := sessionEntry(d.logger, d.config.Session)
	log.WithFields(logrus.Fields{
		"base_url":      d.config.BaseURL,
		"account_id":    d.config.AccountID,
		"inbox_id":      d.config.InboxID,
		"mobile_name":   d.config.MobileName,
		"mobile_number": phoneForLog(ctx, d.config.MobileNumber),
	}).Infof("%sChatwoot dispatcher started", prefixInfo)

	handler := func(ctx context.Context, client types.MediaDecrypter, ev types.Event) {
		d.onEvent(ctx, client, ev, done)
	}
	d.subs = []session.Subscription{
		bus.Subscribe(types.Topic(types.EventKindQRCode, d.config.Session), handler),
		bus.Subscribe(types.Topic(types.EventKindStatus, d.config.Session), handler),
		bus.Subscribe(types.Topic(types.EventKindMessage, d.config.Session), handler),
	}

	if d.prober != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.prober.Probe(ctx)
		}()
	}

	d.running = true
	return nil
}

// Stop removes the subscriptions. In-flight events are not interrupted
// except for pending QR code delays.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	for _, sub := range d.subs {
		sub.Unsubscribe()
	}
	d.subs = nil
	d.cancel()
	d.wg.Wait()
	d.running = false

	sessionEntry(d.logger, d.config.Session).Infof("%sChatwoot dispatcher stopped", prefixInfo)
}

// onEvent handles one bus event. done closes when the Start that
// subscribed this handler is stopped.
func (d *Dispatcher) onEvent(ctx context.Context, client types.MediaDecrypter, ev types.Event, done <-chan struct{}) {
	if ev == nil {
		return
	}

	if ev.Kind() == types.EventKindQRCode && d.config.SendQRCode && d.config.QRCodeDelay > 0 {
		timer := time.NewTimer(d.config.QRCodeDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}

	d.Handle(ctx, client, ev)
}

// Handle runs one event through contact resolution, conversation resolution
// and delivery, in that order. Every failure is logged and yields nil.
func (d *Dispatcher) Handle(ctx context.Context, client types.MediaDecrypter, ev types.Event) *DeliveryOutcome {
	if ev == nil {
		return nil
	}

	eventID := tracing.GetEventID(ctx)
	if eventID == "" {
		eventID = tracing.GenerateEventID()
		ctx = tracing.WithEventID(ctx, eventID)
	}

	ctx, span := tracing.StartSpan(ctx, "dispatcher.handle",
		attribute.String("session", d.config.Session),
		attribute.String("event.kind", string(ev.Kind())),
		attribute.String("event.id", eventID),
	)
	defer span.End()

	d.count(metrics.EventsReceived, map[string]string{"session": d.config.Session, "kind": string(ev.Kind())})

	log := sessionEntry(d.logger, d.config.Session).WithFields(logrus.Fields{
		LogFieldEventID:   eventID,
		LogFieldEventKind: ev.Kind(),
	})

	msg := d.normalize(ev)
	if msg == nil {
		d.drop(ctx, ev.Kind(), nil, "disabled")
		return nil
	}

	log = log.WithFields(logrus.Fields{
		LogFieldChatID:      chatForLog(ctx, msg.ChatID),
		LogFieldMessageType: msg.Type,
	})

	if !isEligible(msg) {
		log.Debug("Skipping group or broadcast event")
		d.drop(ctx, ev.Kind(), msg, "ineligible")
		return nil
	}

	if err := msg.Validate(); err != nil {
		apperrors.LogError(log, err, prefixFailure+"Discarding malformed event")
		d.drop(ctx, ev.Kind(), msg, "malformed")
		return nil
	}

	if d.config.SerializePerChat {
		unlock := d.locks.Lock(msg.ChatID)
		defer unlock()
	}

	start := time.Now()

	contact, err := d.contacts.Resolve(ctx, msg)
	if err != nil || contact == nil {
		d.fail(ctx, log, ev.Kind(), msg, stageContact, err, nil, "Failed to find or create contact, event dropped")
		return nil
	}
	log = log.WithField(LogFieldContactID, contact.ID)

	conversation, err := d.conversations.Resolve(ctx, contact, msg.SourceID())
	if err != nil || conversation == nil {
		partial := &DeliveryOutcome{EventID: eventID, ContactID: contact.ID}
		d.fail(ctx, log, ev.Kind(), msg, stageConversation, err, partial, "Failed to find or create conversation, event dropped")
		return nil
	}
	log = log.WithField(LogFieldConversationID, conversation.ID)

	outcome := &DeliveryOutcome{
		EventID:        eventID,
		ContactID:      contact.ID,
		ConversationID: conversation.ID,
	}

	if media.IsAttachmentType(msg.Type) {
		outcome.Kind = DeliveryMedia
		err = d.deliverMedia(ctx, client, msg, conversation, outcome)
	} else {
		outcome.Kind = DeliveryText
		err = d.deliverText(ctx, msg, conversation, outcome)
	}

	d.timing(outcome.Kind, time.Since(start))

	if err != nil {
		d.count(metrics.Deliveries, map[string]string{"kind": string(outcome.Kind), "result": "failed"})
		d.fail(ctx, log, ev.Kind(), msg, stageDelivery, err, outcome, "Failed to send message to Chatwoot")
		return nil
	}

	d.count(metrics.Deliveries, map[string]string{"kind": string(outcome.Kind), "result": "delivered"})
	d.record(ctx, ev.Kind(), msg, outcome, models.DeliveryStatusDelivered, "", nil)

	entry := log.WithField(LogFieldDuration, time.Since(start).Milliseconds())
	if outcome.Kind == DeliveryMedia {
		entry.WithField(LogFieldFileName, outcome.Filename).Infof("%sMedia sent to Chatwoot (%s)", prefixSuccess, msg.Type)
	} else {
		entry.Infof("%sMessage sent to Chatwoot", prefixSuccess)
	}

	return outcome
}

// normalize turns QR code and status events into messages from the
// configured self sender. It returns nil when the kind is switched off.
func (d *Dispatcher) normalize(ev types.Event) *types.MessageEvent {
	self := types.Sender{
		ID:       types.NewSenderID(d.config.MobileNumber),
		PushName: d.config.MobileName,
	}
	selfChat := d.config.MobileNumber + constants.UserChatSuffix

	switch e := ev.(type) {
	case types.QRCodeEvent:
		if !d.config.SendQRCode {
			return nil
		}
		return &types.MessageEvent{
			ChatID:      selfChat,
			Sender:      self,
			Type:        "image",
			Timestamp:   constants.QRCodeTimestamp,
			Mimetype:    constants.QRCodeMimeType,
			Caption:     constants.QRCodeCaption,
			InlineMedia: strings.TrimPrefix(e.Base64, constants.QRCodeDataPrefix),
		}
	case types.StatusEvent:
		if !d.config.SendStatus {
			return nil
		}
		return &types.MessageEvent{
			ChatID: selfChat,
			Sender: self,
			Body:   fmt.Sprintf(constants.StatusBodyFormat, e.Status),
		}
	case *types.MessageEvent:
		return e
	default:
		return nil
	}
}

func isEligible(msg *types.MessageEvent) bool {
	return !msg.IsGroupMsg && !strings.Contains(msg.ChatID, constants.BroadcastMarker)
}

func (d *Dispatcher) deliverText(ctx context.Context, msg *types.MessageEvent, conversation *cwtypes.Conversation, outcome *DeliveryOutcome) error {
	message, err := d.gateway.CreateMessage(ctx, conversation.ID, cwtypes.CreateMessageRequest{
		Content:     msg.Text(),
		MessageType: constants.MessageTypeIncoming,
	})
	if err != nil {
		return err
	}
	outcome.Message = message
	return nil
}

func (d *Dispatcher) deliverMedia(ctx context.Context, client types.MediaDecrypter, msg *types.MessageEvent, conversation *cwtypes.Conversation, outcome *DeliveryOutcome) error {
	payload, err := d.mediaPayload(ctx, client, msg)
	if err != nil {
		return err
	}

	attachment, err := d.encoder.Encode(msg, payload)
	if err != nil {
		return err
	}
	outcome.Filename = attachment.Filename

	message, err := d.gateway.CreateAttachmentMessage(ctx, conversation.ID, cwtypes.AttachmentMessage{
		Content:     msg.Caption,
		Filename:    attachment.Filename,
		ContentType: attachment.ContentType,
		Data:        attachment.Data,
	})
	if err != nil {
		return err
	}
	outcome.Message = message
	return nil
}

// mediaPayload prefers the inline payload and otherwise asks the runtime
func (d *Dispatcher) mediaPayload(ctx context.Context, client types.MediaDecrypter, msg *types.MessageEvent) ([]byte, error) {
	if msg.InlineMedia != "" {
		data, err := session.DecodeBase64(msg.InlineMedia)
		if err != nil {
			return nil, apperrors.NewMediaError("decode", msg.Mimetype, err)
		}
		return data, nil
	}

	if client == nil {
		return nil, apperrors.NewMediaError("decrypt", msg.Mimetype, fmt.Errorf("no media decrypter for session %s", d.config.Session))
	}

	ctx, span := tracing.StartSpan(ctx, "media.decrypt")
	defer span.End()

	data, err := client.DecryptFile(ctx, msg)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return data, nil
}

func (d *Dispatcher) fail(ctx context.Context, log *logrus.Entry, kind types.EventKind, msg *types.MessageEvent, stage string, err error, outcome *DeliveryOutcome, message string) {
	log = log.WithField(LogFieldStage, stage)
	if err != nil {
		tracing.RecordError(ctx, err)
		apperrors.LogError(log, err, prefixFailure+message)
	} else {
		log.Error(prefixFailure + message)
	}
	d.record(ctx, kind, msg, outcome, models.DeliveryStatusFailed, stage, err)
}

func (d *Dispatcher) drop(ctx context.Context, kind types.EventKind, msg *types.MessageEvent, reason string) {
	d.count(metrics.EventsDropped, map[string]string{"session": d.config.Session, "reason": reason})
	if msg != nil {
		d.record(ctx, kind, msg, nil, models.DeliveryStatusDropped, reason, nil)
	}
}

func (d *Dispatcher) record(ctx context.Context, kind types.EventKind, msg *types.MessageEvent, outcome *DeliveryOutcome, status models.DeliveryStatus, stage string, cause error) {
	if d.recorder == nil {
		return
	}

	record := &models.DeliveryRecord{
		EventID:     tracing.GetEventID(ctx),
		Session:     d.config.Session,
		ChatID:      msg.ChatID,
		EventKind:   string(kind),
		MessageType: msg.Type,
		Status:      status,
		Stage:       stage,
		HandledAt:   time.Now(),
	}
	if outcome != nil {
		record.ContactID = outcome.ContactID
		record.ConversationID = outcome.ConversationID
		if outcome.Message != nil {
			record.MessageID = outcome.Message.ID
		}
	}
	if cause != nil {
		record.ErrorCode = string(apperrors.GetCode(cause))
	}

	if err := d.recorder.RecordDelivery(ctx, record); err != nil {
		apperrors.LogError(sessionEntry(d.logger, d.config.Session), err, "Failed to record delivery")
	}
}

func (d *Dispatcher) count(name string, labels map[string]string) {
	if d.metrics != nil {
		d.metrics.IncrementCounter(name, labels)
	}
}

func (d *Dispatcher) timing(kind DeliveryKind, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordTimer(metrics.DeliveryDuration, elapsed, map[string]string{"kind": string(kind)})
	}
}

// keyedMutex serializes work per key and forgets keys nobody holds
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
