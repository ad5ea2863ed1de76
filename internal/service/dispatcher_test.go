package service

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/models"
	cwtypes "chatwootbridge/pkg/chatwoot/types"
	"chatwootbridge/pkg/session"
	"chatwootbridge/pkg/session/types"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Session:      "sales",
		BaseURL:      "https://chat.example.com",
		AccountID:    3,
		InboxID:      7,
		MobileName:   "Front Desk",
		MobileNumber: "5511888888888",
		SendQRCode:   true,
		SendStatus:   true,
	}
}

func aliceMessage() *types.MessageEvent {
	return &types.MessageEvent{
		ID:     "true_5511999999999@c.us_ABC",
		Type:   "text",
		ChatID: "5511999999999@c.us",
		Sender: types.Sender{ID: types.NewSenderID("5511999999999@c.us"), PushName: "Alice"},
		Body:   "hi",
	}
}

func TestDispatcher_EndToEndFreshState(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

	outcome := dispatcher.Handle(context.Background(), nil, aliceMessage())

	require.NotNil(t, outcome)
	assert.Equal(t, DeliveryText, outcome.Kind)

	contacts := fake.callsTo(routeCreateContact)
	require.Len(t, contacts, 1)
	assert.Equal(t, "+5511999999999", contacts[0].JSON["phone_number"])
	assert.Equal(t, "Alice", contacts[0].JSON["name"])
	assert.Equal(t, float64(7), contacts[0].JSON["inbox_id"])

	conversations := fake.callsTo(routeCreateConversation)
	require.Len(t, conversations, 1)
	assert.Equal(t, float64(outcome.ContactID), conversations[0].JSON["contact_id"])
	assert.Equal(t, "5511999999999", conversations[0].JSON["source_id"])
	assert.Equal(t, "open", conversations[0].JSON["status"])

	messages := fake.callsTo(routeCreateMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, map[string]interface{}{"content": "hi", "message_type": "incoming"}, messages[0].JSON)
	assert.Equal(t, outcome.ConversationID, outcome.Message.ConversationID)
}

func TestDispatcher_EndToEndReplay(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

	first := dispatcher.Handle(context.Background(), nil, aliceMessage())
	require.NotNil(t, first)
	second := dispatcher.Handle(context.Background(), nil, aliceMessage())
	require.NotNil(t, second)

	assert.Equal(t, 1, fake.count(routeCreateContact))
	assert.Equal(t, 1, fake.count(routeCreateConversation))
	assert.Equal(t, 2, fake.count(routeCreateMessage))
	assert.Equal(t, first.ContactID, second.ContactID)
	assert.Equal(t, first.ConversationID, second.ConversationID)
}

func TestDispatcher_IgnoresGroupAndBroadcast(t *testing.T) {
	tests := []struct {
		name string
		msg  *types.MessageEvent
	}{
		{
			name: "group message",
			msg: &types.MessageEvent{
				ChatID:     "120363000000000000@g.us",
				Sender:     types.Sender{ID: types.NewSenderID("5511999999999@c.us")},
				Body:       "hello all",
				IsGroupMsg: true,
			},
		},
		{
			name: "status broadcast",
			msg: &types.MessageEvent{
				ChatID: "status@broadcast",
				Sender: types.Sender{ID: types.NewSenderID("5511999999999@c.us")},
				Type:   "image",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &mockGateway{}
			decrypter := &mockDecrypter{}
			registry := metrics.NewRegistry()
			dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())
			dispatcher.SetMetrics(registry)

			outcome := dispatcher.Handle(context.Background(), decrypter, tt.msg)

			assert.Nil(t, outcome)
			assert.Empty(t, gateway.Calls)
			assert.Empty(t, decrypter.Calls)
			assert.Equal(t, float64(1), registry.CounterValue(metrics.EventsDropped, map[string]string{"session": "sales", "reason": "ineligible"}))
		})
	}
}

func TestDispatcher_RewritesWebpToJpeg(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	decrypter := &mockDecrypter{}
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

	msg := aliceMessage()
	msg.Type = "sticker"
	msg.Body = ""
	msg.Mimetype = "image/webp"
	msg.Timestamp = "1700000000"
	decrypter.On("DecryptFile", mock.Anything, msg).Return([]byte("RIFF....WEBPVP8 "), nil).Once()

	outcome := dispatcher.Handle(context.Background(), decrypter, msg)

	require.NotNil(t, outcome)
	assert.Equal(t, DeliveryMedia, outcome.Kind)
	assert.Equal(t, "1700000000.jpg", outcome.Filename)

	messages := fake.callsTo(routeCreateMessage)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Attachment)
	assert.Equal(t, "image/jpeg", messages[0].Attachment.ContentType)
	assert.Equal(t, "1700000000.jpg", messages[0].Attachment.Filename)
	assert.Equal(t, "incoming", messages[0].JSON["message_type"])
	assert.Equal(t, "false", messages[0].JSON["private"])
	decrypter.AssertExpectations(t)
}

func TestDispatcher_MediaCarriesCaption(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	decrypter := &mockDecrypter{}
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

	msg := aliceMessage()
	msg.Type = "document"
	msg.Body = ""
	msg.Caption = "invoice attached"
	msg.Mimetype = "application/pdf"
	msg.Timestamp = "1700000001"
	decrypter.On("DecryptFile", mock.Anything, msg).Return([]byte("%PDF-1.4 test"), nil).Once()

	outcome := dispatcher.Handle(context.Background(), decrypter, msg)

	require.NotNil(t, outcome)
	messages := fake.callsTo(routeCreateMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, "invoice attached", messages[0].Content)
	assert.Equal(t, "1700000001.pdf", messages[0].Attachment.Filename)
	assert.Equal(t, "application/pdf", messages[0].Attachment.ContentType)
}

func TestDispatcher_AbortsWhenContactUnresolved(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "null contact", err: nil},
		{name: "resolver error", err: apperrors.NewRemoteError("/contacts", 500, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &mockGateway{}
			contacts := &mockContactResolver{}
			conversations := &mockConversationResolver{}
			dispatcher := NewDispatcher(testDispatcherConfig(), gateway, contacts, conversations, nil, quietLogger())

			contacts.On("Resolve", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			outcome := dispatcher.Handle(context.Background(), nil, aliceMessage())

			assert.Nil(t, outcome)
			contacts.AssertExpectations(t)
			conversations.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, gateway.Calls)
		})
	}
}

func TestDispatcher_AbortsWhenConversationUnresolved(t *testing.T) {
	gateway := &mockGateway{}
	contacts := &mockContactResolver{}
	conversations := &mockConversationResolver{}
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, contacts, conversations, nil, quietLogger())

	contact := &cwtypes.Contact{ID: 42}
	contacts.On("Resolve", mock.Anything, mock.Anything).Return(contact, nil).Once()
	conversations.On("Resolve", mock.Anything, contact, "5511999999999").Return(nil, nil).Once()

	outcome := dispatcher.Handle(context.Background(), nil, aliceMessage())

	assert.Nil(t, outcome)
	conversations.AssertExpectations(t)
	assert.Empty(t, gateway.Calls)
}

func TestDispatcher_ConversationCreateFailureIsIsolated(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	fake.failConversationCreate = true

	logger, hook := test.NewNullLogger()
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, logger)

	var outcome *DeliveryOutcome
	assert.NotPanics(t, func() {
		outcome = dispatcher.Handle(context.Background(), nil, aliceMessage())
	})

	assert.Nil(t, outcome)
	assert.Equal(t, 0, fake.count(routeCreateMessage))

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Data["status_code"] == 500 {
			logged = true
			assert.Contains(t, entry.Data["remote_body"], "Internal Server Error")
		}
	}
	assert.True(t, logged, "expected an error log carrying the remote status")
}

func TestDispatcher_DeliveryFailureIsIsolated(t *testing.T) {
	gateway := &mockGateway{}
	logger, hook := test.NewNullLogger()
	registry := metrics.NewRegistry()
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, logger)
	dispatcher.SetMetrics(registry)

	gateway.On("SearchContacts", mock.Anything, "5511999999999").
		Return(&cwtypes.ContactSearchResult{Meta: cwtypes.Meta{Count: 1}, Payload: []cwtypes.Contact{{ID: 42}}}, nil)
	gateway.On("ListContactConversations", mock.Anything, 42).
		Return([]cwtypes.Conversation{{ID: 9, InboxID: 7, Status: cwtypes.ConversationStatusOpen}}, nil)
	gateway.On("CreateMessage", mock.Anything, 9, mock.Anything).
		Return(nil, apperrors.NewRemoteError("/conversations/9/messages", 422, []byte(`{"message":"Content is too long"}`)))

	outcome := dispatcher.Handle(context.Background(), nil, aliceMessage())

	assert.Nil(t, outcome)
	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Equal(t, stageDelivery, last.Data[LogFieldStage])
	assert.Equal(t, 422, last.Data["status_code"])
	assert.Equal(t, float64(1), registry.CounterValue(metrics.Deliveries, map[string]string{"kind": "text", "result": "failed"}))
}

func TestDispatcher_MediaFailures(t *testing.T) {
	t.Run("no decrypter", func(t *testing.T) {
		fake, gateway := newFakeChatwoot(t)
		dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

		msg := aliceMessage()
		msg.Type = "image"
		msg.Mimetype = "image/jpeg"

		assert.Nil(t, dispatcher.Handle(context.Background(), nil, msg))
		assert.Equal(t, 0, fake.count(routeCreateMessage))
	})

	t.Run("decrypt fails", func(t *testing.T) {
		fake, gateway := newFakeChatwoot(t)
		decrypter := &mockDecrypter{}
		dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

		msg := aliceMessage()
		msg.Type = "ptt"
		msg.Mimetype = "audio/ogg; codecs=opus"
		decrypter.On("DecryptFile", mock.Anything, msg).
			Return(nil, apperrors.NewRuntimeError("/api/sales/download-media", 500, []byte("oops"))).Once()

		assert.Nil(t, dispatcher.Handle(context.Background(), decrypter, msg))
		assert.Equal(t, 0, fake.count(routeCreateMessage))
		decrypter.AssertExpectations(t)
	})
}

func TestDispatcher_QRCodeEvent(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	decrypter := &mockDecrypter{}
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

	ev := types.QRCodeEvent{
		Base64:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngPixel),
		Attempts: 1,
	}

	outcome := dispatcher.Handle(context.Background(), decrypter, ev)

	require.NotNil(t, outcome)
	assert.Equal(t, DeliveryMedia, outcome.Kind)
	assert.Equal(t, "qrcode.png", outcome.Filename)
	assert.Empty(t, decrypter.Calls)

	contacts := fake.callsTo(routeCreateContact)
	require.Len(t, contacts, 1)
	assert.Equal(t, "+5511888888888", contacts[0].JSON["phone_number"])
	assert.Equal(t, "Front Desk", contacts[0].JSON["name"])

	conversations := fake.callsTo(routeCreateConversation)
	require.Len(t, conversations, 1)
	assert.Equal(t, "5511888888888", conversations[0].JSON["source_id"])

	messages := fake.callsTo(routeCreateMessage)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Attachment)
	assert.Equal(t, "image/png", messages[0].Attachment.ContentType)
	assert.Equal(t, len(pngPixel), messages[0].Attachment.Size)
	assert.NotEmpty(t, messages[0].Content)
}

func TestDispatcher_StatusEvent(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())

	outcome := dispatcher.Handle(context.Background(), nil, types.StatusEvent{Status: "inChat"})

	require.NotNil(t, outcome)
	assert.Equal(t, DeliveryText, outcome.Kind)

	messages := fake.callsTo(routeCreateMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, "Session status: inChat", messages[0].JSON["content"])
	assert.Equal(t, "incoming", messages[0].JSON["message_type"])
}

func TestDispatcher_Toggles(t *testing.T) {
	config := testDispatcherConfig()
	config.SendQRCode = false
	config.SendStatus = false

	gateway := &mockGateway{}
	registry := metrics.NewRegistry()
	dispatcher := NewDispatcher(config, gateway, nil, nil, nil, quietLogger())
	dispatcher.SetMetrics(registry)

	assert.Nil(t, dispatcher.Handle(context.Background(), nil, types.QRCodeEvent{Base64: "abc"}))
	assert.Nil(t, dispatcher.Handle(context.Background(), nil, types.StatusEvent{Status: "notLogged"}))
	assert.Empty(t, gateway.Calls)
	assert.Equal(t, float64(2), registry.CounterValue(metrics.EventsDropped, map[string]string{"session": "sales", "reason": "disabled"}))
}

func TestDispatcher_NilEvent(t *testing.T) {
	dispatcher := NewDispatcher(testDispatcherConfig(), &mockGateway{}, nil, nil, nil, quietLogger())

	assert.Nil(t, dispatcher.Handle(context.Background(), nil, nil))
	var msg *types.MessageEvent
	assert.Nil(t, dispatcher.Handle(context.Background(), nil, msg))
}

func TestDispatcher_RecordsDeliveries(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		_, gateway := newFakeChatwoot(t)
		recorder := &mockRecorder{}
		dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())
		dispatcher.SetRecorder(recorder)

		recorder.On("RecordDelivery", mock.Anything, mock.MatchedBy(func(r *models.DeliveryRecord) bool {
			return r.Status == models.DeliveryStatusDelivered &&
				r.Session == "sales" &&
				r.ChatID == "5511999999999@c.us" &&
				r.EventKind == "mensagem" &&
				r.ContactID != 0 && r.ConversationID != 0 && r.MessageID != 0 &&
				r.EventID != ""
		})).Return(nil).Once()

		require.NotNil(t, dispatcher.Handle(context.Background(), nil, aliceMessage()))
		recorder.AssertExpectations(t)
	})

	t.Run("failed", func(t *testing.T) {
		fake, gateway := newFakeChatwoot(t)
		fake.failConversationCreate = true
		recorder := &mockRecorder{}
		dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())
		dispatcher.SetRecorder(recorder)

		recorder.On("RecordDelivery", mock.Anything, mock.MatchedBy(func(r *models.DeliveryRecord) bool {
			return r.Status == models.DeliveryStatusFailed &&
				r.Stage == stageConversation &&
				r.ContactID != 0 &&
				r.ErrorCode == string(apperrors.ErrCodeRemoteAPI)
		})).Return(nil).Once()

		assert.Nil(t, dispatcher.Handle(context.Background(), nil, aliceMessage()))
		recorder.AssertExpectations(t)
	})

	t.Run("recorder error does not fail delivery", func(t *testing.T) {
		_, gateway := newFakeChatwoot(t)
		recorder := &mockRecorder{}
		dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, quietLogger())
		dispatcher.SetRecorder(recorder)

		recorder.On("RecordDelivery", mock.Anything, mock.Anything).Return(assert.AnError).Once()

		assert.NotNil(t, dispatcher.Handle(context.Background(), nil, aliceMessage()))
	})
}

func TestDispatcher_Metrics(t *testing.T) {
	_, gateway := newFakeChatwoot(t)
	registry := metrics.NewRegistry()
	contacts := NewContactResolver(gateway, 7, "sales", registry, quietLogger())
	conversations := NewConversationResolver(gateway, 7, "sales", registry, quietLogger())
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, contacts, conversations, nil, quietLogger())
	dispatcher.SetMetrics(registry)

	require.NotNil(t, dispatcher.Handle(context.Background(), nil, aliceMessage()))

	assert.Equal(t, float64(1), registry.CounterValue(metrics.EventsReceived, map[string]string{"session": "sales", "kind": "mensagem"}))
	assert.Equal(t, float64(1), registry.CounterValue(metrics.Deliveries, map[string]string{"kind": "text", "result": "delivered"}))
	assert.Equal(t, float64(1), registry.CounterValue(metrics.ContactsCreated, map[string]string{"session": "sales"}))
	assert.Equal(t, float64(1), registry.CounterValue(metrics.ConversationsCreated, map[string]string{"session": "sales"}))
}

func TestDispatcher_StartStop(t *testing.T) {
	gateway := &mockGateway{}
	gateway.On("GetAccount", mock.Anything).Return(&cwtypes.Account{ID: 3, Name: "Support"}, nil).Once()

	logger := quietLogger()
	bus := session.NewBus(logger)
	config := testDispatcherConfig()
	dispatcher := NewDispatcher(config, gateway, nil, nil, nil, logger)
	dispatcher.SetProber(NewProber(gateway, config.Session, config.BaseURL, config.AccountID, logger))

	topics := []string{
		types.Topic(types.EventKindQRCode, "sales"),
		types.Topic(types.EventKindStatus, "sales"),
		types.Topic(types.EventKindMessage, "sales"),
	}
	for _, topic := range topics {
		assert.Equal(t, 0, bus.SubscriberCount(topic), "construction must not subscribe")
	}
	assert.Empty(t, gateway.Calls, "construction must not probe")

	require.NoError(t, dispatcher.Start(context.Background(), bus))
	assert.Error(t, dispatcher.Start(context.Background(), bus))
	for _, topic := range topics {
		assert.Equal(t, 1, bus.SubscriberCount(topic))
	}
	assert.Equal(t, 0, bus.SubscriberCount(types.Topic(types.EventKindMessage, "other")))

	dispatcher.Stop()
	for _, topic := range topics {
		assert.Equal(t, 0, bus.SubscriberCount(topic))
	}
	gateway.AssertExpectations(t)

	dispatcher.Stop()
}

func TestDispatcher_HandlesPublishedEvents(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	logger := quietLogger()
	bus := session.NewBus(logger)
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, logger)

	require.NoError(t, dispatcher.Start(context.Background(), bus))
	defer dispatcher.Stop()

	started := bus.Publish(context.Background(), types.Topic(types.EventKindMessage, "sales"), nil, aliceMessage())
	require.Equal(t, 1, started)
	bus.Wait()

	assert.Equal(t, 1, fake.count(routeCreateMessage))
}

func TestDispatcher_QRCodeDelayStopsWithDispatcher(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	config := testDispatcherConfig()
	config.QRCodeDelay = time.Hour

	logger := quietLogger()
	bus := session.NewBus(logger)
	dispatcher := NewDispatcher(config, gateway, nil, nil, nil, logger)
	require.NoError(t, dispatcher.Start(context.Background(), bus))

	bus.Publish(context.Background(), types.Topic(types.EventKindQRCode, "sales"), nil,
		types.QRCodeEvent{Base64: base64.StdEncoding.EncodeToString(pngPixel)})

	dispatcher.Stop()

	done := make(chan struct{})
	go func() {
		bus.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("QR code delay did not stop")
	}
	assert.Equal(t, 0, fake.totalCalls())
}

func TestDispatcher_SerializesPerChat(t *testing.T) {
	config := testDispatcherConfig()
	config.SerializePerChat = true

	var inFlight, maxInFlight int32
	contacts := &mockContactResolver{}
	contacts.On("Resolve", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}).Return(nil, nil)

	dispatcher := NewDispatcher(config, &mockGateway{}, contacts, &mockConversationResolver{}, nil, quietLogger())

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			dispatcher.Handle(context.Background(), nil, aliceMessage())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Empty(t, dispatcher.locks.entries)
}

func TestKeyedMutex(t *testing.T) {
	locks := newKeyedMutex()

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key must wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}

	unlockB()
	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries)
}

func TestNewDispatcherConfig(t *testing.T) {
	off := false
	config := NewDispatcherConfig("sales", models.ChatwootConfig{
		BaseURL:       "https://chat.example.com",
		AccountID:     3,
		InboxID:       7,
		SendStatus:    &off,
		QRCodeDelayMs: 250,
	})

	assert.Equal(t, "sales", config.Session)
	assert.True(t, config.SendQRCode)
	assert.False(t, config.SendStatus)
	assert.Equal(t, 250*time.Millisecond, config.QRCodeDelay)
	assert.Equal(t, "WPPConnect", config.MobileName)
	assert.Equal(t, "5511999999999", config.MobileNumber)
}

func TestDispatcher_IneligibleBeforeValidation(t *testing.T) {
	logger, hook := test.NewNullLogger()
	gateway := &mockGateway{}
	registry := metrics.NewRegistry()
	dispatcher := NewDispatcher(testDispatcherConfig(), gateway, nil, nil, nil, logger)
	dispatcher.SetMetrics(registry)

	// no sender at all: still a silent skip because the chat is a group
	outcome := dispatcher.Handle(context.Background(), nil, &types.MessageEvent{
		ChatID:     "120363000000000000@g.us",
		Body:       "hello all",
		IsGroupMsg: true,
	})

	assert.Nil(t, outcome)
	assert.Empty(t, gateway.Calls)
	for _, entry := range hook.AllEntries() {
		assert.Greater(t, entry.Level, logrus.ErrorLevel, entry.Message)
	}
	assert.Equal(t, float64(1), registry.CounterValue(metrics.EventsDropped, map[string]string{"session": "sales", "reason": "ineligible"}))
	assert.Zero(t, registry.CounterValue(metrics.EventsDropped, map[string]string{"session": "sales", "reason": "malformed"}))
}

func TestDispatcher_RestartWithPendingQRCode(t *testing.T) {
	fake, gateway := newFakeChatwoot(t)
	config := testDispatcherConfig()
	config.QRCodeDelay = time.Hour

	logger := quietLogger()
	bus := session.NewBus(logger)
	dispatcher := NewDispatcher(config, gateway, nil, nil, nil, logger)

	require.NoError(t, dispatcher.Start(context.Background(), bus))
	bus.Publish(context.Background(), types.Topic(types.EventKindQRCode, "sales"), nil,
		types.QRCodeEvent{Base64: base64.StdEncoding.EncodeToString(pngPixel)})
	dispatcher.Stop()

	require.NoError(t, dispatcher.Start(context.Background(), bus))
	defer dispatcher.Stop()

	done := make(chan struct{})
	go func() {
		bus.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("QR code delay from the first start did not stop")
	}
	assert.Equal(t, 0, fake.totalCalls())

	bus.Publish(context.Background(), types.Topic(types.EventKindMessage, "sales"), nil, aliceMessage())
	bus.Wait()
	assert.Equal(t, 1, fake.count(routeCreateMessage))
}
