package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatwootbridge/internal/constants"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/retry"
	"chatwootbridge/pkg/session/types"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Feed reads runtime events from a websocket stream and publishes them on a bus
type Feed struct {
	url     string
	token   string
	session string
	bus     Bus
	client  types.MediaDecrypter
	backoff *retry.Backoff
	metrics *metrics.Registry
	logger  *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewFeed creates a feed for session. client is handed to handlers for media downloads.
func NewFeed(url, token, session string, bus Bus, client types.MediaDecrypter, logger *logrus.Logger) *Feed {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Feed{
		url:     url,
		token:   token,
		session: session,
		bus:     bus,
		client:  client,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Second,
			MaxDelay:     time.Duration(constants.DefaultFeedReconnectSec) * time.Second * 6,
			Multiplier:   2,
			Jitter:       true,
		}),
		logger: logger,
	}
}

// SetMetrics reports the connection state as a gauge on registry
func (f *Feed) SetMetrics(registry *metrics.Registry) {
	f.metrics = registry
}

func (f *Feed) setConnected(connected bool) {
	if f.metrics == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	f.metrics.SetGauge(metrics.FeedConnected, value, map[string]string{"session": f.session})
}

// Start connects in the background and keeps reconnecting until Stop
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("event feed is already running")
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.running = true

	f.wg.Add(1)
	go f.run(ctx)

	f.logger.WithFields(logrus.Fields{
		"session": f.session,
		"url":     f.url,
	}).Info("Session event feed started")

	return nil
}

// Stop closes the connection and waits for the read loop to exit
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.cancel()
	f.wg.Wait()
	f.running = false
	f.logger.WithField("session", f.session).Info("Session event feed stopped")
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	failures := 0
	for {
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			failures = 0
		}
		failures++
		f.logger.WithFields(logrus.Fields{
			"session": f.session,
			"attempt": failures,
			"error":   err,
		}).Warn("Session event feed disconnected, reconnecting")

		if err := f.backoff.Wait(ctx, failures); err != nil {
			return
		}
	}
}

// consume reads from one connection until it fails
func (f *Feed) consume(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if f.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + f.token}}
	}

	conn, _, err := websocket.Dial(ctx, f.url, opts)
	if err != nil {
		return fmt.Errorf("failed to dial event feed: %w", err)
	}
	defer conn.CloseNow()

	f.setConnected(true)
	defer f.setConnected(false)
	f.logger.WithField("session", f.session).Debug("Connected to session event feed")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("failed to read event: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		f.dispatch(ctx, data)
	}
}

func (f *Feed) dispatch(ctx context.Context, data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		f.logger.WithError(err).WithField("session", f.session).Warn("Discarding malformed feed frame")
		return
	}

	session := f.session
	if env.Session != "" && env.Session != f.session {
		f.logger.WithFields(logrus.Fields{
			"session":       f.session,
			"event_session": env.Session,
		}).Debug("Ignoring event for another session")
		return
	}

	// handlers are not tied to the connection lifetime
	if _, err := Ingest(context.WithoutCancel(ctx), f.bus, f.client, session, env); err != nil {
		if errors.Is(err, ErrIgnoredEvent) {
			return
		}
		f.logger.WithError(err).WithFields(logrus.Fields{
			"session": f.session,
			"event":   env.Event,
		}).Warn("Discarding invalid session event")
	}
}
