package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/pkg/session/types"
)

// Envelope is the runtime's event wrapper, shared by webhooks and the feed.
// Payload may be absent when the runtime flattens the event fields into the
// envelope itself.
type Envelope struct {
	Event   string          `json:"event"`
	Session string          `json:"session,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrIgnoredEvent is returned for runtime events the bridge does not mirror
var ErrIgnoredEvent = errors.New("event ignored")

// ParseEnvelope decodes a raw envelope and resolves its payload
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "invalid event envelope")
	}
	if env.Event == "" {
		return nil, apperrors.NewMalformedInputError("event", "envelope has no event name")
	}
	if len(bytes.TrimSpace(env.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(env.Payload), []byte("null")) {
		env.Payload = json.RawMessage(raw)
	}
	return &env, nil
}

// Ingest validates env and publishes it on the session's topic. It returns
// the number of handlers started.
func Ingest(ctx context.Context, bus Bus, client types.MediaDecrypter, session string, env *Envelope) (int, error) {
	kind, ok := types.KindForWebhookEvent(env.Event)
	if !ok {
		return 0, ErrIgnoredEvent
	}

	ev, err := types.DecodeEvent(kind, env.Payload)
	if err != nil {
		return 0, err
	}

	return bus.Publish(ctx, types.Topic(kind, session), client, ev), nil
}
