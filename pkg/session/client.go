package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatwootbridge/internal/constants"
	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/pkg/session/types"

	"github.com/sirupsen/logrus"
)

// Client talks to the session runtime HTTP API
type Client interface {
	types.MediaDecrypter
	Session() string
}

type RuntimeClient struct {
	baseURL string
	session string
	token   string
	client  *http.Client
	logger  *logrus.Logger
}

type downloadMediaRequest struct {
	MessageID string `json:"messageId"`
}

type downloadMediaResponse struct {
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
	Data     string `json:"data"`
}

func NewClient(baseURL, session, token string) Client {
	return NewClientWithLogger(baseURL, session, token, nil, nil)
}

func NewClientWithLogger(baseURL, session, token string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &RuntimeClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: session,
		token:   token,
		client:  httpClient,
		logger:  logger,
	}
}

func (c *RuntimeClient) Session() string {
	return c.session
}

// DecryptFile asks the runtime to download and decrypt the media of msg
func (c *RuntimeClient) DecryptFile(ctx context.Context, msg *types.MessageEvent) ([]byte, error) {
	if msg == nil || msg.ID == "" {
		return nil, apperrors.NewMalformedInputError("id", "message has no id to download media for")
	}

	endpoint := fmt.Sprintf("%s/api/%s/download-media", c.baseURL, url.PathEscape(c.session))

	jsonData, err := json.Marshal(downloadMediaRequest{MessageID: msg.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.NewRuntimeError(endpoint, resp.StatusCode, body)
	}

	var result downloadMediaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	encoded := result.Base64
	if encoded == "" {
		encoded = result.Data
	}
	if encoded == "" {
		return nil, apperrors.NewMediaError("download", msg.Mimetype, fmt.Errorf("runtime returned no media for message %s", msg.ID))
	}

	data, err := DecodeBase64(encoded)
	if err != nil {
		return nil, apperrors.NewMediaError("decode", msg.Mimetype, err)
	}

	c.logger.WithFields(logrus.Fields{
		"session":  c.session,
		"bytes":    len(data),
		"mimetype": result.Mimetype,
	}).Debug("Downloaded media from session runtime")

	return data, nil
}

// DecodeBase64 decodes a raw or data URL base64 payload
func DecodeBase64(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		if _, rest, ok := strings.Cut(encoded, ","); ok {
			encoded = rest
		}
	}
	encoded = strings.TrimSpace(encoded)

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	return data, nil
}
