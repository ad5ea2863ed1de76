package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"chatwootbridge/internal/constants"
	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/tracing"
	"chatwootbridge/pkg/chatwoot/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type Client interface {
	types.Gateway
	AccountID() int
	InboxID() int
}

type ChatwootClient struct {
	baseURL   string
	token     string
	accountID int
	inboxID   int
	client    *http.Client
	logger    *logrus.Logger
}

func NewClient(baseURL, token string, accountID, inboxID int, httpClient *http.Client) Client {
	return NewClientWithLogger(baseURL, token, accountID, inboxID, httpClient, nil)
}

func NewClientWithLogger(baseURL, token string, accountID, inboxID int, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &ChatwootClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		token:     token,
		accountID: accountID,
		inboxID:   inboxID,
		client:    httpClient,
		logger:    logger,
	}
}

func (c *ChatwootClient) AccountID() int { return c.accountID }

func (c *ChatwootClient) InboxID() int { return c.inboxID }

func (c *ChatwootClient) GetAccount(ctx context.Context) (*types.Account, error) {
	var account types.Account
	if err := c.doJSON(ctx, http.MethodGet, "", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *ChatwootClient) SearchContacts(ctx context.Context, query string) (*types.ContactSearchResult, error) {
	path := "/contacts/search/?q=" + url.QueryEscape(query)

	var result types.ContactSearchResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ChatwootClient) CreateContact(ctx context.Context, req types.CreateContactRequest) (*types.Contact, error) {
	var result types.CreateContactResponse
	if err := c.doJSON(ctx, http.MethodPost, "/contacts", req, &result); err != nil {
		return nil, err
	}
	return &result.Payload.Contact, nil
}

func (c *ChatwootClient) ListContactConversations(ctx context.Context, contactID int) ([]types.Conversation, error) {
	path := fmt.Sprintf("/contacts/%d/conversations", contactID)

	var result types.ConversationList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Payload, nil
}

func (c *ChatwootClient) CreateConversation(ctx context.Context, req types.CreateConversationRequest) (*types.Conversation, error) {
	var conversation types.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", req, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (c *ChatwootClient) CreateMessage(ctx context.Context, conversationID int, req types.CreateMessageRequest) (*types.Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)

	var message types.Message
	if err := c.doJSON(ctx, http.MethodPost, path, req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// CreateAttachmentMessage posts a multipart message. The request carries the
// multipart content type instead of the JSON default used by other calls.
func (c *ChatwootClient) CreateAttachmentMessage(ctx context.Context, conversationID int, msg types.AttachmentMessage) (*types.Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if msg.Content != "" {
		if err := writer.WriteField("content", msg.Content); err != nil {
			return nil, fmt.Errorf("failed to write content field: %w", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(constants.AttachmentsField), escapeQuotes(msg.Filename)))
	header.Set("Content-Type", msg.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment part: %w", err)
	}
	if msg.Data != nil {
		if _, err := io.Copy(part, msg.Data); err != nil {
			return nil, fmt.Errorf("failed to copy attachment content: %w", err)
		}
	}

	if err := writer.WriteField("message_type", constants.MessageTypeIncoming); err != nil {
		return nil, fmt.Errorf("failed to write message_type field: %w", err)
	}
	if err := writer.WriteField("private", "false"); err != nil {
		return nil, fmt.Errorf("failed to write private field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	var message types.Message
	if err := c.do(ctx, http.MethodPost, path, body, writer.FormDataContentType(), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *ChatwootClient) endpoint(path string) string {
	return fmt.Sprintf("%s/api/v1/accounts/%d%s", c.baseURL, c.accountID, path)
}

func (c *ChatwootClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}
	return c.do(ctx, method, path, body, "application/json;charset=utf-8", out)
}

func (c *ChatwootClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	endpoint := c.endpoint(path)

	ctx, span := tracing.StartSpan(ctx, "chatwoot.request",
		attribute.String("http.method", method),
		attribute.String("chatwoot.path", path),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(constants.APIAccessTokenHeader, c.token)

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"endpoint": endpoint,
	}).Debug("Sending Chatwoot request")

	resp, err := c.client.Do(req)
	if err != nil {
		netErr := apperrors.NewNetworkError(endpoint, err)
		tracing.RecordError(ctx, netErr)
		return netErr
	}
	defer resp.Body.Close()

	tracing.AddSpanAttributes(ctx, attribute.Int("http.status_code", resp.StatusCode))

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remoteErr := apperrors.NewRemoteError(endpoint, resp.StatusCode, bodyBytes)
		tracing.RecordError(ctx, remoteErr)
		return remoteErr
	}

	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// RemoteMessage extracts the human readable message from a Chatwoot error body
func RemoteMessage(body string) string {
	var resp types.ErrorResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return ""
	}
	if resp.Message != "" {
		return resp.Message
	}
	return resp.Error
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
