package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	webhookSecretHeader    = "X-Webhook-Secret"
	webhookSignatureHeader = "X-Webhook-Hmac"
	maxWebhookBodyBytes    = 32 << 20
)

// verifyWebhook reads the body and checks it against secret. The runtime may
// send the shared secret itself or a "sha256=<hex>" HMAC of the body.
func verifyWebhook(r *http.Request, secret string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secret == "" {
		if os.Getenv("BRIDGE_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	if provided := r.Header.Get(webhookSecretHeader); provided != "" {
		if !hmac.Equal([]byte(provided), []byte(secret)) {
			return nil, fmt.Errorf("webhook secret mismatch")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get(webhookSignatureHeader)
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing %s or %s header", webhookSecretHeader, webhookSignatureHeader)
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", webhookSignatureHeader)
	}

	if !hmac.Equal([]byte(signBody(body, secret)), []byte(strings.ToLower(parts[1]))) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
