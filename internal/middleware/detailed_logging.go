package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"chatwootbridge/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SkipEndpoints     []string
}

// DefaultDetailedLoggingConfig logs headers but not bodies
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    false,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "x-webhook-secret", "api_access_token",
			"cookie", "set-cookie", "x-api-key",
		},
		SkipEndpoints: []string{"/metrics", "/health"},
	}
}

// DetailedLoggingMiddleware logs request headers and, optionally, the start
// of the body at debug level. It does nothing unless debug is enabled.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipEndpoint(r.URL.Path, config.SkipEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			fields := logrus.Fields{
				LogFieldRequestID: tracing.GetRequestID(r.Context()),
				LogFieldMethod:    r.Method,
				LogFieldURL:       r.URL.Path,
				"content_length":  r.ContentLength,
				"protocol":        r.Proto,
			}

			if config.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}

			if config.LogRequestBody && isTextBody(r) && r.Body != nil {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					if len(body) > config.MaxBodySize {
						body = body[:config.MaxBodySize]
					}
					fields["request_body"] = string(body)
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

func skipEndpoint(path string, skip []string) bool {
	for _, s := range skip {
		if path == s {
			return true
		}
	}
	return false
}

func maskHeaders(header http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name, sensitive) {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

func isTextBody(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return strings.Contains(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}
