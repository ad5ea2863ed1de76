package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatwootbridge/internal/httputil"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// Standard field names
const (
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldDuration   = "duration_ms"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldSize       = "response_size"
)

// ObservabilityMiddleware assigns a request id, traces the request and
// records request metrics. registry may be nil.
func ObservabilityMiddleware(logger *logrus.Logger, registry *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := tracing.StartSpan(r.Context(), "http_request",
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", httputil.ClientIP(r)),
			)
			defer span.End()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = tracing.GenerateRequestID()
			}
			ctx = tracing.WithRequestID(ctx, requestID)
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			fields := logrus.Fields{
				LogFieldRequestID: requestID,
				LogFieldMethod:    r.Method,
				LogFieldURL:       r.URL.Path,
				LogFieldRemoteIP:  httputil.ClientIP(r),
			}
			if traceID := tracing.GetOtelTraceID(ctx); traceID != "" {
				fields[LogFieldTraceID] = traceID
			}
			logger.WithFields(fields).Debug("HTTP request started")

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)

			span.SetAttributes(
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			setSpanStatus(span, wrapper.statusCode)

			if registry != nil {
				labels := map[string]string{
					"method":      r.Method,
					"endpoint":    routeLabel(r),
					"status_code": strconv.Itoa(wrapper.statusCode),
				}
				registry.IncrementCounter(metrics.HTTPRequests, labels)
				registry.RecordTimer(metrics.HTTPRequestDuration, duration, labels)
			}

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			fields[LogFieldStatusCode] = wrapper.statusCode
			fields[LogFieldDuration] = duration.Milliseconds()
			fields[LogFieldSize] = wrapper.responseSize
			logger.WithFields(fields).Log(logLevel, "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware counts webhook deliveries per session
func WebhookObservabilityMiddleware(registry *metrics.Registry, session func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			if registry != nil {
				registry.IncrementCounter(metrics.WebhookRequests, map[string]string{
					"session":     session(r),
					"status_code": strconv.Itoa(wrapper.statusCode),
				})
			}
		})
	}
}

func setSpanStatus(span oteltrace.Span, statusCode int) {
	if statusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// routeLabel keeps metric cardinality bounded for path parameters
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}
