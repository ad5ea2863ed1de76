package models

// Config holds the application configuration
type Config struct {
	Session  string         `json:"session" validate:"required"`
	Chatwoot ChatwootConfig `json:"chatwoot"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
}

// ChatwootConfig holds the support inbox account binding and forwarding toggles
type ChatwootConfig struct {
	BaseURL          string `json:"base_url" validate:"required,url"`
	Token            string `json:"token" validate:"required"`
	AccountID        int    `json:"account_id" validate:"required,gt=0"`
	InboxID          int    `json:"inbox_id" validate:"required,gt=0"`
	MobileName       string `json:"mobile_name"`
	MobileNumber     string `json:"mobile_number" validate:"omitempty,numeric"`
	SendQRCode       *bool  `json:"send_qr_code"`
	SendStatus       *bool  `json:"send_status"`
	QRCodeDelayMs    int    `json:"qr_code_delay_ms" validate:"gte=0"`
	TimeoutSec       int    `json:"timeout_sec" validate:"gte=0"`
	SerializePerChat bool   `json:"serialize_per_chat"`
}

// ShouldSendQRCode reports whether QR code events are forwarded. Absent means yes.
func (c ChatwootConfig) ShouldSendQRCode() bool {
	return c.SendQRCode == nil || *c.SendQRCode
}

// ShouldSendStatus reports whether status events are forwarded. Absent means yes.
func (c ChatwootConfig) ShouldSendStatus() bool {
	return c.SendStatus == nil || *c.SendStatus
}

// RuntimeConfig describes how to reach the messaging session runtime
type RuntimeConfig struct {
	BaseURL    string `json:"base_url" validate:"omitempty,url"`
	Token      string `json:"token"`
	EventsURL  string `json:"events_url" validate:"omitempty,url"`
	TimeoutSec int    `json:"timeout_sec" validate:"gte=0"`
}

// ServerConfig holds the HTTP ingress settings
type ServerConfig struct {
	Port          int    `json:"port" validate:"gte=0,lte=65535"`
	WebhookSecret string `json:"webhook_secret"`
}

// DatabaseConfig holds the optional delivery log settings
type DatabaseConfig struct {
	Path                 string `json:"path"`
	RetentionDays        int    `json:"retention_days" validate:"gte=0"`
	CleanupIntervalHours int    `json:"cleanup_interval_hours" validate:"gte=0"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" validate:"gte=0,lte=1"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
