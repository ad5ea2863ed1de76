package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"chatwootbridge/internal/constants"
	"chatwootbridge/internal/models"
	"chatwootbridge/internal/tracing"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingBaseURL = models.ConfigError{Message: "missing Chatwoot base URL"}
	ErrMissingToken   = models.ConfigError{Message: "missing Chatwoot API token"}
)

var validate = validator.New()

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - operator supplied config path
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks required fields and value ranges
func Validate(c *models.Config) error {
	if c.Chatwoot.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.Chatwoot.Token == "" {
		return ErrMissingToken
	}

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return models.ConfigError{Message: fmt.Sprintf("invalid %s: failed %q rule", strings.ToLower(fe.Namespace()), fe.Tag())}
		}
		return models.ConfigError{Message: err.Error()}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	c.Chatwoot.BaseURL = strings.TrimSuffix(c.Chatwoot.BaseURL, "/")
	if c.Session == "" {
		c.Session = "default"
	}
	if c.Chatwoot.MobileName == "" {
		c.Chatwoot.MobileName = constants.DefaultMobileName
	}
	if c.Chatwoot.MobileNumber == "" {
		c.Chatwoot.MobileNumber = constants.DefaultMobileNumber
	}
	if c.Chatwoot.QRCodeDelayMs == 0 {
		c.Chatwoot.QRCodeDelayMs = constants.DefaultQRCodeDelayMs
	}
	if c.Chatwoot.TimeoutSec == 0 {
		c.Chatwoot.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Runtime.TimeoutSec == 0 {
		c.Runtime.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Database.RetentionDays == 0 {
		c.Database.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Database.CleanupIntervalHours == 0 {
		c.Database.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}
	applyTracingDefaults(&c.Tracing)
}

// applyTracingDefaults fills unset tracing fields. A zero sample rate would
// record nothing, so it is treated as unset.
func applyTracingDefaults(t *models.TracingConfig) {
	defaults := tracing.DefaultTracingConfig()
	if t.ServiceName == "" {
		t.ServiceName = defaults.ServiceName
	}
	if t.ServiceVersion == "" {
		t.ServiceVersion = defaults.ServiceVersion
	}
	if t.Environment == "" {
		t.Environment = defaults.Environment
	}
	if t.OTLPEndpoint == "" {
		t.OTLPEndpoint = defaults.OTLPEndpoint
	}
	if t.SampleRate == 0 {
		t.SampleRate = defaults.SampleRate
	}
}

func applyEnvironmentOverrides(c *models.Config) error {
	if url := os.Getenv("CHATWOOT_BASE_URL"); url != "" {
		c.Chatwoot.BaseURL = url
	}

	// SECURITY: API tokens should be set via environment variables
	if token := os.Getenv("CHATWOOT_API_TOKEN"); token != "" {
		c.Chatwoot.Token = token
	}

	if v := os.Getenv("CHATWOOT_ACCOUNT_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("CHATWOOT_ACCOUNT_ID must be numeric, got %q", v)}
		}
		c.Chatwoot.AccountID = id
	}
	if v := os.Getenv("CHATWOOT_INBOX_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("CHATWOOT_INBOX_ID must be numeric, got %q", v)}
		}
		c.Chatwoot.InboxID = id
	}

	if session := os.Getenv("BRIDGE_SESSION"); session != "" {
		c.Session = session
	}
	if token := os.Getenv("RUNTIME_API_TOKEN"); token != "" {
		c.Runtime.Token = token
	}
	if secret := os.Getenv("BRIDGE_WEBHOOK_SECRET"); secret != "" {
		c.Server.WebhookSecret = secret
	}
	if path := os.Getenv("BRIDGE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("PORT must be numeric, got %q", v)}
		}
		c.Server.Port = port
	}
	return nil
}
