package service

import (
	"context"
	"net/http"
	"time"

	"chatwootbridge/internal/constants"
	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/pkg/chatwoot"
	cwtypes "chatwootbridge/pkg/chatwoot/types"

	"github.com/sirupsen/logrus"
)

// ProbeClass is the verdict of a connectivity probe
type ProbeClass string

const (
	ProbeOK                 ProbeClass = "ok"
	ProbeUnauthorized       ProbeClass = "unauthorized"
	ProbeNotFound           ProbeClass = "not-found"
	ProbeNetworkUnreachable ProbeClass = "network-unreachable"
	ProbeUnknown            ProbeClass = "unknown"
)

// ProbeResult describes one probe run
type ProbeResult struct {
	Class       ProbeClass
	AccountName string
	StatusCode  int
	Message     string
	Err         error
}

// OK reports whether the account was reachable with the configured token
func (r ProbeResult) OK() bool {
	return r.Class == ProbeOK
}

// Prober checks credentials and reachability of the remote account. It only
// logs; dispatch never waits on it.
type Prober struct {
	gateway   cwtypes.Gateway
	session   string
	baseURL   string
	accountID int
	timeout   time.Duration
	logger    *logrus.Logger
}

func NewProber(gateway cwtypes.Gateway, session, baseURL string, accountID int, logger *logrus.Logger) *Prober {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Prober{
		gateway:   gateway,
		session:   session,
		baseURL:   baseURL,
		accountID: accountID,
		timeout:   time.Duration(constants.DefaultProbeTimeoutSec) * time.Second,
		logger:    logger,
	}
}

// Probe fetches the account once and logs a diagnostic for the outcome
func (p *Prober) Probe(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log := sessionEntry(p.logger, p.session).WithField("account_id", p.accountID)
	log.Infof("%sTesting connection to Chatwoot", prefixInfo)

	account, err := p.gateway.GetAccount(ctx)
	if err == nil {
		var accountName string
		if account != nil {
			accountName = account.Name
		}
		name := accountName
		if name == "" {
			name = "N/A"
		}
		log.WithField("account_name", name).Infof("%sConnected to Chatwoot account %s", prefixSuccess, name)
		return ProbeResult{Class: ProbeOK, AccountName: accountName}
	}

	result := classifyProbeError(err)
	fields := logrus.Fields{"probe_class": result.Class}
	if result.StatusCode != 0 {
		fields["status_code"] = result.StatusCode
	}
	log = log.WithFields(fields)

	switch result.Class {
	case ProbeUnauthorized:
		log.Errorf("%sChatwoot rejected the API token. Check the token and its account access", prefixFailure)
	case ProbeNotFound:
		log.Errorf("%sChatwoot account %d was not found. Check the account id", prefixFailure, p.accountID)
	case ProbeNetworkUnreachable:
		log.WithError(err).Errorf("%sCould not reach Chatwoot. Check the base URL %s", prefixFailure, p.baseURL)
	default:
		log.WithError(err).Errorf("%sChatwoot connection test failed: %s", prefixFailure, result.Message)
	}

	return result
}

func classifyProbeError(err error) ProbeResult {
	result := ProbeResult{Err: err, StatusCode: apperrors.StatusCode(err)}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeRemoteUnauthorized:
		result.Class = ProbeUnauthorized
	case apperrors.ErrCodeRemoteNotFound:
		result.Class = ProbeNotFound
	case apperrors.ErrCodeNetworkUnreachable:
		result.Class = ProbeNetworkUnreachable
	default:
		result.Class = ProbeUnknown
	}

	result.Message = chatwoot.RemoteMessage(apperrors.RemoteBody(err))
	if result.Message == "" && result.StatusCode != 0 {
		result.Message = http.StatusText(result.StatusCode)
	}
	if result.Message == "" {
		result.Message = err.Error()
	}
	return result
}
