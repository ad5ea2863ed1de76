package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatwootbridge/internal/constants"
	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/middleware"
	"chatwootbridge/internal/models"
	"chatwootbridge/internal/privacy"
	"chatwootbridge/internal/service"
	"chatwootbridge/internal/tracing"
	"chatwootbridge/pkg/session"
	"chatwootbridge/pkg/session/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxDeliveriesLimit = 500

// DeliveryLister reads the delivery log
type DeliveryLister interface {
	ListRecent(ctx context.Context, session string, limit int) ([]*models.DeliveryRecord, error)
	ListByChat(ctx context.Context, session, chatID string, limit int) ([]*models.DeliveryRecord, error)
	CountByStatus(ctx context.Context, session string) (map[models.DeliveryStatus]int, error)
}

type deliveriesResponse struct {
	Session    string                        `json:"session"`
	Counts     map[models.DeliveryStatus]int `json:"counts"`
	Deliveries []*models.DeliveryRecord      `json:"deliveries"`
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	bus      session.Bus
	client   types.MediaDecrypter
	store    DeliveryLister
	registry *metrics.Registry
	verbose  bool
	server   *http.Server
}

// NewServer wires the HTTP ingress. store may be nil when the delivery log is disabled.
func NewServer(cfg *models.Config, bus session.Bus, client types.MediaDecrypter, store DeliveryLister, registry *metrics.Registry, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		bus:      bus,
		client:   client,
		store:    store,
		registry: registry,
		verbose:  verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.registry))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/deliveries", s.handleDeliveries()).Methods(http.MethodGet)

	webhook := middleware.WebhookObservabilityMiddleware(s.registry, func(r *http.Request) string {
		return mux.Vars(r)["session"]
	})
	s.router.Handle("/webhook/{session}", webhook(s.handleWebhook())).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// handleMetrics returns the current registry snapshot
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())

		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"endpoint":   "/metrics",
		}).Debug("Serving metrics endpoint")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.registry.Snapshot()); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err,
			}).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// handleDeliveries lists the newest delivery log entries, optionally for one chat
func (s *Server) handleDeliveries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			http.Error(w, "Delivery log is disabled", http.StatusNotFound)
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxDeliveriesLimit)
		}

		ctx := r.Context()
		var (
			records []*models.DeliveryRecord
			err     error
		)
		if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
			records, err = s.store.ListByChat(ctx, s.cfg.Session, chatID, limit)
		} else {
			records, err = s.store.ListRecent(ctx, s.cfg.Session, limit)
		}
		if err != nil {
			apperrors.LogError(s.logger.WithField("endpoint", "/deliveries"), err, "Failed to list deliveries")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		counts, err := s.store.CountByStatus(ctx, s.cfg.Session)
		if err != nil {
			apperrors.LogError(s.logger.WithField("endpoint", "/deliveries"), err, "Failed to count deliveries")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if !s.verbose {
			for _, record := range records {
				record.ChatID = privacy.MaskChatID(record.ChatID)
			}
		}
		if records == nil {
			records = []*models.DeliveryRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(deliveriesResponse{
			Session:    s.cfg.Session,
			Counts:     counts,
			Deliveries: records,
		}); err != nil {
			s.logger.WithError(err).Error("Failed to encode deliveries response")
		}
	}
}

// handleWebhook publishes a runtime event onto the bus. Handlers run after
// the response is written and never affect the status code.
func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionName := mux.Vars(r)["session"]
		log := s.logger.WithFields(logrus.Fields{
			"session":    sessionName,
			"request_id": tracing.GetRequestID(r.Context()),
		})

		if sessionName != s.cfg.Session {
			log.Warn("Webhook for unknown session")
			http.Error(w, "Unknown session", http.StatusNotFound)
			return
		}

		body, err := verifyWebhook(r, s.cfg.Server.WebhookSecret)
		if err != nil {
			log.WithError(err).Warn("Webhook authentication failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		env, err := session.ParseEnvelope(body)
		if err != nil {
			log.WithError(err).Warn("Rejected malformed webhook")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := service.WithVerbose(context.WithoutCancel(r.Context()), s.verbose)
		started, err := session.Ingest(ctx, s.bus, s.client, s.cfg.Session, env)
		switch {
		case errors.Is(err, session.ErrIgnoredEvent):
			log.WithField("event", env.Event).Debug("Ignoring runtime event")
			w.WriteHeader(http.StatusOK)
			return
		case err != nil:
			log.WithError(err).WithField("event", env.Event).Warn("Rejected malformed webhook event")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.WithFields(logrus.Fields{
			"event":    env.Event,
			"handlers": started,
		}).Debug("Webhook event published")
		w.WriteHeader(http.StatusAccepted)
	}
}
