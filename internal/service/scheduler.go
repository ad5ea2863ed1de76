package service

import (
	"context"
	"time"

	"chatwootbridge/internal/constants"

	"github.com/sirupsen/logrus"
)

// DeliveryPurger removes delivery log rows handled before cutoff
type DeliveryPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler periodically trims the delivery log to the retention window
type Scheduler struct {
	store         DeliveryPurger
	retentionDays int
	intervalHours int
	now           func() time.Time
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(store DeliveryPurger, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Scheduler{
		store:         store,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		now:           time.Now,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting delivery log cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	log := s.logger.WithField("retention_days", s.retentionDays)
	log.Debug("Running scheduled delivery log cleanup")

	removed, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.WithError(err).Error("Failed to purge old delivery records")
		return
	}
	log.WithField("removed", removed).Info("Delivery log cleanup completed")
}
