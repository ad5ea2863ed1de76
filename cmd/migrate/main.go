package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"chatwootbridge/internal/database"

	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./chatwootbridge.db", "Path to the delivery log database")
	session := flag.String("session", "", "Report delivery counts for this session")
	purgeDays := flag.Int("purge-days", 0, "Delete deliveries older than this many days (0 keeps everything)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := migrate(context.Background(), *dbPath, *session, *purgeDays, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

// migrate applies the delivery log schema to dbPath, then optionally purges
// old rows and reports the per status counts of session.
func migrate(ctx context.Context, dbPath, session string, purgeDays int, logger *logrus.Logger) error {
	if purgeDays < 0 {
		return fmt.Errorf("purge-days must not be negative, got %d", purgeDays)
	}

	_, statErr := os.Stat(dbPath)
	created := os.IsNotExist(statErr)

	db, err := database.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger.WithFields(logrus.Fields{
		"path":    dbPath,
		"created": created,
	}).Info("Delivery log schema is up to date")

	if purgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -purgeDays)
		removed, err := db.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to purge deliveries: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		}).Info("Purged old deliveries")
	}

	if session != "" {
		counts, err := db.CountByStatus(ctx, session)
		if err != nil {
			return fmt.Errorf("failed to count deliveries: %w", err)
		}
		fields := logrus.Fields{"session": session}
		for status, n := range counts {
			fields[string(status)] = n
		}
		logger.WithFields(fields).Info("Delivery counts")
	}

	return nil
}
