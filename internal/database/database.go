package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/internal/migrations"
	"chatwootbridge/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const defaultListLimit = 50

// Database is the SQLite delivery log
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := validatePath(dbPath); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to read schema: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func validatePath(dbPath string) error {
	if dbPath == "" || strings.ContainsRune(dbPath, '\x00') {
		return fmt.Errorf("invalid database path")
	}
	for _, part := range strings.Split(filepath.ToSlash(dbPath), "/") {
		if part == ".." {
			return fmt.Errorf("invalid database path: directory traversal is not allowed")
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// RecordDelivery appends one handled event to the log
func (d *Database) RecordDelivery(ctx context.Context, record *models.DeliveryRecord) error {
	if record == nil {
		return apperrors.NewMalformedInputError("record", "no delivery record")
	}

	chatID, err := d.encryptor.Encrypt(record.ChatID)
	if err != nil {
		return apperrors.NewDatabaseError("encrypt chat id", err)
	}
	chatHash, err := d.encryptor.EncryptForLookup(record.ChatID)
	if err != nil {
		return apperrors.NewDatabaseError("encrypt chat id", err)
	}

	handledAt := record.HandledAt
	if handledAt.IsZero() {
		handledAt = time.Now()
	}

	err = retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, InsertDeliveryQuery,
			record.EventID,
			record.Session,
			chatID,
			chatHash,
			record.EventKind,
			record.MessageType,
			record.ContactID,
			record.ConversationID,
			record.MessageID,
			string(record.Status),
			record.Stage,
			record.ErrorCode,
			handledAt.UTC(),
		)
		if err != nil {
			return err
		}
		if id, err := result.LastInsertId(); err == nil {
			record.ID = id
		}
		return nil
	}, "record delivery")
	if err != nil {
		return apperrors.NewDatabaseError("record delivery", err)
	}
	return nil
}

// ListRecent returns the newest deliveries of session, newest first
func (d *Database) ListRecent(ctx context.Context, session string, limit int) ([]*models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := d.db.QueryContext(ctx, SelectRecentDeliveriesQuery, session, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list deliveries", err)
	}
	return d.scanDeliveries(rows)
}

// ListByChat returns the newest deliveries of one chat in session
func (d *Database) ListByChat(ctx context.Context, session, chatID string, limit int) ([]*models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	chatHash, err := d.encryptor.EncryptForLookup(chatID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("encrypt chat id", err)
	}
	rows, err := d.db.QueryContext(ctx, SelectDeliveriesByChatQuery, session, chatHash, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list chat deliveries", err)
	}
	return d.scanDeliveries(rows)
}

// CountByStatus tallies the deliveries of session per status
func (d *Database) CountByStatus(ctx context.Context, session string) (map[models.DeliveryStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, CountDeliveriesByStatusQuery, session)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count deliveries", err)
	}
	defer rows.Close()

	counts := make(map[models.DeliveryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.NewDatabaseError("count deliveries", err)
		}
		counts[models.DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("count deliveries", err)
	}
	return counts, nil
}

// PurgeOlderThan deletes deliveries handled before cutoff
func (d *Database) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, DeleteDeliveriesBeforeQuery, cutoff.UTC())
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	}, "purge deliveries")
	if err != nil {
		return 0, apperrors.NewDatabaseError("purge deliveries", err)
	}
	return removed, nil
}

func (d *Database) scanDeliveries(rows *sql.Rows) ([]*models.DeliveryRecord, error) {
	defer rows.Close()

	var records []*models.DeliveryRecord
	for rows.Next() {
		record := &models.DeliveryRecord{}
		var chatID, status string
		var messageType, stage, errorCode sql.NullString
		var contactID, conversationID, messageID sql.NullInt64

		if err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.Session,
			&chatID,
			&record.EventKind,
			&messageType,
			&contactID,
			&conversationID,
			&messageID,
			&status,
			&stage,
			&errorCode,
			&record.HandledAt,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan delivery", err)
		}

		plainChatID, err := d.encryptor.Decrypt(chatID)
		if err != nil {
			return nil, apperrors.NewDatabaseError("decrypt chat id", err)
		}

		record.ChatID = plainChatID
		record.MessageType = messageType.String
		record.ContactID = int(contactID.Int64)
		record.ConversationID = int(conversationID.Int64)
		record.MessageID = int(messageID.Int64)
		record.Status = models.DeliveryStatus(status)
		record.Stage = stage.String
		record.ErrorCode = errorCode.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list deliveries", err)
	}
	return records, nil
}
