// Package store provides storage backends for SalesPipe.
//
// This file implements the SQLite-backed store for customers and summaries.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/valueplus/salespipe/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists customers and summaries in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path to the database; the containing directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveCustomer stores or replaces a customer record.
func (s *SQLiteStore) SaveCustomer(c models.Customer) error {
	messagesJSON, err := marshalMessages(c.Messages)
	if err != nil {
		slog.Error("SQLiteStore SaveCustomer marshal failed", "error", err, "customerID", c.ID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO customers
		(id, push_name, messages, last_activity_at, questions_asked, handoff_at, transferred_at, limit_notified_at, bot_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, c.ID, c.PushName, messagesJSON, nullableTime(&c.LastActivityAt),
		c.QuestionsAsked, nullableTime(c.Handoff), nullableTime(c.Transferred),
		nullableTime(c.LimitNotifiedAt), c.BotActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCustomer failed", "error", err, "customerID", c.ID)
		return fmt.Errorf("failed to save customer %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore SaveCustomer succeeded", "customerID", c.ID, "messages", len(c.Messages))
	return nil
}

// GetCustomer retrieves a customer record, or (nil, nil) if absent.
func (s *SQLiteStore) GetCustomer(id string) (*models.Customer, error) {
	query := `SELECT id, push_name, messages, last_activity_at, questions_asked, handoff_at, transferred_at, limit_notified_at, bot_active, created_at, updated_at
			  FROM customers WHERE id = ?`
	c, err := scanCustomerRow(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetCustomer not found", "customerID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCustomer failed", "error", err, "customerID", id)
		return nil, err
	}
	return c, nil
}

// ListCustomerIDs returns all known customer IDs.
func (s *SQLiteStore) ListCustomerIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM customers ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListCustomerIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query customer ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("SQLiteStore ListCustomerIDs scan failed", "error", err)
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customer id rows: %w", err)
	}
	return ids, nil
}

// SaveSummary upserts a summary record keyed by customer ID.
func (s *SQLiteStore) SaveSummary(rec models.SummaryRecord) error {
	query := `
		INSERT OR REPLACE INTO summaries
		(customer_id, customer_name, gender, summary, created_at, updated_at, total_messages, summary_count, user_messages_at_last_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, rec.CustomerID, rec.CustomerName, rec.Gender, rec.Summary,
		rec.CreatedAt, rec.UpdatedAt, rec.TotalMessages, rec.SummaryCount, rec.UserMessagesAtLastSummary)
	if err != nil {
		slog.Error("SQLiteStore SaveSummary failed", "error", err, "customerID", rec.CustomerID)
		return fmt.Errorf("failed to save summary for %s: %w", rec.CustomerID, err)
	}
	slog.Debug("SQLiteStore SaveSummary succeeded", "customerID", rec.CustomerID, "summaryCount", rec.SummaryCount)
	return nil
}

// GetSummary retrieves a summary record, or (nil, nil) if absent.
func (s *SQLiteStore) GetSummary(customerID string) (*models.SummaryRecord, error) {
	query := `SELECT customer_id, customer_name, gender, summary, created_at, updated_at, total_messages, summary_count, user_messages_at_last_summary
			  FROM summaries WHERE customer_id = ?`
	rec, err := scanSummaryRow(s.db.QueryRow(query, customerID))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSummary not found", "customerID", customerID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSummary failed", "error", err, "customerID", customerID)
		return nil, err
	}
	return rec, nil
}

// ListSummaries returns all summary records, newest first.
func (s *SQLiteStore) ListSummaries() ([]models.SummaryRecord, error) {
	query := `SELECT customer_id, customer_name, gender, summary, created_at, updated_at, total_messages, summary_count, user_messages_at_last_summary
			  FROM summaries ORDER BY updated_at DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("SQLiteStore ListSummaries query failed", "error", err)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var recs []models.SummaryRecord
	for rows.Next() {
		rec, err := scanSummary(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSummaries scan failed", "error", err)
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSummaries succeeded", "count", len(recs))
	return recs, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
