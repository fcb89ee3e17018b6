// Package store provides storage backends for SalesPipe.
//
// This file implements the PostgreSQL-backed store for customers and summaries.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/valueplus/salespipe/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists customers and summaries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveCustomer stores or replaces a customer record.
func (s *PostgresStore) SaveCustomer(c models.Customer) error {
	messagesJSON, err := marshalMessages(c.Messages)
	if err != nil {
		slog.Error("PostgresStore SaveCustomer marshal failed", "error", err, "customerID", c.ID)
		return err
	}

	query := `
		INSERT INTO customers
		(id, push_name, messages, last_activity_at, questions_asked, handoff_at, transferred_at, limit_notified_at, bot_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			push_name = EXCLUDED.push_name,
			messages = EXCLUDED.messages,
			last_activity_at = EXCLUDED.last_activity_at,
			questions_asked = EXCLUDED.questions_asked,
			handoff_at = EXCLUDED.handoff_at,
			transferred_at = EXCLUDED.transferred_at,
			limit_notified_at = EXCLUDED.limit_notified_at,
			bot_active = EXCLUDED.bot_active,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, c.ID, c.PushName, messagesJSON, nullableTime(&c.LastActivityAt),
		c.QuestionsAsked, nullableTime(c.Handoff), nullableTime(c.Transferred),
		nullableTime(c.LimitNotifiedAt), c.BotActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCustomer failed", "error", err, "customerID", c.ID)
		return fmt.Errorf("failed to save customer %s: %w", c.ID, err)
	}
	return nil
}

// GetCustomer retrieves a customer record, or (nil, nil) if absent.
func (s *PostgresStore) GetCustomer(id string) (*models.Customer, error) {
	query := `SELECT id, push_name, messages, last_activity_at, questions_asked, handoff_at, transferred_at, limit_notified_at, bot_active, created_at, updated_at
			  FROM customers WHERE id = $1`
	c, err := scanCustomerRow(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCustomer failed", "error", err, "customerID", id)
		return nil, err
	}
	return c, nil
}

// ListCustomerIDs returns all known customer IDs.
func (s *PostgresStore) ListCustomerIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM customers ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListCustomerIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query customer ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
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
func (s *PostgresStore) SaveSummary(rec models.SummaryRecord) error {
	query := `
		INSERT INTO summaries
		(customer_id, customer_name, gender, summary, created_at, updated_at, total_messages, summary_count, user_messages_at_last_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			gender = EXCLUDED.gender,
			summary = EXCLUDED.summary,
			updated_at = EXCLUDED.updated_at,
			total_messages = EXCLUDED.total_messages,
			summary_count = EXCLUDED.summary_count,
			user_messages_at_last_summary = EXCLUDED.user_messages_at_last_summary`

	_, err := s.db.Exec(query, rec.CustomerID, rec.CustomerName, rec.Gender, rec.Summary,
		rec.CreatedAt, rec.UpdatedAt, rec.TotalMessages, rec.SummaryCount, rec.UserMessagesAtLastSummary)
	if err != nil {
		slog.Error("PostgresStore SaveSummary failed", "error", err, "customerID", rec.CustomerID)
		return fmt.Errorf("failed to save summary for %s: %w", rec.CustomerID, err)
	}
	return nil
}

// GetSummary retrieves a summary record, or (nil, nil) if absent.
func (s *PostgresStore) GetSummary(customerID string) (*models.SummaryRecord, error) {
	query := `SELECT customer_id, customer_name, gender, summary, created_at, updated_at, total_messages, summary_count, user_messages_at_last_summary
			  FROM summaries WHERE customer_id = $1`
	rec, err := scanSummaryRow(s.db.QueryRow(query, customerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSummary failed", "error", err, "customerID", customerID)
		return nil, err
	}
	return rec, nil
}

// ListSummaries returns all summary records, newest first.
func (s *PostgresStore) ListSummaries() ([]models.SummaryRecord, error) {
	query := `SELECT customer_id, customer_name, gender, summary, created_at, updated_at, total_messages, summary_count, user_messages_at_last_summary
			  FROM summaries ORDER BY updated_at DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("PostgresStore ListSummaries query failed", "error", err)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var recs []models.SummaryRecord
	for rows.Next() {
		rec, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return recs, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
