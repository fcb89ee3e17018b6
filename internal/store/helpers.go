package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valueplus/salespipe/internal/models"
)

// nullableTime returns nil for missing/zero timestamps so they land as NULL.
func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

// marshalMessages encodes a message history to its JSON column representation.
func marshalMessages(msgs []models.Message) (string, error) {
	if msgs == nil {
		msgs = []models.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal messages: %w", err)
	}
	return string(b), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(sc rowScanner) (*models.Customer, error) {
	var c models.Customer
	var pushName, messagesJSON sql.NullString
	var lastActivity, handoff, transferred, limitNotified sql.NullTime

	err := sc.Scan(&c.ID, &pushName, &messagesJSON, &lastActivity, &c.QuestionsAsked,
		&handoff, &transferred, &limitNotified, &c.BotActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.PushName = pushName.String
	if lastActivity.Valid {
		c.LastActivityAt = lastActivity.Time
	}
	if handoff.Valid {
		c.Handoff = &handoff.Time
	}
	if transferred.Valid {
		c.Transferred = &transferred.Time
	}
	if limitNotified.Valid {
		c.LimitNotifiedAt = &limitNotified.Time
	}

	if messagesJSON.String != "" {
		if err := json.Unmarshal([]byte(messagesJSON.String), &c.Messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages for %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

// scanCustomerRow scans a customer from a single-row query. Callers check for
// sql.ErrNoRows.
func scanCustomerRow(row *sql.Row) (*models.Customer, error) {
	return scanCustomer(row)
}

func scanSummary(sc rowScanner) (models.SummaryRecord, error) {
	var rec models.SummaryRecord
	var name, gender sql.NullString
	err := sc.Scan(&rec.CustomerID, &name, &gender, &rec.Summary, &rec.CreatedAt,
		&rec.UpdatedAt, &rec.TotalMessages, &rec.SummaryCount, &rec.UserMessagesAtLastSummary)
	if err != nil {
		return rec, err
	}
	rec.CustomerName = name.String
	rec.Gender = gender.String
	return rec, nil
}

// scanSummaryRow scans a summary from a single-row query. Callers check for
// sql.ErrNoRows.
func scanSummaryRow(row *sql.Row) (*models.SummaryRecord, error) {
	rec, err := scanSummary(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
