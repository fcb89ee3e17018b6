package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valueplus/salespipe/internal/models"
	"github.com/valueplus/salespipe/internal/store"
)

// summaryService generates a conversation summary from the full history.
type summaryService interface {
	Summarize(ctx context.Context, msgs []models.Message) (string, error)
}

// Summarizer runs the deduplicated summarization attempt shared by the live
// path and the sweep. Gate state lives in the customer's SummaryRecord and is
// only read and written while the customer's lock is held, so two concurrent
// attempts can never both pass the gate.
type Summarizer struct {
	store store.Store
	ai    summaryService
	cfg   PolicyConfig
}

// NewSummarizer creates a Summarizer over the given store and summary
// service.
func NewSummarizer(st store.Store, ai summaryService, cfg PolicyConfig) *Summarizer {
	return &Summarizer{store: st, ai: ai, cfg: cfg}
}

// shouldSummarize applies the gate decision table: a first summary is always
// allowed, a second only if the customer has written more messages since the
// first, and never more than two.
func shouldSummarize(rec *models.SummaryRecord, userMessagesNow int) bool {
	if rec == nil || rec.SummaryCount == 0 {
		return true
	}
	if rec.SummaryCount >= models.MaxSummariesPerCustomer {
		return false
	}
	return userMessagesNow > rec.UserMessagesAtLastSummary
}

// HasSummary reports whether a summary record already exists for the
// customer. Used by the sweep to skip already-summarized conversations.
func (s *Summarizer) HasSummary(customerID string) (bool, error) {
	rec, err := s.store.GetSummary(customerID)
	if err != nil {
		return false, fmt.Errorf("failed to check summary for %s: %w", customerID, err)
	}
	return rec != nil, nil
}

// MaybeSummarize consults the gate and, when allowed, generates and saves a
// summary for the customer. A denied gate is a silent no-op. A summary
// shorter than the configured minimum is discarded without consuming a slot
// so a later attempt can retry. Caller must hold the customer's lock.
func (s *Summarizer) MaybeSummarize(ctx context.Context, c *models.Customer) error {
	rec, err := s.store.GetSummary(c.ID)
	if err != nil {
		return fmt.Errorf("failed to load summary record for %s: %w", c.ID, err)
	}

	userMessagesNow := c.UserMessageCount()
	if !shouldSummarize(rec, userMessagesNow) {
		slog.Debug("Summarizer.MaybeSummarize: gate denied", "customerID", c.ID,
			"summaryCount", rec.SummaryCount, "userMessagesNow", userMessagesNow,
			"userMessagesAtLastSummary", rec.UserMessagesAtLastSummary)
		return nil
	}

	text, err := s.ai.Summarize(ctx, c.Messages)
	if err != nil {
		return fmt.Errorf("summarization failed for %s: %w", c.ID, err)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.cfg.MinSummaryLength {
		slog.Warn("Summarizer.MaybeSummarize: summary too short, discarding without consuming a slot",
			"customerID", c.ID, "length", utf8.RuneCountInString(text))
		return models.ErrSummaryTooShort
	}

	now := time.Now()
	if rec == nil {
		rec = &models.SummaryRecord{CustomerID: c.ID, CreatedAt: now}
	}
	rec.SummaryCount++
	if rec.SummaryCount > models.MaxSummariesPerCustomer {
		// Unreachable when the gate is consulted under the customer's lock.
		return models.ErrSummaryLimitReached
	}
	rec.CustomerName = ExtractCustomerName(c)
	rec.Gender = DetectCustomerGender(c)
	rec.Summary = text
	rec.UpdatedAt = now
	rec.TotalMessages = c.MessageCount()
	rec.UserMessagesAtLastSummary = userMessagesNow

	if err := s.store.SaveSummary(*rec); err != nil {
		return fmt.Errorf("failed to save summary for %s: %w", c.ID, err)
	}
	slog.Info("Summarizer.MaybeSummarize: summary saved", "customerID", c.ID,
		"summaryCount", rec.SummaryCount, "length", utf8.RuneCountInString(text))
	return nil
}
