package convo

import (
	"context"
	"log/slog"
	"time"

	"github.com/valueplus/salespipe/internal/models"
)

// Sweeper is the recurring background pass over all known customers. Each
// tick iterates a snapshot of customer IDs and takes only the single
// customer's lock while evaluating it, so live traffic for other customers
// is never blocked and one customer's failure never aborts the pass.
type Sweeper struct {
	customers  *CustomerStore
	summarizer *Summarizer
	cfg        PolicyConfig
}

// NewSweeper creates a Sweeper over the customer registry.
func NewSweeper(customers *CustomerStore, summarizer *Summarizer, cfg PolicyConfig) *Sweeper {
	return &Sweeper{customers: customers, summarizer: summarizer, cfg: cfg}
}

// Tick runs one sweep pass. Registered with the scheduler on the configured
// cron spec.
func (s *Sweeper) Tick(ctx context.Context) {
	ids := s.customers.IDs()
	slog.Debug("Sweeper.Tick: starting pass", "customers", len(ids))

	swept := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			slog.Info("Sweeper.Tick: pass cancelled", "swept", swept, "total", len(ids))
			return
		}
		if err := s.customers.WithLock(id, func(c *models.Customer) error {
			s.sweepCustomer(ctx, c)
			return nil
		}); err != nil {
			slog.Warn("Sweeper.Tick: failed to evaluate customer, continuing", "customerID", id, "error", err)
		}
		swept++
	}
	slog.Debug("Sweeper.Tick: pass complete", "swept", swept)
}

// sweepCustomer applies the idle policy to one customer. Caller holds the
// customer's lock.
func (s *Sweeper) sweepCustomer(ctx context.Context, c *models.Customer) {
	if !c.BotActive {
		return
	}
	now := time.Now()

	// Escalate idle conversations to the advisor. The flag is reversible:
	// the customer's next message clears it and resumes the conversation.
	if s.cfg.IsHandoffEligible(c, c.LastActivityAt, now) {
		c.Handoff = &now
		s.customers.Persist(c)
		slog.Info("Sweeper: idle customer handed off to advisor", "customerID", c.ID)
	}

	if c.MessageCount() < s.cfg.MinSignificantMessages {
		return
	}
	if !s.cfg.IsIdleTimedOut(c, now) {
		return
	}
	hasSummary, err := s.summarizer.HasSummary(c.ID)
	if err != nil {
		slog.Warn("Sweeper: summary lookup failed, skipping customer", "customerID", c.ID, "error", err)
		return
	}
	if hasSummary {
		return
	}
	if err := s.summarizer.MaybeSummarize(ctx, c); err != nil {
		slog.Warn("Sweeper: summarization failed, continuing pass", "customerID", c.ID, "error", err)
	}
}
