package convo

import (
	"context"
	"log/slog"
	"time"

	"github.com/valueplus/salespipe/internal/models"
)

// completionService generates the assistant's next reply from the full
// history.
type completionService interface {
	Complete(ctx context.Context, msgs []models.Message) (string, error)
}

// OutcomeKind classifies what the orchestrator decided for one inbound
// message.
type OutcomeKind string

const (
	// OutcomeNone means no reply is sent: the bot is inactive for this
	// customer, or the limit notice was already delivered.
	OutcomeNone OutcomeKind = "none"
	// OutcomeReply is a regular assistant reply.
	OutcomeReply OutcomeKind = "reply"
	// OutcomeResume is the fixed welcome-back reply after a handoff is
	// cleared.
	OutcomeResume OutcomeKind = "resume"
	// OutcomeLimit is the one-time message-limit notice.
	OutcomeLimit OutcomeKind = "limit"
	// OutcomeClosing is the termination notice after a natural ending.
	OutcomeClosing OutcomeKind = "closing"
	// OutcomeNeedInfo is the follow-up sent instead of closing when business
	// information is still missing.
	OutcomeNeedInfo OutcomeKind = "need_info"
	// OutcomeHandoff is the notice sent when the customer is transferred to
	// a human advisor.
	OutcomeHandoff OutcomeKind = "handoff"
)

// Outcome is the orchestrator's decision for one inbound message. Reply is
// empty for OutcomeNone.
type Outcome struct {
	Kind  OutcomeKind
	Reply string
}

// Orchestrator is the per-customer state machine. It consumes one inbound
// message at a time, holding that customer's lock for the whole transition,
// and emits the outgoing reply as an Outcome for the transport layer to send.
type Orchestrator struct {
	customers  *CustomerStore
	ai         completionService
	summarizer *Summarizer
	cfg        PolicyConfig
}

// NewOrchestrator wires the state machine to its collaborators.
func NewOrchestrator(customers *CustomerStore, ai completionService, summarizer *Summarizer, cfg PolicyConfig) *Orchestrator {
	return &Orchestrator{customers: customers, ai: ai, summarizer: summarizer, cfg: cfg}
}

// HandleMessage processes one inbound message for one customer. All state
// transitions happen under the customer's lock; the LLM calls are the only
// blocking points and are bounded by the completion service's timeout.
func (o *Orchestrator) HandleMessage(ctx context.Context, customerID, pushName, text string) (Outcome, error) {
	var outcome Outcome
	err := o.customers.WithLock(customerID, func(c *models.Customer) error {
		outcome = o.handleLocked(ctx, c, pushName, text)
		return nil
	})
	return outcome, err
}

func (o *Orchestrator) handleLocked(ctx context.Context, c *models.Customer, pushName, text string) Outcome {
	if pushName != "" {
		c.PushName = pushName
	}

	if !c.BotActive {
		slog.Debug("Orchestrator.HandleMessage: bot inactive, ignoring", "customerID", c.ID)
		return Outcome{Kind: OutcomeNone}
	}

	EnsureSystemPrompt(c, o.cfg.SystemPrompt)
	now := time.Now()

	// Returning from a handoff: clear the flag once and resume with the
	// fixed reply, without calling the completion service.
	if c.Handoff != nil {
		c.Handoff = nil
		Append(c, models.RoleUser, text)
		Append(c, models.RoleAssistant, o.cfg.ResumeReply)
		Touch(c, now)
		o.customers.Persist(c)
		slog.Info("Orchestrator.HandleMessage: customer resumed after handoff", "customerID", c.ID)
		return Outcome{Kind: OutcomeResume, Reply: o.cfg.ResumeReply}
	}

	if o.cfg.IsAtMessageLimit(c) {
		if c.LimitNotifiedAt != nil {
			slog.Debug("Orchestrator.HandleMessage: at limit, already notified, staying silent", "customerID", c.ID)
			return Outcome{Kind: OutcomeNone}
		}
		c.LimitNotifiedAt = &now
		o.trySummarize(ctx, c)
		o.customers.Persist(c)
		slog.Info("Orchestrator.HandleMessage: message limit reached, sending one-time notice", "customerID", c.ID)
		return Outcome{Kind: OutcomeLimit, Reply: o.cfg.LimitNotice}
	}

	// Eligibility for advisor transfer is judged against the quiet period
	// before this message arrived.
	previousActivity := c.LastActivityAt
	Append(c, models.RoleUser, text)
	Touch(c, now)

	if o.cfg.EndsNaturally(text, c.Messages) {
		if o.cfg.HasSufficientBusinessInfo(c.Messages) {
			o.trySummarize(ctx, c)
			Append(c, models.RoleAssistant, o.cfg.ClosingNotice)
			o.customers.Persist(c)
			slog.Info("Orchestrator.HandleMessage: conversation ended naturally", "customerID", c.ID)
			return Outcome{Kind: OutcomeClosing, Reply: o.cfg.ClosingNotice}
		}
		// Not enough business information yet: the ending is not honored
		// and no summary is attempted.
		reply := o.cfg.NextActionReply(c.Messages)
		Append(c, models.RoleAssistant, reply)
		o.customers.Persist(c)
		slog.Info("Orchestrator.HandleMessage: closing deferred, business info insufficient", "customerID", c.ID)
		return Outcome{Kind: OutcomeNeedInfo, Reply: reply}
	}

	if o.cfg.IsHandoffEligible(c, previousActivity, now) {
		c.Transferred = &now
		o.trySummarize(ctx, c)
		Append(c, models.RoleAssistant, o.cfg.HandoffNotice)
		o.customers.Persist(c)
		slog.Info("Orchestrator.HandleMessage: customer transferred to advisor", "customerID", c.ID)
		return Outcome{Kind: OutcomeHandoff, Reply: o.cfg.HandoffNotice}
	}

	reply, err := o.ai.Complete(ctx, c.Messages)
	if err != nil {
		// The user's turn is already appended, so nothing is lost; degrade
		// to a generic retry invitation without touching any flags.
		slog.Error("Orchestrator.HandleMessage: completion failed", "customerID", c.ID, "error", err)
		o.customers.Persist(c)
		return Outcome{Kind: OutcomeReply, Reply: o.cfg.FailureReply}
	}

	if n := CountQuestions(reply); n > 0 {
		c.QuestionsAsked += n
	}
	Append(c, models.RoleAssistant, reply)
	o.customers.Persist(c)
	return Outcome{Kind: OutcomeReply, Reply: reply}
}

// trySummarize runs a best-effort summarization attempt. Failures are logged
// and never block the reply path.
func (o *Orchestrator) trySummarize(ctx context.Context, c *models.Customer) {
	if err := o.summarizer.MaybeSummarize(ctx, c); err != nil {
		slog.Warn("Orchestrator: summarization attempt failed", "customerID", c.ID, "error", err)
	}
}
