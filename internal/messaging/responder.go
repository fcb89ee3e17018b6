package messaging

import (
	"context"
	"log/slog"

	"github.com/valueplus/salespipe/internal/convo"
	"github.com/valueplus/salespipe/internal/models"
)

// MessageHandler processes one inbound customer message and decides the
// reply. Implemented by convo.Orchestrator.
type MessageHandler interface {
	HandleMessage(ctx context.Context, customerID, pushName, text string) (convo.Outcome, error)
}

// Responder drains a Service's inbound messages, runs each through the
// orchestrator, and sends the resulting reply back out. One Responder runs
// per transport; concurrency control lives entirely in the conversation core.
type Responder struct {
	service Service
	handler MessageHandler
}

// NewResponder creates a Responder bridging the transport and the
// orchestrator.
func NewResponder(service Service, handler MessageHandler) *Responder {
	return &Responder{service: service, handler: handler}
}

// Run processes inbound messages until the context is cancelled or the
// responses channel closes. Each message is handled in its own goroutine so
// a slow completion call for one customer never delays another; per-customer
// ordering is preserved by the customer lock in the conversation core.
func (r *Responder) Run(ctx context.Context) {
	slog.Info("Responder started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Responder stopping, context cancelled")
			return
		case resp, ok := <-r.service.Responses():
			if !ok {
				slog.Info("Responder stopping, responses channel closed")
				return
			}
			go r.handleResponse(ctx, resp)
		}
	}
}

func (r *Responder) handleResponse(ctx context.Context, resp models.Response) {
	customerID, err := r.service.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("Responder: dropping message with invalid sender", "from", resp.From, "error", err)
		return
	}

	outcome, err := r.handler.HandleMessage(ctx, customerID, resp.PushName, resp.Body)
	if err != nil {
		slog.Error("Responder: message handling failed", "customerID", customerID, "error", err)
		return
	}
	if outcome.Kind == convo.OutcomeNone || outcome.Reply == "" {
		return
	}

	if err := r.service.SendMessage(ctx, customerID, outcome.Reply); err != nil {
		slog.Error("Responder: failed to send reply", "customerID", customerID, "kind", outcome.Kind, "error", err)
	}
}
