// Package messaging provides the message delivery abstraction between the
// WhatsApp transports and the conversation core. Inbound customer messages
// arrive on a Service's Responses channel; the Responder drains it, runs the
// orchestrator, and sends the outcome back through the same Service.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/valueplus/salespipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response
	// channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel sends.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable message transport. Implementations deliver outbound
// messages and surface inbound customer messages and delivery receipts as
// channels.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns its canonical digits-only form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery status events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound customer messages.
	Responses() <-chan models.Response
}

// canonicalizePhone validates and canonicalizes a phone-number-like recipient
// to its digits-only form. Shared by all transports so customer IDs are
// stable across them.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found in recipient " + recipient)
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: " + canonical + " is too short (minimum 6 digits required)")
	}
	return canonical, nil
}
