// Package models defines the core data structures for SalesPipe.
//
// It includes the customer conversation record, summary records, and the
// messaging wire types shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks the agent prompt entry that anchors every history.
	RoleSystem Role = "system"
	// RoleUser marks an inbound customer message.
	RoleUser Role = "user"
	// RoleAssistant marks a bot reply.
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a customer's conversation history.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Customer is the unit of conversation state, keyed by a phone-number-like ID.
//
// The optional timestamp fields are one-shot markers: Handoff is set when the
// conversation is escalated and cleared by the customer's next inbound message;
// Transferred is set once on hard transfer and never cleared; LimitNotifiedAt is
// set when the one-time message-limit notice has been delivered.
type Customer struct {
	ID              string     `json:"id"`
	PushName        string     `json:"push_name,omitempty"`
	Messages        []Message  `json:"messages"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	QuestionsAsked  int        `json:"questions_asked"`
	Handoff         *time.Time `json:"handoff,omitempty"`
	Transferred     *time.Time `json:"transferred,omitempty"`
	LimitNotifiedAt *time.Time `json:"limit_notified_at,omitempty"`
	BotActive       bool       `json:"bot_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// MessageCount returns the number of user and assistant entries. The leading
// system entry is excluded.
func (c *Customer) MessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser || m.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// UserMessageCount returns the number of user-authored entries.
func (c *Customer) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// SummaryRecord is the upserted per-customer conversation summary, including
// the gate state that enforces the at-most-two-summaries rule.
type SummaryRecord struct {
	CustomerID                string    `json:"customer_id"`
	CustomerName              string    `json:"customer_name"`
	Gender                    string    `json:"gender"`
	Summary                   string    `json:"summary"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
	TotalMessages             int       `json:"total_messages"`
	SummaryCount              int       `json:"summary_count"`
	UserMessagesAtLastSummary int       `json:"user_messages_at_last_summary"`
}

// MaxSummariesPerCustomer caps how many summaries a single conversation may
// ever produce.
const MaxSummariesPerCustomer = 2

// Error variables for better error handling and testability
var (
	// ErrCustomerNotFound is returned when operating on an unknown customer
	// without a prior create-or-load.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrSummaryLimitReached indicates an attempt to exceed the summary cap.
	// The gate makes this unreachable in correct use; seeing it is a bug.
	ErrSummaryLimitReached = errors.New("summary limit reached for customer")
	// ErrSummaryTooShort indicates the summarizer returned garbage output that
	// must not consume a summary slot.
	ErrSummaryTooShort = errors.New("summary text below minimum length")
	// ErrBotInactive indicates the operator has switched the bot off for a
	// customer.
	ErrBotInactive = errors.New("bot is inactive for customer")
	// ErrEmptyRecipient is returned for messaging calls without a recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrEmptyMessageBody is returned for messaging calls without a body.
	ErrEmptyMessageBody = errors.New("message body cannot be empty")
)

// TransientError wraps a recoverable failure of an external collaborator
// (completion, summarization, delivery). Callers may retry; the conversation
// state must not be advanced as if the operation succeeded.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a customer.
type Response struct {
	From     string `json:"from"`
	PushName string `json:"push_name,omitempty"`
	Body     string `json:"body"`
	Time     int64  `json:"time"`
}

// API Response types for consistent JSON responses

// APIStatus enumerates the status values used in API responses.
type APIStatus string

const (
	// APIStatusOK indicates a successful API call.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API call.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
