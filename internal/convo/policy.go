// Package convo implements the conversation lifecycle core: per-customer state,
// lifecycle policy, deduplicated summarization, and the background sweep. All
// mutation of a customer's state goes through that customer's lock in
// CustomerStore; the policy functions in this file are pure and read-only.
package convo

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valueplus/salespipe/internal/models"
)

// PolicyConfig carries every threshold and canned text the lifecycle policy
// consults. All values are injected at construction; DefaultPolicyConfig
// returns the production values.
type PolicyConfig struct {
	// MessageLimit is the maximum user+assistant message count per
	// conversation. At the limit the bot sends LimitNotice once and then
	// stops responding.
	MessageLimit int

	// IdleThreshold is how long a conversation must be quiet before it is
	// considered idle for handoff and sweep purposes.
	IdleThreshold time.Duration

	// MinUserMessagesForHandoff is the minimum user message count before an
	// idle conversation is escalated to a human advisor.
	MinUserMessagesForHandoff int

	// MinSignificantMessages is the minimum user+assistant message count for
	// the sweep to consider a conversation worth summarizing.
	MinSignificantMessages int

	// SweepSpec is the cron spec driving Sweeper.Tick.
	SweepSpec string

	// MinSummaryLength rejects degenerate summaries: shorter results are
	// discarded without consuming a summary slot.
	MinSummaryLength int

	// LongConversationThreshold is the history length above which a run of
	// short affirmative replies counts as a natural ending.
	LongConversationThreshold int

	// ShortRunWindow and ShortRunLength define the short-reply run check:
	// at least ShortRunLength qualifying user turns within the most recent
	// ShortRunWindow history entries.
	ShortRunWindow int
	ShortRunLength int

	// MinBusinessUserMessages and MinBusinessKeywords gate whether enough
	// business information has been collected to honor a closing.
	MinBusinessUserMessages int
	MinBusinessKeywords     int

	// CompletionTimeout bounds each LLM call.
	CompletionTimeout time.Duration

	ClosingPhrases   []string
	ShortResponses   []string
	BusinessKeywords []string

	SystemPrompt  string
	ResumeReply   string
	LimitNotice   string
	ClosingNotice string
	HandoffNotice string
	FailureReply  string
}

// DefaultPolicyConfig returns the production policy values. The Hebrew texts
// and vocabularies are part of the sales flow and are overridable per
// deployment via the config surface in cmd/salespipe.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MessageLimit:              100,
		IdleThreshold:             time.Hour,
		MinUserMessagesForHandoff: 5,
		MinSignificantMessages:    5,
		SweepSpec:                 "*/5 * * * *",
		MinSummaryLength:          50,
		LongConversationThreshold: 40,
		ShortRunWindow:            8,
		ShortRunLength:            4,
		MinBusinessUserMessages:   6,
		MinBusinessKeywords:       3,
		CompletionTimeout:         60 * time.Second,
		ClosingPhrases:            []string{" ביי"},
		ShortResponses:            []string{"כן", "לא", "אוקיי", "בסדר", "בטח"},
		BusinessKeywords: []string{
			"עסק", "מוצר", "שירות", "חברה", "חנות", "מטרה", "מכירה",
			"לקוחות", "לוגו", "תמונות", "עיצוב", "סגנון", "מבדיל", "תחושה",
		},
		ResumeReply: "אוקיי, אני כאן להמשיך לעזור לך! מה עוד אתה רוצה לדעת על דף הנחיתה?",
		LimitNotice: "🚫 הגעת למגבלת ההודעות בשיחה הזו.\n" +
			"אני מעביר אותך למענה אנושי שיוכל לעזור לך הלאה.\n" +
			"מאפיין אתרים מטעמנו יחייג למספר שלך בקרוב",
		ClosingNotice: "אני אכין עבורך שאלון אפיון ואפתח בקשה למתכנת ולמעצב שלנו ואחזור אליך בקרוב.\n\n" +
			"תודה על הזמן! אם יש שאלות או שינויים, פשוט תכתוב לי",
		HandoffNotice: "אספתי מספיק מידע כדי להתחיל לעבוד על הדף שלך.\n\n" +
			"אני מעביר אותך עכשיו ליועץ מטעמנו שיכין לך הצעה מותאמת אישית ויסביר לך בדיוק איך הדף יעבוד עבור העסק שלך.\n\n" +
			"היועץ שלנו יחזור אליך תוך מספר שעות. תודה על הסבלנות!",
		FailureReply: "מצטער, נתקלתי בבעיה זמנית. אפשר לנסות לשלוח את ההודעה שוב?",
	}
}

// IsAtMessageLimit reports whether the conversation reached the message cap.
// Only user and assistant entries count toward the limit.
func (p PolicyConfig) IsAtMessageLimit(c *models.Customer) bool {
	return c.MessageCount() >= p.MessageLimit
}

// IsIdleTimedOut reports whether more than IdleThreshold passed since the
// customer's last activity. A customer with no recorded activity is not idle.
func (p PolicyConfig) IsIdleTimedOut(c *models.Customer, now time.Time) bool {
	return p.idleSince(c.LastActivityAt, now)
}

func (p PolicyConfig) idleSince(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > p.IdleThreshold
}

// EndsNaturally reports whether the inbound message ends the conversation:
// either it contains an explicit closing phrase, or the conversation is long
// and the customer has been giving only short affirmative replies. The run
// check scans the most recent ShortRunWindow entries backward and requires
// ShortRunLength qualifying user turns in a row at the end.
func (p PolicyConfig) EndsNaturally(message string, history []models.Message) bool {
	lowered := strings.ToLower(strings.TrimSpace(message))

	for _, phrase := range p.ClosingPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}

	if len(history) <= p.LongConversationThreshold {
		return false
	}
	if !p.isShortResponse(lowered) {
		return false
	}

	// Collect user turns from the recent window, newest first.
	var recent []string
	for i := len(history) - 1; i >= 0 && len(history)-i <= p.ShortRunWindow; i-- {
		if history[i].Role == models.RoleUser {
			recent = append(recent, strings.ToLower(strings.TrimSpace(history[i].Content)))
		}
	}
	if len(recent) < p.ShortRunLength {
		return false
	}
	for _, msg := range recent[:p.ShortRunLength] {
		if !p.isShortResponse(msg) && utf8.RuneCountInString(msg) >= 5 {
			return false
		}
	}
	return true
}

func (p PolicyConfig) isShortResponse(lowered string) bool {
	for _, s := range p.ShortResponses {
		if lowered == s {
			return true
		}
	}
	return false
}

// HasSufficientBusinessInfo reports whether enough business information has
// been collected to honor a closing: a minimum number of user messages plus a
// minimum number of distinct topic keywords anywhere in the conversation.
// Substring matching over the concatenated text is a deliberate loose
// heuristic, not a classifier.
func (p PolicyConfig) HasSufficientBusinessInfo(history []models.Message) bool {
	userMessages := 0
	var b strings.Builder
	for _, m := range history {
		if m.Role == models.RoleUser {
			userMessages++
		}
		b.WriteString(strings.ToLower(m.Content))
		b.WriteString(" ")
	}
	if userMessages < p.MinBusinessUserMessages {
		return false
	}

	text := b.String()
	found := 0
	for _, kw := range p.BusinessKeywords {
		if strings.Contains(text, kw) {
			found++
		}
	}
	return found >= p.MinBusinessKeywords
}

// IsHandoffEligible reports whether an idle conversation should be escalated
// to a human advisor. lastActivity is passed explicitly so the live path can
// evaluate eligibility against the activity time before the current message.
func (p PolicyConfig) IsHandoffEligible(c *models.Customer, lastActivity, now time.Time) bool {
	if c.Handoff != nil || c.Transferred != nil {
		return false
	}
	if c.UserMessageCount() < p.MinUserMessagesForHandoff {
		return false
	}
	return p.idleSince(lastActivity, now)
}

// questionWords are interrogative markers counted in assistant replies.
var questionWords = []string{"איך", "מה", "איפה", "מתי", "למה", "מי", "כמה", "איזה", "האם"}

// CountQuestions estimates how many questions an assistant reply contains.
// Diagnostic only; the result feeds Customer.QuestionsAsked and never drives
// control flow.
func CountQuestions(reply string) int {
	marks := strings.Count(reply, "?")

	wordCount := 0
	for _, word := range strings.Fields(reply) {
		for _, q := range questionWords {
			if strings.Contains(word, q) {
				wordCount++
				break
			}
		}
	}

	if wordCount > marks {
		return wordCount
	}
	return marks
}
