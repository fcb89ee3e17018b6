package convo

import (
	"strings"
	"testing"
	"time"

	"github.com/valueplus/salespipe/internal/models"
)

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content, At: time.Now()}
}

func assistantMsg(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content, At: time.Now()}
}

func TestIsAtMessageLimit(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MessageLimit = 4

	c := &models.Customer{ID: "+1", Messages: []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
		userMsg("א"), assistantMsg("ב"), userMsg("ג"),
	}}
	if cfg.IsAtMessageLimit(c) {
		t.Error("3 user+assistant messages should be under a limit of 4")
	}
	c.Messages = append(c.Messages, assistantMsg("ד"))
	if !cfg.IsAtMessageLimit(c) {
		t.Error("4 user+assistant messages should hit a limit of 4")
	}
}

func TestMessageLimitExcludesSystemPrompt(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MessageLimit = 1

	c := &models.Customer{ID: "+1", Messages: []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
	}}
	if cfg.IsAtMessageLimit(c) {
		t.Error("system prompt alone must not count toward the limit")
	}
}

func TestIsIdleTimedOut(t *testing.T) {
	cfg := DefaultPolicyConfig()
	now := time.Now()

	c := &models.Customer{ID: "+1", LastActivityAt: now.Add(-2 * time.Hour)}
	if !cfg.IsIdleTimedOut(c, now) {
		t.Error("2 hours quiet should exceed a 1 hour threshold")
	}
	c.LastActivityAt = now.Add(-30 * time.Minute)
	if cfg.IsIdleTimedOut(c, now) {
		t.Error("30 minutes quiet should not exceed a 1 hour threshold")
	}
	c.LastActivityAt = time.Time{}
	if cfg.IsIdleTimedOut(c, now) {
		t.Error("a customer with no recorded activity is not idle")
	}
}

func TestEndsNaturallyClosingPhrase(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.ClosingPhrases = []string{"ביי"}

	if !cfg.EndsNaturally("ביי", nil) {
		t.Error("configured closing phrase should end the conversation")
	}
	if !cfg.EndsNaturally("טוב, ביי ותודה", nil) {
		t.Error("closing phrase inside a longer message should match")
	}
	if cfg.EndsNaturally("רוצה לשמוע עוד", nil) {
		t.Error("regular message should not end the conversation")
	}
}

func TestEndsNaturallyShortRunRequiresLongConversation(t *testing.T) {
	cfg := DefaultPolicyConfig()

	// Short conversation: a short reply never ends it.
	short := []models.Message{userMsg("כן"), assistantMsg("עוד?"), userMsg("כן")}
	if cfg.EndsNaturally("כן", short) {
		t.Error("short conversation must not end on short replies")
	}
}

func TestEndsNaturallyShortRun(t *testing.T) {
	cfg := DefaultPolicyConfig()

	// Build a conversation past the long threshold whose tail is four short
	// user replies interleaved with assistant turns.
	var history []models.Message
	history = append(history, models.Message{Role: models.RoleSystem, Content: "prompt"})
	for i := 0; i < 20; i++ {
		history = append(history, userMsg("ספר לי עוד על התהליך"), assistantMsg("בשמחה, הנה פירוט"))
	}
	for i := 0; i < 4; i++ {
		history = append(history, assistantMsg("עוד משהו?"), userMsg("כן"))
	}

	if !cfg.EndsNaturally("כן", history) {
		t.Error("four consecutive short replies in a long conversation should end it")
	}

	// Break the run: a long user reply inside the tail window resets it.
	history[len(history)-3] = userMsg("בעצם יש לי עוד שאלה חשובה")
	if cfg.EndsNaturally("כן", history) {
		t.Error("a substantial reply inside the tail window should break the run")
	}
}

func TestHasSufficientBusinessInfo(t *testing.T) {
	cfg := DefaultPolicyConfig()

	// Six user messages but only two distinct keywords.
	sparse := []models.Message{
		userMsg("יש לי עסק"), userMsg("כן"), userMsg("אולי"),
		userMsg("המוצר חדש"), userMsg("לא"), userMsg("בסדר"),
	}
	if cfg.HasSufficientBusinessInfo(sparse) {
		t.Error("two keywords should not be sufficient")
	}

	// Three distinct keywords across user and assistant text.
	rich := append(sparse, assistantMsg("איזה עיצוב אתה אוהב?"))
	if !cfg.HasSufficientBusinessInfo(rich) {
		t.Error("six user messages and three distinct keywords should be sufficient")
	}

	// Enough keywords but too few user messages.
	few := []models.Message{userMsg("יש לי עסק עם מוצר ואני רוצה עיצוב מודרני")}
	if cfg.HasSufficientBusinessInfo(few) {
		t.Error("fewer than six user messages should not be sufficient")
	}
}

func TestIsHandoffEligible(t *testing.T) {
	cfg := DefaultPolicyConfig()
	now := time.Now()
	quiet := now.Add(-2 * time.Hour)

	c := &models.Customer{ID: "+1", LastActivityAt: quiet, Messages: []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
		userMsg("א"), userMsg("ב"), userMsg("ג"), userMsg("ד"), userMsg("ה"),
	}}
	if !cfg.IsHandoffEligible(c, c.LastActivityAt, now) {
		t.Error("5 user messages and 2 hours quiet should be handoff eligible")
	}

	active := *c
	if cfg.IsHandoffEligible(&active, now.Add(-10*time.Minute), now) {
		t.Error("recently active customer should not be eligible")
	}

	handedOff := *c
	handedOff.Handoff = &quiet
	if cfg.IsHandoffEligible(&handedOff, handedOff.LastActivityAt, now) {
		t.Error("customer already handed off should not be eligible")
	}

	transferred := *c
	transferred.Transferred = &quiet
	if cfg.IsHandoffEligible(&transferred, transferred.LastActivityAt, now) {
		t.Error("customer already transferred should not be eligible")
	}

	tooFew := *c
	tooFew.Messages = tooFew.Messages[:3]
	if cfg.IsHandoffEligible(&tooFew, tooFew.LastActivityAt, now) {
		t.Error("fewer than 5 user messages should not be eligible")
	}
}

func TestCountQuestions(t *testing.T) {
	cases := []struct {
		reply string
		want  int
	}{
		{"תודה רבה", 0},
		{"מה השם של העסק?", 1},
		{"מה המטרה? כמה תקציב יש?", 2},
		{"ספר לי עוד", 0},
	}
	for _, c := range cases {
		if got := CountQuestions(c.reply); got != c.want {
			t.Errorf("CountQuestions(%q) = %d, want %d", c.reply, got, c.want)
		}
	}
}

func TestNextActionReplyListsMissingInfo(t *testing.T) {
	cfg := DefaultPolicyConfig()

	history := []models.Message{userMsg("שלום")}
	reply := cfg.NextActionReply(history)
	if reply == "" {
		t.Fatal("expected a follow-up reply")
	}
	// With nothing collected yet the reply asks what the business does.
	if !strings.Contains(reply, "אני רוצה לוודא") {
		t.Errorf("unexpected reply: %q", reply)
	}
}
