package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/valueplus/salespipe/internal/models"
)

// mockCompletionService records the last request and returns canned output.
type mockCompletionService struct {
	lastParams openai.ChatCompletionNewParams
	reply      string
	err        error
}

func (m *mockCompletionService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.lastParams = params
	if m.err != nil {
		return nil, m.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.reply}},
		},
	}, nil
}

func newTestClient(mock *mockCompletionService) *Client {
	return &Client{chat: mock, model: DefaultModel, summaryModel: DefaultSummaryModel, timeout: time.Second}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key is missing")
	}
	c, err := NewClient(WithAPIKey("test-key"), WithModel("m1"), WithSummaryModel("m2"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "m1" || c.summaryModel != "m2" || c.timeout != 5*time.Second {
		t.Errorf("options not applied: %+v", c)
	}
}

func TestCompleteSendsFullHistory(t *testing.T) {
	mock := &mockCompletionService{reply: "שלום! במה אפשר לעזור?"}
	c := newTestClient(mock)

	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
		{Role: models.RoleUser, Content: "היי"},
	}
	reply, err := c.Complete(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "שלום! במה אפשר לעזור?" {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(mock.lastParams.Messages) != 2 {
		t.Errorf("expected 2 messages sent, got %d", len(mock.lastParams.Messages))
	}
}

func TestCompleteWrapsErrorsAsTransient(t *testing.T) {
	mock := &mockCompletionService{err: errors.New("connection reset")}
	c := newTestClient(mock)

	_, err := c.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "היי"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !models.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestSummarizeUsesAnalystPromptAndTranscript(t *testing.T) {
	mock := &mockCompletionService{reply: "סיכום מפורט של השיחה"}
	c := newTestClient(mock)

	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
		{Role: models.RoleUser, Content: "יש לי חנות פרחים"},
		{Role: models.RoleAssistant, Content: "נשמע מצוין"},
	}
	summary, err := c.Summarize(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "סיכום מפורט של השיחה" {
		t.Errorf("unexpected summary: %q", summary)
	}
	// The summarizer sends exactly two messages: the analyst system prompt
	// and the rendered transcript.
	if len(mock.lastParams.Messages) != 2 {
		t.Errorf("expected 2 messages sent, got %d", len(mock.lastParams.Messages))
	}
}

func TestTranscriptRendersRolePrefixedLines(t *testing.T) {
	got := transcript([]models.Message{
		{Role: models.RoleUser, Content: "שלום"},
		{Role: models.RoleAssistant, Content: "היי"},
	})
	want := "user: שלום\nassistant: היי"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}
