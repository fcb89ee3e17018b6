// Package genai provides the OpenAI-backed completion and summarization
// services used by the conversation core.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/valueplus/salespipe/internal/models"
)

// DefaultModel is used for live replies when no model override is supplied.
const DefaultModel = "gpt-4o"

// DefaultSummaryModel is used for conversation summaries.
const DefaultSummaryModel = "gpt-4o"

// DefaultTimeout bounds each API call.
const DefaultTimeout = 60 * time.Second

// summarySystemPrompt instructs the analyst model. The sales team consumes
// these summaries, so the structure and language are fixed in Hebrew.
const summarySystemPrompt = `אתה מומחה לניתוח שיחות מכירה של VALUE+. סכם את השיחה הזו בצורה מפורטת ומקצועית.

📋 מה לסכם (חובה לבדוק את כולם):
1. **שם העסק/המוצר** - מה בדיוק הם עושים?
2. **מטרת הדף** - מה הם רוצים שהלקוחות שלהם יעשו? (מכירה/השארת פרטים/תיאום)
3. **פרטי קשר** - איך לפנות אליהם?
4. **חומרים קיימים** - יש לוגו/תמונות?
5. **סגנון עיצוב** - מודרני, קלאסי, צבעוני?
6. **יתרון תחרותי** - מה מבדל אותם מאחרים?
7. **רגש בדף** - איך הלקוח שלהם צריך להרגיש?
8. **פרופיל לקוחות** - גיל, מגדר, תחומי עניין?

🎯 הנחיות ליועץ:
- איך לגשת ללקוח (פסיכולוגית)
- מה הדגשים החשובים
- איזה סוג לקוח זה (חם/חם-חם/קר)
- איך להתגבר על התנגדויות

⚠️ חשוב: אם חסר מידע על אחד מהנושאים, ציין זאת בבירור.
השתמש בעברית ברורה ומקצועית.`

// ClientInterface defines the two LLM operations the conversation core
// consumes, so tests can substitute mocks.
type ClientInterface interface {
	Complete(ctx context.Context, msgs []models.Message) (string, error)
	Summarize(ctx context.Context, msgs []models.Message) (string, error)
}

// completionService is the minimal slice of the OpenAI client we call,
// extracted for testing.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	SummaryModel string
	Timeout      time.Duration
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model used for live replies.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSummaryModel sets the model used for summaries.
func WithSummaryModel(model string) Option {
	return func(o *Opts) { o.SummaryModel = model }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	chat         completionService
	model        string
	summaryModel string
	timeout      time.Duration
}

// NewClient initializes a GenAI client. The API key is required; models and
// timeout fall back to defaults.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = DefaultSummaryModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("GenAI client initialized", "model", cfg.Model, "summaryModel", cfg.SummaryModel, "timeout", cfg.Timeout)

	api := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:         &api.Chat.Completions,
		model:        cfg.Model,
		summaryModel: cfg.SummaryModel,
		timeout:      cfg.Timeout,
	}, nil
}

// Complete generates the assistant's next reply from the conversation
// history. Failures are wrapped as transient so callers can distinguish
// retryable external errors.
func (c *Client) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toOpenAIMessages(msgs),
	})
	if err != nil {
		return "", &models.TransientError{Op: "complete", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &models.TransientError{Op: "complete", Err: fmt.Errorf("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Summarize produces an analyst summary of the conversation for the sales
// team.
func (c *Client) Summarize(ctx context.Context, msgs []models.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.summaryModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(transcript(msgs)),
		},
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", &models.TransientError{Op: "summarize", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &models.TransientError{Op: "summarize", Err: fmt.Errorf("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

// toOpenAIMessages converts stored history into API message params.
func toOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		}
	}
	return out
}

// transcript renders the history as "role: content" lines for the
// summarizer.
func transcript(msgs []models.Message) string {
	var b []byte
	for i, m := range msgs {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, string(m.Role)...)
		b = append(b, ": "...)
		b = append(b, m.Content...)
	}
	return string(b)
}
