package convo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valueplus/salespipe/internal/models"
	"github.com/valueplus/salespipe/internal/store"
)

// mockSummaryService returns a canned summary, failing when any message
// contains failOn.
type mockSummaryService struct {
	mu     sync.Mutex
	calls  int
	text   string
	failOn string
}

func (m *mockSummaryService) Summarize(ctx context.Context, msgs []models.Message) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	for _, msg := range msgs {
		if m.failOn != "" && strings.Contains(msg.Content, m.failOn) {
			return "", errors.New("model unavailable")
		}
	}
	return m.text, nil
}

func (m *mockSummaryService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func validSummaryText() string {
	return strings.Repeat("סיכום ", 20)
}

func summaryCustomer(id string, userMessages int) *models.Customer {
	c := &models.Customer{ID: id, BotActive: true, PushName: "Dana"}
	c.Messages = append(c.Messages, models.Message{Role: models.RoleSystem, Content: "prompt", At: time.Now()})
	for i := 0; i < userMessages; i++ {
		Append(c, models.RoleUser, "יש לי עסק")
		Append(c, models.RoleAssistant, "מעניין")
	}
	return c
}

func TestShouldSummarizeDecisionTable(t *testing.T) {
	cases := []struct {
		name            string
		rec             *models.SummaryRecord
		userMessagesNow int
		want            bool
	}{
		{"no record", nil, 3, true},
		{"zero count", &models.SummaryRecord{SummaryCount: 0}, 3, true},
		{"one, new activity", &models.SummaryRecord{SummaryCount: 1, UserMessagesAtLastSummary: 3}, 4, true},
		{"one, no new activity", &models.SummaryRecord{SummaryCount: 1, UserMessagesAtLastSummary: 3}, 3, false},
		{"two, any activity", &models.SummaryRecord{SummaryCount: 2, UserMessagesAtLastSummary: 3}, 10, false},
	}
	for _, c := range cases {
		if got := shouldSummarize(c.rec, c.userMessagesNow); got != c.want {
			t.Errorf("%s: shouldSummarize = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMaybeSummarizeRecordsSummary(t *testing.T) {
	backing := store.NewInMemoryStore()
	mock := &mockSummaryService{text: validSummaryText()}
	s := NewSummarizer(backing, mock, DefaultPolicyConfig())

	c := summaryCustomer("+1", 4)
	if err := s.MaybeSummarize(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := backing.GetSummary("+1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("summary record not saved")
	}
	if rec.SummaryCount != 1 || rec.UserMessagesAtLastSummary != 4 {
		t.Errorf("gate state wrong: %+v", rec)
	}
	if rec.CustomerName != "Dana" {
		t.Errorf("push name not used for customer name: %q", rec.CustomerName)
	}
}

func TestSecondSummaryRequiresNewUserMessages(t *testing.T) {
	backing := store.NewInMemoryStore()
	mock := &mockSummaryService{text: validSummaryText()}
	s := NewSummarizer(backing, mock, DefaultPolicyConfig())
	ctx := context.Background()

	c := summaryCustomer("+1", 4)
	if err := s.MaybeSummarize(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No new user messages: the attempt is a no-op.
	if err := s.MaybeSummarize(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := backing.GetSummary("+1")
	if rec.SummaryCount != 1 {
		t.Errorf("second summary must be gated, count = %d", rec.SummaryCount)
	}

	// One more user message unlocks the second summary.
	Append(c, models.RoleUser, "עוד שאלה")
	if err := s.MaybeSummarize(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ = backing.GetSummary("+1")
	if rec.SummaryCount != 2 {
		t.Errorf("second summary should succeed, count = %d", rec.SummaryCount)
	}

	// A third attempt is always a no-op.
	Append(c, models.RoleUser, "ועוד אחת")
	if err := s.MaybeSummarize(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ = backing.GetSummary("+1")
	if rec.SummaryCount != 2 {
		t.Errorf("summary count must never exceed 2, got %d", rec.SummaryCount)
	}
}

func TestShortSummaryDiscardedWithoutConsumingSlot(t *testing.T) {
	backing := store.NewInMemoryStore()
	mock := &mockSummaryService{text: "קצר מדי"}
	s := NewSummarizer(backing, mock, DefaultPolicyConfig())
	ctx := context.Background()

	c := summaryCustomer("+1", 4)
	if err := s.MaybeSummarize(ctx, c); !errors.Is(err, models.ErrSummaryTooShort) {
		t.Fatalf("expected ErrSummaryTooShort, got %v", err)
	}
	if rec, _ := backing.GetSummary("+1"); rec != nil {
		t.Errorf("garbage summary must not be saved: %+v", rec)
	}

	// A later attempt with a real summary still has its slot.
	mock.text = validSummaryText()
	if err := s.MaybeSummarize(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := backing.GetSummary("+1")
	if rec == nil || rec.SummaryCount != 1 {
		t.Errorf("retry after discard should succeed: %+v", rec)
	}
}

func TestNoDoubleSummaryUnderConcurrency(t *testing.T) {
	backing := store.NewInMemoryStore()
	mock := &mockSummaryService{text: validSummaryText()}
	cfg := DefaultPolicyConfig()
	s := NewSummarizer(backing, mock, cfg)
	cs := NewCustomerStore(backing)

	if err := backing.SaveCustomer(*summaryCustomer("+1", 4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const attempts = 10
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cs.WithLock("+1", func(c *models.Customer) error {
				return s.MaybeSummarize(context.Background(), c)
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := backing.GetSummary("+1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.SummaryCount != 1 {
		t.Fatalf("expected exactly one summary, got %+v", rec)
	}
	if mock.callCount() != 1 {
		t.Errorf("expected exactly one summarize call, got %d", mock.callCount())
	}
}
