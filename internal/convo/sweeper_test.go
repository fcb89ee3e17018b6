package convo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/valueplus/salespipe/internal/models"
	"github.com/valueplus/salespipe/internal/store"
)

func sweepFixture(cfg PolicyConfig) (*store.InMemoryStore, *CustomerStore, *mockSummaryService, *Sweeper) {
	backing := store.NewInMemoryStore()
	customers := NewCustomerStore(backing)
	summaries := &mockSummaryService{text: validSummaryText()}
	sweeper := NewSweeper(customers, NewSummarizer(backing, summaries, cfg), cfg)
	return backing, customers, summaries, sweeper
}

func idleCustomer(id, marker string) *models.Customer {
	c := &models.Customer{ID: id, BotActive: true, LastActivityAt: time.Now().Add(-2 * time.Hour)}
	EnsureSystemPrompt(c, "prompt")
	for i := 0; i < 3; i++ {
		Append(c, models.RoleUser, "שאלה על "+marker)
		Append(c, models.RoleAssistant, "תשובה")
	}
	return c
}

func TestSweepSummarizesIdleConversations(t *testing.T) {
	cfg := DefaultPolicyConfig()
	backing, customers, _, sweeper := sweepFixture(cfg)

	if err := backing.SaveCustomer(*idleCustomer("+1", "one")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := customers.LoadAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sweeper.Tick(context.Background())

	rec, err := backing.GetSummary("+1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.SummaryCount != 1 {
		t.Errorf("idle conversation should be summarized: %+v", rec)
	}
}

func TestSweepSkipsActiveAndInsignificantConversations(t *testing.T) {
	cfg := DefaultPolicyConfig()
	backing, customers, summaries, sweeper := sweepFixture(cfg)

	active := idleCustomer("+1", "one")
	active.LastActivityAt = time.Now().Add(-10 * time.Minute)
	if err := backing.SaveCustomer(*active); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tiny := &models.Customer{ID: "+2", BotActive: true, LastActivityAt: time.Now().Add(-2 * time.Hour)}
	EnsureSystemPrompt(tiny, "prompt")
	Append(tiny, models.RoleUser, "היי")
	if err := backing.SaveCustomer(*tiny); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := customers.LoadAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sweeper.Tick(context.Background())

	if summaries.callCount() != 0 {
		t.Errorf("no summarization expected, got %d calls", summaries.callCount())
	}
}

func TestSweepSkipsAlreadySummarized(t *testing.T) {
	cfg := DefaultPolicyConfig()
	backing, customers, summaries, sweeper := sweepFixture(cfg)

	if err := backing.SaveCustomer(*idleCustomer("+1", "one")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()
	if err := backing.SaveSummary(models.SummaryRecord{
		CustomerID: "+1", Summary: validSummaryText(), SummaryCount: 1,
		CreatedAt: now, UpdatedAt: now, UserMessagesAtLastSummary: 3,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := customers.LoadAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sweeper.Tick(context.Background())

	if summaries.callCount() != 0 {
		t.Errorf("already-summarized conversation must be skipped, got %d calls", summaries.callCount())
	}
}

func TestSweepMarksIdleCustomersForHandoff(t *testing.T) {
	cfg := DefaultPolicyConfig()
	backing, customers, _, sweeper := sweepFixture(cfg)

	c := &models.Customer{ID: "+1", BotActive: true, LastActivityAt: time.Now().Add(-2 * time.Hour)}
	EnsureSystemPrompt(c, "prompt")
	for i := 0; i < 5; i++ {
		Append(c, models.RoleUser, "שאלה")
		Append(c, models.RoleAssistant, "תשובה")
	}
	if err := backing.SaveCustomer(*c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := customers.LoadAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sweeper.Tick(context.Background())

	err := customers.WithLock("+1", func(c *models.Customer) error {
		if c.Handoff == nil {
			t.Error("idle eligible customer should be handed off by the sweep")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSweepContinuesAfterCustomerFailure(t *testing.T) {
	cfg := DefaultPolicyConfig()
	backing, customers, summaries, sweeper := sweepFixture(cfg)
	summaries.failOn = "customer-050"

	for i := 1; i <= 100; i++ {
		marker := fmt.Sprintf("customer-%03d", i)
		id := fmt.Sprintf("+%03d", i)
		if err := backing.SaveCustomer(*idleCustomer(id, marker)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := customers.LoadAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sweeper.Tick(context.Background())

	recs, err := backing.ListSummaries()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 99 {
		t.Errorf("expected 99 summaries despite one failure, got %d", len(recs))
	}
	if rec, _ := backing.GetSummary("+050"); rec != nil {
		t.Errorf("failed customer must not have a summary: %+v", rec)
	}
	if rec, _ := backing.GetSummary("+100"); rec == nil {
		t.Error("customers after the failure must still be summarized")
	}
}
