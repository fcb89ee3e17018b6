package convo

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/valueplus/salespipe/internal/models"
	"github.com/valueplus/salespipe/internal/store"
)

// customerEntry pairs a customer's in-memory state with its lock. The lock
// serializes every mutation for that customer, live path and sweep alike.
type customerEntry struct {
	mu       sync.Mutex
	customer *models.Customer
}

// CustomerStore owns the shared customer map. Access follows one discipline:
// load-or-create, lock, mutate, unlock. The registry mutex only guards the
// map itself and is never held while a customer's lock is held, so the sweep
// and live traffic for different customers never block each other.
type CustomerStore struct {
	mu      sync.Mutex
	entries map[string]*customerEntry
	backing store.Store
}

// NewCustomerStore creates a customer registry backed by the given store.
func NewCustomerStore(backing store.Store) *CustomerStore {
	return &CustomerStore{
		entries: make(map[string]*customerEntry),
		backing: backing,
	}
}

func (s *CustomerStore) entryFor(id string) *customerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &customerEntry{}
		s.entries[id] = e
	}
	return e
}

// WithLock runs fn with the customer's lock held, creating or loading the
// customer first. Hydration from the backing store happens under the
// customer's own lock, not the registry lock.
func (s *CustomerStore) WithLock(id string, fn func(c *models.Customer) error) error {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.customer == nil {
		c, err := s.load(id)
		if err != nil {
			return err
		}
		e.customer = c
	}
	return fn(e.customer)
}

func (s *CustomerStore) load(id string) (*models.Customer, error) {
	c, err := s.backing.GetCustomer(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer %s: %w", id, err)
	}
	if c != nil {
		slog.Debug("CustomerStore.load: restored customer from store", "customerID", id, "messages", len(c.Messages))
		return c, nil
	}
	now := time.Now()
	slog.Debug("CustomerStore.load: creating new customer", "customerID", id)
	return &models.Customer{
		ID:        id,
		BotActive: true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Persist writes the customer through to the backing store. A write failure
// is logged as a warning and never rolls back the in-memory state; the live
// conversation proceeds even if durability lags.
func (s *CustomerStore) Persist(c *models.Customer) {
	c.UpdatedAt = time.Now()
	if err := s.backing.SaveCustomer(*c); err != nil {
		slog.Warn("CustomerStore.Persist: failed to persist customer", "customerID", c.ID, "error", err)
	}
}

// IDs returns a snapshot of all known customer IDs, sorted. The sweep
// iterates this snapshot so no lock spans the whole pass.
func (s *CustomerStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadAll re-populates the registry from the backing store on startup, so
// the sweep sees conversations that were live before a restart.
func (s *CustomerStore) LoadAll() error {
	ids, err := s.backing.ListCustomerIDs()
	if err != nil {
		return fmt.Errorf("failed to list customers for recovery: %w", err)
	}
	for _, id := range ids {
		if err := s.WithLock(id, func(c *models.Customer) error { return nil }); err != nil {
			slog.Warn("CustomerStore.LoadAll: failed to restore customer", "customerID", id, "error", err)
		}
	}
	slog.Info("CustomerStore.LoadAll: recovery complete", "customers", len(ids))
	return nil
}

// Append adds a message with the current timestamp. Caller holds the
// customer's lock.
func Append(c *models.Customer, role models.Role, content string) {
	c.Messages = append(c.Messages, models.Message{Role: role, Content: content, At: time.Now()})
}

// EnsureSystemPrompt idempotently guarantees the history starts with exactly
// one system entry at index 0. Caller holds the customer's lock.
func EnsureSystemPrompt(c *models.Customer, prompt string) {
	if len(c.Messages) > 0 && c.Messages[0].Role == models.RoleSystem {
		return
	}
	c.Messages = append([]models.Message{{Role: models.RoleSystem, Content: prompt, At: time.Now()}}, c.Messages...)
}

// Touch records inbound activity. Caller holds the customer's lock.
func Touch(c *models.Customer, now time.Time) {
	c.LastActivityAt = now
}
