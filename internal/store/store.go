// Package store provides storage backends for SalesPipe.
//
// It persists customer conversations and conversation summaries. An in-memory
// store backs tests and DSN-less deployments; SQLite and PostgreSQL stores
// provide durability. Persistence is best-effort for the live conversation
// path: write failures are logged by callers and never roll back in-memory
// state.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/valueplus/salespipe/internal/models"
)

// Store is the persistence contract consumed by the conversation core.
// Get methods return (nil, nil) when no record exists.
type Store interface {
	SaveCustomer(c models.Customer) error
	GetCustomer(id string) (*models.Customer, error)
	ListCustomerIDs() ([]string, error)
	SaveSummary(rec models.SummaryRecord) error
	GetSummary(customerID string) (*models.SummaryRecord, error)
	ListSummaries() ([]models.SummaryRecord, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs and "sqlite"
// for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a map-backed Store used for tests and DSN-less runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	customers map[string]models.Customer
	summaries map[string]models.SummaryRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		customers: make(map[string]models.Customer),
		summaries: make(map[string]models.SummaryRecord),
	}
}

// SaveCustomer stores or replaces a customer record.
func (s *InMemoryStore) SaveCustomer(c models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
	return nil
}

// GetCustomer retrieves a customer record, or (nil, nil) if absent.
func (s *InMemoryStore) GetCustomer(id string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// ListCustomerIDs returns all known customer IDs in sorted order.
func (s *InMemoryStore) ListCustomerIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.customers))
	for id := range s.customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveSummary upserts a summary record keyed by customer ID.
func (s *InMemoryStore) SaveSummary(rec models.SummaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[rec.CustomerID] = rec
	return nil
}

// GetSummary retrieves a summary record, or (nil, nil) if absent.
func (s *InMemoryStore) GetSummary(customerID string) (*models.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.summaries[customerID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListSummaries returns all summary records, newest first.
func (s *InMemoryStore) ListSummaries() ([]models.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]models.SummaryRecord, 0, len(s.summaries))
	for _, rec := range s.summaries {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
	return recs, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
