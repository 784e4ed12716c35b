package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boerz-coding/camel/internal/storage"
)

// Store is an in-memory implementation of UsageStore
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.UsageRecord
	order   []string
}

var _ storage.UsageStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]*storage.UsageRecord),
	}
}

func (s *Store) RecordUsage(ctx context.Context, rec *storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("usage record %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	stored := *rec
	s.records[rec.ID] = &stored
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *Store) GetUsage(ctx context.Context, id string) (*storage.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("usage record %s: %w", id, storage.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListUsage(ctx context.Context, opts storage.ListOptions) ([]*storage.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.UsageRecord
	// Walk newest insertion first so equal timestamps keep that order.
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if opts.Model != "" && rec.Model != opts.Model {
			continue
		}
		if opts.APIKey != "" && rec.APIKey != opts.APIKey {
			continue
		}
		out := *rec
		result = append(result, &out)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := opts.Limit
	if limit == 0 {
		limit = storage.DefaultListLimit
	}
	if opts.Offset >= len(result) {
		return nil, nil
	}
	result = result[opts.Offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
