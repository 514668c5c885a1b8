package memory

import (
	"context"
	"sync"

	"github.com/avelin/cexarb/internal/domain"
)

// ExecutionStore is the in-memory execution history used when Postgres is
// disabled.
type ExecutionStore struct {
	mu   sync.RWMutex
	recs []domain.ExecutionRecord
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{}
}

func (s *ExecutionStore) Create(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

// ListRecent returns the newest records first.
func (s *ExecutionStore) ListRecent(_ context.Context, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.recs) {
		limit = len(s.recs)
	}
	out := make([]domain.ExecutionRecord, 0, limit)
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}
