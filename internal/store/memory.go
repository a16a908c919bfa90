package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/model"
)

// MemoryStore keeps requests in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*model.VerificationRequest
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*model.VerificationRequest)}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRequest(_ context.Context, req *model.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return eris.Errorf("memory: request %s already exists", req.ID)
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*model.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "memory: get request %s", id)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) UpdateRequest(_ context.Context, req *model.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return rejectedUpdate("memory", req, nil, model.ErrNotFound)
	}
	if stored.State != model.RequestPending || stored.Version != req.Version {
		return rejectedUpdate("memory", req, stored, nil)
	}
	req.Version++
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]*model.VerificationRequest, error) {
	s.mu.RLock()
	var out []*model.VerificationRequest
	for _, r := range s.requests {
		if filter.ProductID != "" && r.ProductID != filter.ProductID {
			continue
		}
		if filter.State != "" && r.State != filter.State {
			continue
		}
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	// Newest first, matching the SQL stores.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if limit := limitOrDefault(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
