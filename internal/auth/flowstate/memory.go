package flowstate

import (
	"context"
	"sync"
	"time"

	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

const janitorInterval = time.Minute

// MemoryStore keeps flows in process memory. Suitable for single-instance
// deployments and tests; multi-instance deployments need the Redis store.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]*FlowState
	done  chan struct{}
	once  sync.Once
}

// NewMemoryStore creates an in-memory flow store and starts its
// expiry janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		flows: make(map[string]*FlowState),
		done:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Put(ctx context.Context, flow *FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = flow
	metrics.ActiveFlows.Set(float64(len(s.flows)))
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, id string) (*FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.flows, id)
	metrics.ActiveFlows.Set(float64(len(s.flows)))

	// The janitor runs on an interval, so an expired flow can still be
	// present here.
	if flow.Expired() {
		return nil, ErrNotFound
	}
	return flow, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	metrics.ActiveFlows.Set(float64(len(s.flows)))
	return nil
}

// Close stops the expiry janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, flow := range s.flows {
		if flow.Expired() {
			delete(s.flows, id)
		}
	}
	metrics.ActiveFlows.Set(float64(len(s.flows)))
}

var _ Store = (*MemoryStore)(nil)
