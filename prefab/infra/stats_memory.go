package infra

import (
	"context"
	"sync"

	"prefab-loader/prefab/domain"
)

type Counters struct {
	Hits    int64 `json:"hits"`
	Loaded  int64 `json:"loaded"`
	Failed  int64 `json:"failed"`
	Evicted int64 `json:"evicted"`
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeHit:
		c.Hits++
	case domain.OutcomeLoaded:
		c.Loaded++
	case domain.OutcomeFailed:
		c.Failed++
	case domain.OutcomeEvicted:
		c.Evicted++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byKind  map[string]int64
	byID    map[domain.ID]Counters
	trackID bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackIDs(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackID = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byKind: make(map[string]int64),
		byID:   make(map[domain.ID]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	if ev.Outcome == domain.OutcomeFailed {
		s.byKind[ev.Kind.String()]++
	}
	if s.trackID && ev.ID != "" {
		c := s.byID[ev.ID]
		c.add(ev.Outcome)
		s.byID[ev.ID] = c
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// FailuresByKind retorna uma cópia das falhas agrupadas por tipo de erro.
func (s *MemoryStatsStore) FailuresByKind() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byKind))
	for k, v := range s.byKind {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByID() map[domain.ID]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ID]Counters, len(s.byID))
	for k, v := range s.byID {
		out[k] = v
	}
	return out
}

// MultiStats repassa o evento para vários stores; o primeiro erro é retornado
// mas todos são chamados.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
