package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	settlements []model.Settlement
	snapshots   map[string]model.MarketSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]model.MarketSnapshot),
	}
}

func (s *MemoryStore) InsertSettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.settlements {
		if existing.ID == st.ID {
			return fmt.Errorf("settlement %s already exists", st.ID)
		}
	}
	s.settlements = append(s.settlements, *st)
	return nil
}

func (s *MemoryStore) SettlementsByMarket(_ context.Context, market string) ([]model.Settlement, error) {
	return s.filter(func(st model.Settlement) bool { return st.Market == market }), nil
}

func (s *MemoryStore) SettlementsByAgent(_ context.Context, agent string) ([]model.Settlement, error) {
	return s.filter(func(st model.Settlement) bool { return st.Buyer == agent || st.Seller == agent }), nil
}

func (s *MemoryStore) filter(keep func(model.Settlement) bool) []model.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Settlement
	for _, st := range s.settlements {
		if keep(st) {
			out = append(out, st)
		}
	}
	return out
}

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap *model.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.Market] = *snap
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, market string) (*model.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[market]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", market, ErrNotFound)
	}
	return &snap, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context) ([]model.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MarketSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	slices.SortFunc(out, func(a, b model.MarketSnapshot) int { return strings.Compare(a.Market, b.Market) })
	return out, nil
}
