package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.InsertSettlement(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, agentKey(st.Buyer), agentKey(st.Seller))
	return nil
}

func (s *CachedStore) UpsertSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	if err := s.primary.UpsertSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheJSON(ctx, snapshotKey(snap.Market), snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSnapshot(ctx context.Context, market string) (*model.MarketSnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(market)).Bytes()
	if err == nil {
		var snap model.MarketSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.GetSnapshot(ctx, market)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, snapshotKey(market), snap)
	return snap, nil
}

func (s *CachedStore) SettlementsByAgent(ctx context.Context, agent string) ([]model.Settlement, error) {
	data, err := s.rdb.Get(ctx, agentKey(agent)).Bytes()
	if err == nil {
		var out []model.Settlement
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.primary.SettlementsByAgent(ctx, agent)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, agentKey(agent), out)
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SettlementsByMarket(ctx context.Context, market string) ([]model.Settlement, error) {
	return s.primary.SettlementsByMarket(ctx, market)
}

func (s *CachedStore) ListSnapshots(ctx context.Context) ([]model.MarketSnapshot, error) {
	return s.primary.ListSnapshots(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func snapshotKey(market string) string { return fmt.Sprintf("snapshot:%s", market) }
func agentKey(agent string) string     { return fmt.Sprintf("settlements:%s", agent) }
