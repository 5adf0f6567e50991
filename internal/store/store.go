// Package store defines the persistence interface for settlement records and
// market snapshots. Implementations include PostgreSQL (source of truth),
// SQLite (headless simulations), Redis (read-through cache) and in-memory
// (for testing).
package store

import (
	"context"
	"errors"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Live order books stay in memory; the
// store only keeps what has already happened.
type Store interface {
	// --- Immutable settlement records ---

	// InsertSettlement appends a settlement record.
	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// SettlementsByMarket returns all settlements of a market, oldest first.
	SettlementsByMarket(ctx context.Context, market string) ([]model.Settlement, error)

	// SettlementsByAgent returns all settlements an agent took part in as
	// buyer or seller, oldest first.
	SettlementsByAgent(ctx context.Context, agent string) ([]model.Settlement, error)

	// --- Market snapshots ---

	// UpsertSnapshot replaces the snapshot of snap.Market.
	UpsertSnapshot(ctx context.Context, snap *model.MarketSnapshot) error

	// GetSnapshot returns the latest snapshot of a market or ErrNotFound.
	GetSnapshot(ctx context.Context, market string) (*model.MarketSnapshot, error)

	// ListSnapshots returns the latest snapshot of every market, ordered by
	// market.
	ListSnapshots(ctx context.Context) ([]model.MarketSnapshot, error)
}
