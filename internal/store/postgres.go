package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			id             TEXT PRIMARY KEY,
			market         TEXT NOT NULL,
			order_id       BIGINT NOT NULL,
			buyer          TEXT NOT NULL,
			seller         TEXT NOT NULL,
			amount         NUMERIC NOT NULL,
			price_per_unit NUMERIC NOT NULL,
			total          NUMERIC NOT NULL,
			timestamp      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_market ON settlements (market, timestamp);
		CREATE INDEX IF NOT EXISTS idx_settlements_buyer ON settlements (buyer);
		CREATE INDEX IF NOT EXISTS idx_settlements_seller ON settlements (seller);

		CREATE TABLE IF NOT EXISTS market_snapshots (
			market         TEXT PRIMARY KEY,
			marginal_price NUMERIC,
			depth          NUMERIC NOT NULL,
			order_count    INTEGER NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (id, market, order_id, buyer, seller, amount, price_per_unit, total, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		st.ID, st.Market, int64(st.OrderID), st.Buyer, st.Seller,
		st.Amount.String(), st.PricePerUnit.String(), st.Total.String(),
		st.Timestamp,
	)
	return err
}

func (s *PostgresStore) SettlementsByMarket(ctx context.Context, market string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market, order_id, buyer, seller,
		        amount::TEXT, price_per_unit::TEXT, total::TEXT, timestamp
		 FROM settlements WHERE market = $1 ORDER BY timestamp`, market)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func (s *PostgresStore) SettlementsByAgent(ctx context.Context, agent string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market, order_id, buyer, seller,
		        amount::TEXT, price_per_unit::TEXT, total::TEXT, timestamp
		 FROM settlements WHERE buyer = $1 OR seller = $1 ORDER BY timestamp`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	var marginal *string
	if snap.MarginalPrice.Valid {
		v := snap.MarginalPrice.Decimal.String()
		marginal = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_snapshots (market, marginal_price, depth, order_count, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5)
		 ON CONFLICT (market) DO UPDATE
		 SET marginal_price = EXCLUDED.marginal_price, depth = EXCLUDED.depth,
		     order_count = EXCLUDED.order_count, updated_at = EXCLUDED.updated_at`,
		snap.Market, marginal, snap.Depth.String(), snap.OrderCount, snap.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, market string) (*model.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market, marginal_price::TEXT, depth::TEXT, order_count, updated_at
		 FROM market_snapshots WHERE market = $1`, market)

	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", market, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", market, err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]model.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market, marginal_price::TEXT, depth::TEXT, order_count, updated_at
		 FROM market_snapshots ORDER BY market`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.MarketSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type pgxRow interface {
	Scan(dest ...any) error
}

type pgxRows interface {
	pgxRow
	Next() bool
	Err() error
}

func scanSnapshot(row pgxRow) (model.MarketSnapshot, error) {
	var snap model.MarketSnapshot
	var marginalS *string
	var depthS string

	if err := row.Scan(&snap.Market, &marginalS, &depthS, &snap.OrderCount, &snap.UpdatedAt); err != nil {
		return snap, err
	}
	if marginalS != nil {
		d, _ := decimal.NewFromString(*marginalS)
		snap.MarginalPrice = decimal.NewNullDecimal(d)
	}
	snap.Depth, _ = decimal.NewFromString(depthS)
	return snap, nil
}

// scanSettlements reads pgx rows into Settlement slices.
func scanSettlements(rows pgxRows) ([]model.Settlement, error) {
	var out []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var orderID int64
		var amountS, priceS, totalS string

		if err := rows.Scan(&st.ID, &st.Market, &orderID, &st.Buyer, &st.Seller,
			&amountS, &priceS, &totalS, &st.Timestamp); err != nil {
			return nil, err
		}

		st.OrderID = uint64(orderID)
		st.Amount, _ = decimal.NewFromString(amountS)
		st.PricePerUnit, _ = decimal.NewFromString(priceS)
		st.Total, _ = decimal.NewFromString(totalS)

		out = append(out, st)
	}
	return out, rows.Err()
}
