package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// SQLiteStore implements Store on a single SQLite file. Decimals are stored
// as TEXT so no precision is lost.
type SQLiteStore struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a SQLite database at path. ":memory:" opens a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settlements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		market TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		buyer TEXT NOT NULL,
		seller TEXT NOT NULL,
		amount TEXT NOT NULL,
		price_per_unit TEXT NOT NULL,
		total TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_snapshots (
		market TEXT PRIMARY KEY,
		marginal_price TEXT,
		depth TEXT NOT NULL,
		order_count INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_market ON settlements(market);
	CREATE INDEX IF NOT EXISTS idx_settlements_buyer ON settlements(buyer);
	CREATE INDEX IF NOT EXISTS idx_settlements_seller ON settlements(seller);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLiteStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	_, err := s.conn.NamedExecContext(ctx,
		`INSERT INTO settlements (id, market, order_id, buyer, seller, amount, price_per_unit, total, timestamp)
		 VALUES (:id, :market, :order_id, :buyer, :seller, :amount, :price_per_unit, :total, :timestamp)`,
		st)
	return err
}

const settlementColumns = `id, market, order_id, buyer, seller, amount, price_per_unit, total, timestamp`

func (s *SQLiteStore) SettlementsByMarket(ctx context.Context, market string) ([]model.Settlement, error) {
	var out []model.Settlement
	err := s.conn.SelectContext(ctx, &out,
		`SELECT `+settlementColumns+` FROM settlements WHERE market = ? ORDER BY seq`, market)
	return out, err
}

func (s *SQLiteStore) SettlementsByAgent(ctx context.Context, agent string) ([]model.Settlement, error) {
	var out []model.Settlement
	err := s.conn.SelectContext(ctx, &out,
		`SELECT `+settlementColumns+` FROM settlements WHERE buyer = ? OR seller = ? ORDER BY seq`, agent, agent)
	return out, err
}

func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	_, err := s.conn.NamedExecContext(ctx,
		`INSERT INTO market_snapshots (market, marginal_price, depth, order_count, updated_at)
		 VALUES (:market, :marginal_price, :depth, :order_count, :updated_at)
		 ON CONFLICT (market) DO UPDATE
		 SET marginal_price = excluded.marginal_price, depth = excluded.depth,
		     order_count = excluded.order_count, updated_at = excluded.updated_at`,
		snap)
	return err
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, market string) (*model.MarketSnapshot, error) {
	var snap model.MarketSnapshot
	err := s.conn.GetContext(ctx, &snap,
		`SELECT market, marginal_price, depth, order_count, updated_at FROM market_snapshots WHERE market = ?`, market)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", market, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]model.MarketSnapshot, error) {
	var out []model.MarketSnapshot
	err := s.conn.SelectContext(ctx, &out,
		`SELECT market, marginal_price, depth, order_count, updated_at FROM market_snapshots ORDER BY market`)
	return out, err
}
