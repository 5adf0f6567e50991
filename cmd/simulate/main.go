// Command simulate runs the headless economy and prints a per-tick summary
// as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/uwol/computational-economy-sub002/internal/config"
	"github.com/uwol/computational-economy-sub002/internal/ledger"
	"github.com/uwol/computational-economy-sub002/internal/market"
	"github.com/uwol/computational-economy-sub002/internal/optimizer"
	"github.com/uwol/computational-economy-sub002/internal/sim"
	"github.com/uwol/computational-economy-sub002/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	simCfg := sim.DefaultConfig()
	flag.Int64Var(&simCfg.Seed, "seed", cfg.SimSeed, "random seed for agent order")
	flag.IntVar(&simCfg.Ticks, "ticks", cfg.SimTicks, "number of ticks to run")
	flag.IntVar(&simCfg.Households, "households", cfg.SimHouseholds, "number of households")
	flag.IntVar(&simCfg.Factories, "factories", cfg.SimFactories, "number of factories")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite file to persist settlements to (empty keeps them in memory)")
	flag.Parse()

	// Logs go to stderr; stdout carries the tick reports.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store = store.NewMemoryStore()
	if *dbPath != "" {
		sq, err := store.OpenSQLite(*dbPath)
		if err != nil {
			slog.Error("open SQLite failed", "path", *dbPath, "err", err)
			os.Exit(1)
		}
		defer sq.Close()
		st = sq
	}

	bank := ledger.NewBank()
	inventory := ledger.NewInventory()
	mkt := market.New(bank, inventory,
		market.WithStore(st),
		market.WithOptimizer(optimizer.New(optimizer.WithIterations(cfg.OptimizerIterations))),
	)

	economy, err := sim.New(simCfg, mkt, bank, inventory)
	if err != nil {
		slog.Error("simulation setup failed", "err", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for range simCfg.Ticks {
		if ctx.Err() != nil {
			slog.Warn("simulation interrupted")
			break
		}
		rep, err := economy.Step(ctx)
		if err != nil {
			slog.Error("simulation failed", "err", err)
			os.Exit(1)
		}
		if err := enc.Encode(rep); err != nil {
			slog.Error("write report failed", "err", err)
			os.Exit(1)
		}
	}

	slog.Info("simulation finished",
		"seed", simCfg.Seed,
		"money_supply", economy.MoneySupply(),
	)
}
