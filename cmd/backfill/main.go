// Package main provides a one-shot candle backfill CLI: it queries one
// instrument's candles over a range, filling any gaps from the historical
// source, and prints a summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickvault/internal/candles"
	"tickvault/internal/candles/sources"
	"tickvault/internal/domain"
	"tickvault/internal/storage"
	chstore "tickvault/internal/storage/clickhouse"
	"tickvault/internal/storage/memory"
	"tickvault/internal/storage/migrations"
	pgstore "tickvault/internal/storage/postgres"
)

func main() {
	token := flag.Int64("token", 0, "Instrument token to backfill")
	fromStr := flag.String("from", "", "Range start (RFC3339)")
	toStr := flag.String("to", "", "Range end (RFC3339, default now)")
	timeframe := flag.String("timeframe", "1m", "Candle timeframe: 1m, 5m, 15m, 1h, 1d")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of ClickHouse")
	sourceName := flag.String("source", sources.Stub, "Historical candle source (supported: stub)")
	fetchRetries := flag.Int("fetch-retries", candles.DefaultFetchRetries, "Fetch attempts per gap")
	retryBackoff := flag.Duration("retry-backoff", candles.DefaultBackoffBase, "Initial backoff between gap fetch retries")

	flag.Parse()

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags)

	if *token == 0 {
		logger.Fatal("--token is required")
	}
	if *fromStr == "" {
		logger.Fatal("--from is required")
	}
	if !*useMemory && *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required (use --use-memory for in-memory storage)")
	}

	from, err := time.Parse(time.RFC3339, *fromStr)
	if err != nil {
		logger.Fatalf("Invalid --from: %v", err)
	}
	to := time.Now().UTC()
	if *toStr != "" {
		to, err = time.Parse(time.RFC3339, *toStr)
		if err != nil {
			logger.Fatalf("Invalid --to: %v", err)
		}
	}

	tf, err := domain.ParseTimeframe(*timeframe)
	if err != nil {
		logger.Fatalf("Invalid --timeframe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, cancelling...", sig)
		cancel()
	}()

	candleStore, instrumentStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	source, err := sources.Open(*sourceName)
	if err != nil {
		logger.Fatalf("Invalid --source: %v", err)
	}
	if *sourceName == sources.Stub {
		logger.Println("Historical source is the stub: gaps will stay unresolved")
	}

	service := candles.NewService(candles.ServiceOptions{
		CandleStore:  candleStore,
		Source:       source,
		FetchRetries: *fetchRetries,
		BackoffBase:  *retryBackoff,
		Logger:       logger,
	})

	symbol := fmt.Sprintf("%d", *token)
	if instrumentStore != nil {
		if inst, err := instrumentStore.GetByToken(ctx, *token); err == nil {
			symbol = inst.Symbol
		}
	}

	logger.Printf("Backfilling %s [%s] from %s to %s", symbol, tf, from.Format(time.RFC3339), to.Format(time.RFC3339))
	start := time.Now()

	result, err := service.GetCandles(ctx, *token, from, to, tf)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Fatal("Cancelled")
		}
		logger.Fatalf("Backfill failed: %v", err)
	}

	fmt.Printf("\nBackfill summary for %s [%s]\n", symbol, tf)
	fmt.Printf("  Range:      %s .. %s\n", from.Format(time.RFC3339), to.Format(time.RFC3339))
	fmt.Printf("  Candles:    %d\n", len(result.Candles))
	fmt.Printf("  Unresolved: %d gaps\n", len(result.Unresolved))
	for _, g := range result.Unresolved {
		fmt.Printf("    %s .. %s\n", g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339))
	}
	fmt.Printf("  Elapsed:    %v\n", time.Since(start).Round(time.Millisecond))

	if len(result.Unresolved) > 0 {
		os.Exit(2)
	}
}

// createStores builds the candle store and, when Postgres is configured,
// the instrument store used to resolve the symbol for output.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.CandleStore, storage.InstrumentStore, func(), error) {
	if useMemory {
		return memory.NewCandleStore(), memory.NewInstrumentStore(), func() {}, nil
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	cleanup := func() { chConn.Close() }

	var instrumentStore storage.InstrumentStore
	if postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			chConn.Close()
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		instrumentStore = pgstore.NewInstrumentStore(pool)
		cleanup = func() {
			pool.Close()
			chConn.Close()
		}
	}

	return chstore.NewCandleStore(chConn), instrumentStore, cleanup, nil
}

