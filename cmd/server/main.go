// Package main provides the unified tickvault server:
// - Tick ingestion: buffered writes into ClickHouse, fed over WebSocket
// - Candle API: gap-detecting reads with on-demand backfill
// - Auto-backfill: scheduled staleness sweep over the instrument master
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"tickvault/internal/backfill"
	"tickvault/internal/candles"
	"tickvault/internal/candles/sources"
	"tickvault/internal/domain"
	"tickvault/internal/gaps"
	"tickvault/internal/ingestion"
	"tickvault/internal/observability"
	"tickvault/internal/storage"
	chstore "tickvault/internal/storage/clickhouse"
	"tickvault/internal/storage/memory"
	"tickvault/internal/storage/migrations"
	pgstore "tickvault/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	addr             string
	backfillInterval time.Duration

	stores        *allStores
	buffer        *ingestion.Buffer
	candleService *candles.Service
	backfillRun   *backfill.Runner
	metrics       *observability.Metrics
	logger        *log.Logger

	upgrader websocket.Upgrader

	mu             sync.Mutex
	started        time.Time
	ingestClients  int
	ticksReceived  int64
	lastTickAt     time.Time
	backfillActive bool
}

// allStores holds all storage implementations.
type allStores struct {
	tickStore       storage.TickStore
	candleStore     storage.CandleStore
	instrumentStore storage.InstrumentStore
	statusStore     storage.BackfillStatusStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", envOr("TICKVAULT_ADDR", ":8000"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	bufferCapacity := flag.Int("buffer-capacity", ingestion.DefaultCapacity, "Pending tick count that triggers a flush")
	flushInterval := flag.Duration("flush-interval", ingestion.DefaultFlushInterval, "Periodic tick flush interval")
	maxFlushFailures := flag.Int("max-flush-failures", ingestion.DefaultMaxFailures, "Consecutive flush failures before shutdown")
	sourceName := flag.String("source", envOr("TICKVAULT_SOURCE", sources.Stub), "Historical candle source (supported: stub)")
	fetchRetries := flag.Int("fetch-retries", candles.DefaultFetchRetries, "Fetch attempts per gap")
	retryBackoff := flag.Duration("retry-backoff", candles.DefaultBackoffBase, "Initial backoff between gap fetch retries")
	backfillInterval := flag.Duration("backfill-interval", time.Hour, "Auto-backfill sweep interval (0 to disable)")
	backfillLookback := flag.Duration("backfill-lookback", 7*24*time.Hour, "Range each auto-backfill run covers")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("")

	// Tick ingestion buffer. A fatal flush failure takes the whole
	// server down rather than silently dropping ticks.
	buffer := ingestion.NewBuffer(ingestion.BufferOptions{
		Store:         stores.tickStore,
		Capacity:      *bufferCapacity,
		FlushInterval: *flushInterval,
		MaxFailures:   *maxFlushFailures,
		OnFatal: func(err error) {
			logger.Printf("Tick buffer fatal: %v, shutting down", err)
			cancel()
		},
		Logger:  log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile),
		Metrics: metrics,
	})

	source, err := sources.Open(*sourceName)
	if err != nil {
		logger.Fatalf("Invalid --source: %v", err)
	}
	if *sourceName == sources.Stub {
		logger.Println("Historical source is the stub: backfills will return no data")
	}

	candleService := candles.NewService(candles.ServiceOptions{
		CandleStore:  stores.candleStore,
		Source:       source,
		FetchRetries: *fetchRetries,
		BackoffBase:  *retryBackoff,
		Logger:       log.New(os.Stdout, "[candles] ", log.LstdFlags|log.Lshortfile),
		Metrics:      metrics,
	})

	var backfillRunner *backfill.Runner
	if *backfillInterval > 0 {
		backfillRunner = backfill.NewRunner(backfill.RunnerOptions{
			InstrumentStore: stores.instrumentStore,
			StatusStore:     stores.statusStore,
			CandleService:   candleService,
			Interval:        *backfillInterval,
			Lookback:        *backfillLookback,
			Logger:          log.New(os.Stdout, "[backfill] ", log.LstdFlags|log.Lshortfile),
			Metrics:         metrics,
		})
	}

	server := &Server{
		addr:             *addr,
		backfillInterval: *backfillInterval,
		stores:           stores,
		buffer:           buffer,
		candleService:    candleService,
		backfillRun:      backfillRunner,
		metrics:          metrics,
		logger:           logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores and applies migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			tickStore:       memory.NewTickStore(),
			candleStore:     memory.NewCandleStore(),
			instrumentStore: memory.NewInstrumentStore(),
			statusStore:     memory.NewBackfillStatusStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL: instrument master and backfill bookkeeping
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse: tick and candle timeseries
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	logger.Println("Migrations applied")

	stores := &allStores{
		tickStore:       chstore.NewTickStore(chConn),
		candleStore:     chstore.NewCandleStore(chConn),
		instrumentStore: pgstore.NewInstrumentStore(pool),
		statusStore:     pgstore.NewBackfillStatusStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run starts all components and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting tickvault server...")

	if err := s.buffer.Start(); err != nil {
		return fmt.Errorf("start tick buffer: %w", err)
	}

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	errCh := make(chan error, 2)

	if s.backfillRun != nil {
		go func() {
			s.mu.Lock()
			s.backfillActive = true
			s.mu.Unlock()
			if err := s.backfillRun.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("backfill runner: %w", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	// Shutdown: stop accepting HTTP first, then drain the tick buffer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP shutdown error: %v", err)
	}
	if err := s.buffer.Stop(shutdownCtx); err != nil {
		s.logger.Printf("Tick buffer stop error: %v", err)
	}

	return runErr
}

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/candles", s.handleCandles)
	mux.HandleFunc("/api/instruments", s.handleInstruments)
	mux.HandleFunc("/ws/ingest", s.handleIngest)

	return mux
}

// tickMessage is the wire format accepted on /ws/ingest.
type tickMessage struct {
	Time            time.Time `json:"time"`
	InstrumentToken int64     `json:"instrument_token"`
	LastPrice       *float64  `json:"last_price,omitempty"`
	Volume          *int64    `json:"volume,omitempty"`
	OpenInterest    *int64    `json:"open_interest,omitempty"`
	BidPrice        *float64  `json:"bid_price,omitempty"`
	AskPrice        *float64  `json:"ask_price,omitempty"`
	BidQty          *int64    `json:"bid_qty,omitempty"`
	AskQty          *int64    `json:"ask_qty,omitempty"`
}

// handleIngest accepts a WebSocket connection streaming JSON ticks and
// feeds them into the ingestion buffer.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.ingestClients++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ingestClients--
		s.mu.Unlock()
	}()

	s.logger.Printf("Ingest client connected: %s", r.RemoteAddr)

	for {
		var msg tickMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("Ingest client error: %v", err)
			}
			return
		}

		if msg.InstrumentToken == 0 || msg.Time.IsZero() {
			s.logger.Printf("Dropping malformed tick from %s", r.RemoteAddr)
			continue
		}

		tick := &domain.Tick{
			Time:            msg.Time,
			InstrumentToken: msg.InstrumentToken,
			LastPrice:       msg.LastPrice,
			Volume:          msg.Volume,
			OpenInterest:    msg.OpenInterest,
			BidPrice:        msg.BidPrice,
			AskPrice:        msg.AskPrice,
			BidQty:          msg.BidQty,
			AskQty:          msg.AskQty,
		}

		if err := s.buffer.Accept(tick); err != nil {
			s.logger.Printf("Tick rejected: %v", err)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "ingestion unavailable"),
				time.Now().Add(time.Second))
			return
		}

		s.mu.Lock()
		s.ticksReceived++
		s.lastTickAt = time.Now()
		s.mu.Unlock()
	}
}

// candleResponse is the JSON shape for one candle.
type candleResponse struct {
	Bucket       time.Time `json:"bucket"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
}

type candlesResponse struct {
	InstrumentToken int64            `json:"instrument_token"`
	Timeframe       string           `json:"timeframe"`
	Candles         []candleResponse `json:"candles"`
	Unresolved      []gapResponse    `json:"unresolved_gaps,omitempty"`
}

type gapResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// handleCandles serves GET /api/candles?token=&from=&to=&timeframe=.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, err := strconv.ParseInt(r.URL.Query().Get("token"), 10, 64)
	if err != nil || token == 0 {
		http.Error(w, "invalid or missing token", http.StatusBadRequest)
		return
	}

	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from (want RFC3339)", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to (want RFC3339)", http.StatusBadRequest)
		return
	}

	tfParam := r.URL.Query().Get("timeframe")
	if tfParam == "" {
		tfParam = string(domain.Timeframe1m)
	}
	tf, err := domain.ParseTimeframe(tfParam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.candleService.GetCandles(r.Context(), token, from, to, tf)
	if err != nil {
		switch {
		case errors.Is(err, gaps.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedTimeframe):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Printf("Candle query failed: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	resp := candlesResponse{
		InstrumentToken: token,
		Timeframe:       string(tf),
		Candles:         make([]candleResponse, 0, len(result.Candles)),
	}
	for _, c := range result.Candles {
		resp.Candles = append(resp.Candles, candleResponse{
			Bucket:       c.Bucket,
			Open:         c.Open,
			High:         c.High,
			Low:          c.Low,
			Close:        c.Close,
			Volume:       c.Volume,
			OpenInterest: c.OpenInterest,
		})
	}
	for _, g := range result.Unresolved {
		resp.Unresolved = append(resp.Unresolved, gapResponse{Start: g.Start, End: g.End})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// instrumentResponse is the JSON shape for one instrument.
type instrumentResponse struct {
	Token          int64  `json:"token"`
	Symbol         string `json:"symbol"`
	Exchange       string `json:"exchange"`
	Segment        string `json:"segment"`
	InstrumentType string `json:"instrument_type"`
	LotSize        int    `json:"lot_size"`
}

// handleInstruments serves GET /api/instruments?q=&limit= (search) and
// GET /api/instruments (tradable listing).
func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		instruments []*domain.Instrument
		err         error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			limit, err = strconv.Atoi(l)
			if err != nil || limit <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
		}
		instruments, err = s.stores.instrumentStore.Search(r.Context(), q, limit)
	} else {
		instruments, err = s.stores.instrumentStore.ListTradable(r.Context())
	}
	if err != nil {
		s.logger.Printf("Instrument query failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make([]instrumentResponse, 0, len(instruments))
	for _, inst := range instruments {
		resp = append(resp, instrumentResponse{
			Token:          inst.Token,
			Symbol:         inst.Symbol,
			Exchange:       inst.Exchange,
			Segment:        inst.Segment,
			InstrumentType: inst.InstrumentType,
			LotSize:        inst.LotSize,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status         string    `json:"status"`
	Uptime         string    `json:"uptime"`
	IngestClients  int       `json:"ingest_clients"`
	TicksReceived  int64     `json:"ticks_received"`
	PendingTicks   int       `json:"pending_ticks"`
	LastTickAt     time.Time `json:"last_tick_at,omitempty"`
	BackfillActive bool      `json:"backfill_active"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:         "running",
		Uptime:         time.Since(s.started).String(),
		IngestClients:  s.ingestClients,
		TicksReceived:  s.ticksReceived,
		LastTickAt:     s.lastTickAt,
		BackfillActive: s.backfillActive,
	}
	s.mu.Unlock()
	resp.PendingTicks = s.buffer.PendingCount()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
