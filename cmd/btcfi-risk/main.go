package main

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/chain"
	"BTCFiRisk/internal/config"
	"BTCFiRisk/internal/ingestion"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/oracle"
	"BTCFiRisk/internal/persistence"
	"BTCFiRisk/internal/server"
	"BTCFiRisk/internal/state"
	"BTCFiRisk/internal/validator"
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	resultChanSize   = 1024
	actionRetention  = time.Hour
	cleanupInterval  = 10 * time.Minute
	publishTimeout   = 5 * time.Second
	shutdownDeadline = 10 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: btcfi-risk starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir).Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")
	healthChecker.Register("postgres", db.PingContext)

	// --- External ledger (lending contract) ---
	retry := chain.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Chain.MaxRetries
	contract, rpcClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, chain.Config{
		Address:       common.HexToAddress(cfg.Chain.ContractAddress),
		DebtDecimals:  cfg.Chain.DebtDecimals,
		PriceDecimals: cfg.Chain.PriceDecimals,
		CallTimeout:   cfg.Chain.CallTimeout,
		RateLimit:     cfg.Chain.RateLimit,
		RateBurst:     cfg.Chain.RateBurst,
		Retry:         retry,
	}, metrics)
	if err != nil {
		log.Fatalf("FATAL: connect lending contract: %v", err)
	}
	defer rpcClient.Close()
	if err := contract.Ping(ctx); err != nil {
		log.Printf("WARN: rpc not reachable yet: %v", err)
	}
	healthChecker.Register("rpc", contract.Ping)
	log.Printf("INFO: lending contract %s via %s", cfg.Chain.ContractAddress, cfg.Chain.RPCURL)

	// --- Position cache ---
	var cache ledger.Cache = ledger.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		redisCache, err := ledger.NewRedisCache(ledger.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.PositionTTL,
		})
		if err != nil {
			log.Fatalf("FATAL: redis cache: %v", err)
		}
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatalf("FATAL: redis ping: %v", err)
		}
		healthChecker.Register("redis", redisCache.Ping)
		cache = redisCache
		log.Printf("INFO: Redis position cache at %s", cfg.Redis.Addr)
	} else {
		log.Println("INFO: in-memory position cache")
	}

	// --- Core: ledger, oracle, risk gate ---
	positions := ledger.New(contract, cache, metrics)
	quotes := oracle.NewAdapter(contract, cfg.Chain.OracleTimeout, metrics)
	calc := state.NewRiskCalculator(cfg.RiskParams())
	gate := validator.NewGate(positions, quotes, calc, cfg.Risk.MaxQuoteAge, metrics).
		WithDriftDetector(validator.NewDriftDetector(contract, cfg.Risk.DriftToleranceHundredths, metrics))

	// --- Action lifecycle ---
	tracker := action.NewTracker(persistence.NewActionStore(db), metrics)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")
	healthChecker.Register("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}

	resultChan := make(chan ingestion.RawEvent, resultChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, resultChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}
	resultProcessor := ingestion.NewResultProcessor(resultChan, tracker, positions, metrics)
	publisher := ingestion.NewIntentPublisher(js, publishTimeout, metrics)

	// --- API server ---
	api := server.NewAPI(gate, positions, tracker, publisher, metrics)
	srv := server.NewServer(cfg.Server, api, healthChecker, registry)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Execution results
	go func() {
		errChan <- resultProcessor.Run(ctx)
	}()

	// 2. gRPC health + reflection
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()

	// 3. HTTP/JSON API
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()

	// 4. Prometheus metrics
	go func() {
		errChan <- srv.StartMetrics(ctx)
	}()

	// 5. Terminal action pruning
	go func() {
		runActionCleanup(ctx, tracker)
	}()

	srv.SetServing(true)
	log.Printf("INFO: btcfi-risk ready (threshold=%d bps, grpc=%s, http=%s, metrics=%s)",
		cfg.Risk.ThresholdBps, cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, cfg.Server.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	srv.SetServing(false)
	natsSubscriber.Stop()
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer drainCancel()
	if err := nc.FlushWithContext(drainCtx); err != nil {
		log.Printf("WARN: NATS flush: %v", err)
	}

	log.Println("INFO: btcfi-risk shutdown complete")
}

// runActionCleanup drops terminal actions from memory once they are older
// than actionRetention. Postgres keeps the full history.
func runActionCleanup(ctx context.Context, tracker *action.Tracker) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tracker.CleanupTerminal(time.Now().Add(-actionRetention)); n > 0 {
				log.Printf("INFO: pruned %d terminal actions", n)
			}
		}
	}
}
