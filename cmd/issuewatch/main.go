// Command issuewatch runs the ingestion coordinator, query facade, and
// /health endpoint on the main HTTP server, plus a second server on
// MetricsAddr serving only /metrics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Ap3pp3rs94/issuewatch/internal/deadletter"
	"github.com/Ap3pp3rs94/issuewatch/internal/httpapi"
	"github.com/Ap3pp3rs94/issuewatch/internal/metrics"
	"github.com/Ap3pp3rs94/issuewatch/internal/registry"
	"github.com/Ap3pp3rs94/issuewatch/internal/shard"
	"github.com/Ap3pp3rs94/issuewatch/internal/stream"
	"github.com/Ap3pp3rs94/issuewatch/pkg/config"
	"github.com/Ap3pp3rs94/issuewatch/pkg/telemetry"
)

const serviceName = "issuewatch"

func main() {
	cfgPath := os.Getenv("ISSUEWATCH_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		os.Stderr.WriteString("issuewatch: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := telemetry.New(os.Stdout, telemetry.Options{Service: serviceName})
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.RegistryDSN)
	if err != nil {
		log.Error(ctx, "registry open failed", map[string]any{"error": err})
		os.Exit(1)
	}
	defer db.Close()

	reg, err := registry.New(db)
	if err != nil {
		log.Error(ctx, "registry init failed", map[string]any{"error": err})
		os.Exit(1)
	}
	if err := reg.EnsureSchema(ctx); err != nil {
		log.Error(ctx, "registry schema failed", map[string]any{"error": err})
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.ShardDir, 0o755); err != nil {
		log.Error(ctx, "shard dir create failed", map[string]any{"error": err})
		os.Exit(1)
	}
	shards := shard.NewPool(cfg.ShardDir, cfg.ShardPoolSize)
	defer shards.CloseAll()

	mx := metrics.New()
	hub := stream.NewHub()
	ledger := deadletter.NewLedger(200)

	router := httpapi.NewRouter(httpapi.Config{
		Service:      serviceName,
		Env:          cfg.Env,
		Registry:     reg,
		RegistryDB:   db,
		Shards:       shards,
		DeadLetter:   ledger,
		Stream:       hub,
		Log:          log,
		Metrics:      mx,
		MaxBodyBytes: cfg.MaxEnvelopeBytes,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// /metrics gets its own listener, bound to MetricsAddr, so a scraper
	// never shares a port, timeout budget, or access log with dashboard/SDK
	// traffic served by srv.
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mx.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "listening", map[string]any{"addr": cfg.HTTPAddr})
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		log.Info(ctx, "metrics listening", map[string]any{"addr": cfg.MetricsAddr})
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info(ctx, "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server error", map[string]any{"error": err})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "shutdown error", map[string]any{"error": err})
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "metrics shutdown error", map[string]any{"error": err})
	}
	log.Info(ctx, "stopped", map[string]any{"addr": cfg.HTTPAddr})
}
