package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reserveledger/config"
	"reserveledger/core/events"
	"reserveledger/core/genesis"
	"reserveledger/core/state"
	"reserveledger/core/state/layout"
	"reserveledger/gateway/middleware"
	"reserveledger/gateway/routes"
	"reserveledger/native/bank"
	"reserveledger/native/reserve"
	"reserveledger/observability/logging"
	"reserveledger/observability/metrics"
	telemetry "reserveledger/observability/otel"
	"reserveledger/storage"
)

const serviceName = "ledgerd"

func main() {
	cfgPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledgerd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	telemetryCfg := telemetry.FromTelemetry(serviceName, cfg.Environment, cfg.Telemetry)
	if telemetryCfg.Enabled() {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
		if err != nil {
			return fmt.Errorf("initialise telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	defer db.Close()
	store := storage.NewStore(db)
	if err := state.EnsureStateVersion(store); err != nil {
		return err
	}

	tokens, native := bank.NewTokens(), bank.NewNative()
	spec, err := genesis.FromConfig(cfg.Genesis)
	if err != nil {
		return err
	}
	applied, err := genesis.Apply(store, tokens, native, spec, reserve.LedgerIdentity)
	if err != nil {
		return err
	}
	if applied {
		logger.Info("genesis applied",
			slog.String("mint", spec.TokenMint.String()),
			slog.Int("allocations", len(spec.Allocations)))
	}

	engine, hub, err := newEngine(cfg, store, tokens, native, logger)
	if err != nil {
		return err
	}
	if s, err := engine.LedgerState(); err == nil {
		metrics.Ledger().ObserveLedger(s)
	} else if !errors.Is(err, reserve.ErrNotInitialized) {
		logger.Warn("ledger record not readable", slog.Any("error", err))
	}

	handler := routes.New(routes.Config{
		Ledger: engine,
		Stream: hub,
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.LimitLedger: {RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
			routes.LimitAudit:  {RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: true,
		}, logger),
		Logger: logger,
	})
	return serve(ctx, cfg.ListenAddress, handler, logger)
}

func newEngine(cfg *config.Config, store *storage.Store, tokens *bank.Tokens, native *bank.Native, logger *slog.Logger) (*reserve.Engine, *routes.Hub, error) {
	engine := reserve.NewEngine(store, tokens, native)
	if err := engine.SetParams(reserve.Params{
		StalenessWindow:    cfg.StalenessWindow(),
		MaxPurchasePerCall: cfg.Ledger.MaxPurchasePerCall,
		PriceBandDivisor:   cfg.Ledger.PriceBandDivisor,
	}); err != nil {
		return nil, nil, err
	}
	engine.SetRent(layout.Rent{
		LamportsPerByteYear: cfg.Rent.LamportsPerByteYear,
		ExemptionYears:      cfg.Rent.ExemptionYears,
	})
	hub := routes.NewHub(0, nil, logger)
	engine.SetLogger(logger.With(slog.String("component", "reserve")))
	engine.SetMetrics(metrics.Ledger())
	engine.SetEmitter(events.Fanout{metrics.Ledger(), hub})
	return engine, hub, nil
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
