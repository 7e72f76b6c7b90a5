package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainpay/config"
	"chainpay/engine"
	"chainpay/observability"
	"chainpay/observability/logging"
	"chainpay/payuri"
	"chainpay/server"
	"chainpay/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("chainpayd", cfg.Environment)

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	registry := payuri.DefaultRegistry()
	if cfg.TokenRegistryPath != "" {
		registry, err = payuri.LoadRegistry(cfg.TokenRegistryPath)
		if err != nil {
			log.Fatalf("load token registry: %v", err)
		}
	}

	metrics := observability.NewMetrics("chainpay", "chainpayd")
	eng := engine.New(engine.Config{
		Store:          store,
		Wallets:        store,
		URIs:           payuri.NewBuilder(registry),
		Metrics:        metrics,
		Log:            logger,
		BaseURL:        cfg.BaseURL,
		LinkTTL:        cfg.LinkTTL,
		DefaultChainID: cfg.DefaultChainID,
		DefaultToken:   cfg.DefaultToken,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := engine.NewSweeper(engine.SweeperConfig{
		Engine:    eng,
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatch,
		Log:       logger,
	})
	go sweeper.Start(ctx)

	api := server.New(server.Config{Engine: eng, Metrics: metrics})
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: api.Handler(),
	}

	go func() {
		logger.Info("chainpayd listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down chainpayd")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
	}
}
