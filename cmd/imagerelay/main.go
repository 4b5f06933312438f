package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"imagerelay/internal/browser"
	"imagerelay/internal/config"
	"imagerelay/internal/generator"
	"imagerelay/internal/history"
	"imagerelay/internal/httpapi"
	"imagerelay/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("history store: in-memory")
	} else {
		log.Printf("history store: postgres")
	}

	manager := browser.NewManager(cfg)
	manager.SetRepairHook(func() { metrics.SessionRepairs.Inc() })
	defer func() {
		if err := manager.Shutdown(); err != nil {
			log.Printf("browser shutdown failed: %v", err)
		}
	}()

	notifier := generator.NewNotifier()
	orchestrator := generator.NewOrchestrator(
		cfg,
		manager,
		browser.NewSubmitter(cfg),
		browser.NewWaiter(manager.Selectors(), cfg.GenerationWait, cfg.PollInterval, cfg.GracePeriod),
		browser.NewExtractor(),
	).
		WithMetrics(metrics).
		WithHistory(store).
		WithNotifier(notifier)

	api := httpapi.New(cfg, orchestrator, manager, store, notifier)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s (target %s, launch policy %s)", cfg.BindAddr, cfg.TargetURL, cfg.LaunchPolicy)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
