package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/config"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/logging"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/server"
	"github.com/ngirimana/finindex/internal/service"
	"github.com/ngirimana/finindex/internal/session"
)

func main() {
	ephemeral := flag.Bool("ephemeral", false, "keep the session in memory instead of the session database")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	store, closeStore, err := session.Open(ctx, logger, cfg.Session, *ephemeral)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	client, err := remote.NewHTTPClient(remote.Options{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout})
	if err != nil {
		logger.Error("failed to create API client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	queryCache := cache.New(logger, cfg.Cache.KeepUnused)
	go queryCache.Run(ctx, cfg.Cache.SweepInterval)

	api := finapi.New(logger, client, queryCache, store)
	unsubscribe := store.Subscribe(api.OnSessionChange)
	defer unsubscribe()

	services := service.New(logger, api, store, service.Options{Workers: cfg.Cache.Workers})
	hub := server.NewHub(logger, store, cfg.HTTP.AllowedOrigins())

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.APIHealthService{API: api},
		Handlers:         server.NewHandlers(logger, services, api, cfg.Cache.PageStep),
		Hub:              hub,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins(),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router, hub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
