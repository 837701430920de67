// Command dispatchd runs the dispatch service: the HTTP API, the offer
// coordinator with its expiry sweep and, optionally, the provider wire
// protocol.
//
// Usage:
//
//	dispatchd -config dispatchd.yaml
//
// Every file setting has a DISPATCH_* environment override, e.g.
// DISPATCH_STORE_DRIVER=postgres DISPATCH_STORE_DSN=postgres://... dispatchd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/forge"
	"golang.org/x/sync/errgroup"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/api"
	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/engine"
)

func main() {
	configPath := flag.String("config", os.Getenv("DISPATCH_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dispatchd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	s, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
	}()
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	d, err := dispatch.New(
		dispatch.WithConfig(cfg.Dispatch),
		dispatch.WithStore(s),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	engOpts := []engine.Option{engine.WithTaskTimeout(cfg.TaskTimeout)}
	if cfg.Weights != nil {
		engOpts = append(engOpts, engine.WithWeights(*cfg.Weights))
	}
	if cfg.DWP.Enabled {
		engOpts = append(engOpts, engine.WithStreamBroker())
	}
	eng, err := engine.Build(d, engOpts...)
	if err != nil {
		return err
	}

	router := forge.NewRouter()
	if err := api.New(eng, router).RegisterRoutes(router); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}
	if broker := eng.StreamBroker(); broker != nil {
		dwpOpts := []dwp.Option{dwp.WithLogger(logger), dwp.WithPath(cfg.DWP.Path)}
		if len(cfg.DWP.Keys) > 0 {
			dwpOpts = append(dwpOpts, dwp.WithAuth(apiKeys(cfg.DWP.Keys)))
		}
		handler := dwp.NewHandler(eng.Coordinator(), broker, logger)
		dwp.NewServer(broker, handler, dwpOpts...).RegisterRoutes(router)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatchd listening",
			slog.String("addr", cfg.Listen),
			slog.String("store", cfg.Store.Driver),
			slog.Bool("dwp", cfg.DWP.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), eng.Stop(shutdownCtx))
	})
	return g.Wait()
}

func apiKeys(keys []DWPKey) *dwp.APIKeyAuthenticator {
	entries := make([]dwp.APIKeyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, dwp.APIKeyEntry{
			Token:    k.Token,
			Identity: dwp.Identity{Subject: k.Subject, Scopes: k.Scopes},
		})
	}
	return dwp.NewAPIKeyAuthenticator(entries...)
}
