package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/stresslens/stresslens/dashboard/internal/api"
	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/dashboard/internal/metrics"
	"github.com/stresslens/stresslens/dashboard/internal/store"
	"github.com/stresslens/stresslens/dashboard/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("stresslens-dashboard starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Dashboard.HTTPPort,
		"auth_mode", cfg.Dashboard.Auth.Mode,
		"sources", len(cfg.Dashboard.Sources),
		"cache_idle_ttl", cfg.Dashboard.Cache.IdleTTL,
	)

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Table cache with background idle eviction.
	st := store.New(cfg.Dashboard.Cache.IdleTTL, cfg.Dashboard.Conditions)
	go st.Run(ctx)

	// WebSocket hub: broadcasts the source list every BroadcastInterval and
	// a reload event whenever a data file changes.
	hub := ws.New(func() any {
		return api.BuildSources(ctx, current.Load(), st)
	}, cfg.Dashboard.BroadcastInterval)
	go hub.Run(ctx)

	m := metrics.New()
	m.SetCacheStats(st.Stats)
	m.SetClients(hub.Count)
	m.SetSourceRows(func() map[string]int {
		rows := make(map[string]int)
		for _, e := range st.List() {
			rows[e.Source.ID] = len(e.Result.Measurements)
		}
		return rows
	})

	// Data file watcher; restarted whenever the source list is reloaded.
	var stopFiles context.CancelFunc
	watchFiles := func(sources []config.Source) {
		if stopFiles != nil {
			stopFiles()
		}
		var fctx context.Context
		fctx, stopFiles = context.WithCancel(ctx)
		go func() {
			if err := st.WatchFiles(fctx, sources, hub.NotifyReload); err != nil {
				slog.Error("data file watcher stopped", "err", err)
			}
		}()
	}
	watchFiles(cfg.Dashboard.Sources)

	// Config hot reload. Sources, auth, rules and reference ranges apply
	// immediately; the port, cache TTL and condition labels need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			prev := current.Swap(updated)
			if updated.Dashboard.HTTPPort != prev.Dashboard.HTTPPort ||
				updated.Dashboard.Cache.IdleTTL != prev.Dashboard.Cache.IdleTTL {
				slog.Warn("config change requires restart to take effect",
					"http_port", updated.Dashboard.HTTPPort,
					"cache_idle_ttl", updated.Dashboard.Cache.IdleTTL,
				)
			}
			watchFiles(updated.Dashboard.Sources)
			for _, src := range updated.Dashboard.Sources {
				hub.NotifyReload(src.ID)
			}
			slog.Info("config hot-reloaded", "sources", len(updated.Dashboard.Sources))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Dashboard.HTTPPort),
		Handler: api.New(api.Options{
			Config:  current.Load,
			Store:   st,
			Metrics: m,
			Stream:  hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Dashboard.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("stresslens-dashboard shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
