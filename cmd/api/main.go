package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/copygrid/trade-relay/internal/config"
	"github.com/copygrid/trade-relay/internal/httpserver"
	"github.com/copygrid/trade-relay/internal/relay"
	"github.com/copygrid/trade-relay/internal/store"
)

// main boots the service: config → store backend → state load → HTTP server.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	core, err := relay.NewCore(ctx, st, relay.Options{
		MaxEventsPerGroup: cfg.MaxEventsPerGroup,
		MaxEventAge:       cfg.MaxEventAge,
		SlaveActiveWindow: cfg.SlaveActiveWindow,
	})
	if err != nil {
		slog.Error("failed to load relay state", "err", err)
		os.Exit(1)
	}

	router := httpserver.NewRouter(cfg, core, st)

	slog.Info("server started", "addr", cfg.ListenAddr, "backend", cfg.Backend)
	if err := router.Run(cfg.ListenAddr); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// openStore selects the persistence backend from configuration.
func openStore(ctx context.Context, cfg config.Config) (relay.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return store.NewFile(cfg.DataDir)
	case config.BackendPostgres:
		return store.NewPostgres(ctx, cfg.DBURL)
	default:
		return store.NewMemory(), nil
	}
}
