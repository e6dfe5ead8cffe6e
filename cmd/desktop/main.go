// Package main provides the local sync server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8787.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fitsync/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/fitsync/backend/internal/app"
	"github.com/kimhsiao/fitsync/backend/internal/config"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Error("Desktop server stopped", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	userID := flag.String("user", os.Getenv("FITSYNC_USER"), "user to sign in at startup")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	app.InitLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer core.Close()

	hub := NewWSHub()
	core.Sync.SetEventHandler(hub.BroadcastEvent)

	if *userID != "" {
		if err := core.SignIn(ctx, *userID); err != nil {
			return err
		}
	}
	core.Start(ctx)

	router, err := newRouter(core, hub)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logging.Info("Desktop server starting", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logging.Info("Desktop server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadConfig reads path, or the default location when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadConfig(path)
}

// newRouter registers every route.
func newRouter(core *app.App, hub *WSHub) (*http.ServeMux, error) {
	loc, err := core.Config.Location()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", healthHandler(core))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", HandleWebSocket(hub))

	handlers.NewFoodHandler(core.Food, core, loc).Register(mux)
	handlers.NewWeightHandler(core.Weight, core, loc).Register(mux)
	handlers.NewExportHandler(core).Register(mux)

	syncHandler := handlers.NewSyncHandler(core)
	syncHandler.SetWebSocketHub(hub)
	syncHandler.Register(mux)
	return mux, nil
}

func healthHandler(core *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"fitsync-desktop","connectivity":"` + string(core.Monitor.State()) + `"}`))
	}
}
