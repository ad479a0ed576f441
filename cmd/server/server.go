package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/nmconsole/internal/api"
	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/config"
	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/mcp"
	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/settings"
	"github.com/martinsuchenak/nmconsole/internal/storage"
	"github.com/martinsuchenak/nmconsole/internal/udev"
	"github.com/martinsuchenak/nmconsole/internal/ui"
	"github.com/martinsuchenak/nmconsole/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// ServerConfig holds everything RunServer serves
type ServerConfig struct {
	Config     *config.Config
	Watcher    *nm.Watcher
	Scheduler  *worker.Scheduler
	MCPServer  *mcp.Server
	APIHandler *api.Handler
}

// RunServer runs the bus watcher and serves the UI, API and MCP endpoints
// until ctx is cancelled or the bus goes away.
func RunServer(ctx context.Context, cfg *ServerConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup HTTP routes
	mux := http.NewServeMux()
	cfg.APIHandler.RegisterRoutes(mux)
	mux.HandleFunc("/mcp", cfg.MCPServer.GetHTTPHandler())
	mux.Handle("/", ui.AssetHandler())

	// Apply middleware
	var handler http.Handler = mux
	if cfg.Config.IsAPIAuthEnabled() {
		handler = api.AuthMiddleware(cfg.Config.APIAuthToken, handler)
	}
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:              cfg.Config.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- cfg.Watcher.Run(ctx)
	}()

	cfg.Scheduler.Start()
	defer cfg.Scheduler.Stop()
	for name, next := range cfg.Scheduler.Tasks() {
		log.Info("Task scheduled", "task", name, "next", next.Format(time.RFC3339))
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting network console", "addr", cfg.Config.ListenAddr)
		log.Info("Web UI available", "url", "http://localhost"+cfg.Config.ListenAddr)
		log.Info("API available", "url", "http://localhost"+cfg.Config.ListenAddr+"/api/")
		log.Info("MCP available", "url", "http://localhost"+cfg.Config.ListenAddr+"/mcp")
		if cfg.Config.IsAPIAuthEnabled() {
			log.Info("API authentication enabled")
		}
		cfg.MCPServer.LogStartup()
		serveErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-watchErr:
		if errors.Is(err, nm.ErrBusClosed) {
			log.Error("Lost connection to the bus", "error", err)
			runErr = err
		}
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", "error", err)
			return err
		}
	}

	cfg.APIHandler.Close()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown incomplete", "error", err)
	}

	log.Info("Server stopped")
	return runErr
}

// Command returns the server command
func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the network console server",
		Description: "Watch NetworkManager on the bus and serve the web UI, API and MCP endpoints",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			log.Info("Configuration loaded", "config", cfg.String())

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.NewSQLiteStorage(cfg.DataDir)
	if err != nil {
		log.Error("Failed to initialize storage", "error", err)
		return err
	}
	defer store.Close()
	log.Info("Storage initialized", "backend", "SQLite", "path", store.Path())

	b, err := bus.Dial(ctx, cfg.Bus)
	if err != nil {
		log.Error("Failed to connect to the bus", "bus", cfg.Bus, "error", err)
		return err
	}
	defer b.Close()

	pool := worker.NewPool(cfg.Workers)
	pool.Start()
	defer pool.Stop()

	m := nm.NewModel(b.ByteOrder())
	watcher := nm.NewWatcher(b, m, pool,
		nm.WithEnricher(udev.NewClient(cfg.UdevCommand, nil)),
		nm.WithCallTimeout(cfg.CallTimeout),
	)
	if err := watcher.Sync(ctx); err != nil {
		log.Error("Initial NetworkManager sync failed", "error", err)
		return err
	}

	overlay := settings.NewOverlay(nm.NewRemote(watcher), store)
	if err := overlay.Load(ctx); err != nil {
		log.Warn("Failed to restore pending edits", "error", err)
	}

	unsubscribe := m.Subscribe(recordSnapshots(pool, store))
	defer unsubscribe()

	scheduler := worker.NewScheduler(cfg.CallTimeout * 6)
	if cfg.ResyncSchedule != "" {
		if err := scheduler.Register("resync", cfg.ResyncSchedule, watcher.Resync); err != nil {
			log.Error("Invalid resync schedule", "schedule", cfg.ResyncSchedule, "error", err)
			return err
		}
	}

	return RunServer(ctx, &ServerConfig{
		Config:     cfg,
		Watcher:    watcher,
		Scheduler:  scheduler,
		MCPServer:  mcp.NewServer(m, overlay, cfg.MCPAuthToken),
		APIHandler: api.NewHandler(m, overlay, store),
	})
}

// recordSnapshots stores every notified device list off the watcher goroutine.
func recordSnapshots(pool *worker.Pool, store storage.SnapshotStorage) func([]model.Device) {
	return func(devices []model.Device) {
		pool.Go("snapshot", func(ctx context.Context) error {
			return store.SaveDeviceSnapshot(ctx, devices)
		})
	}
}
