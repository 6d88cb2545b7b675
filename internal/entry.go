// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/transport"
	"github.com/starford/ansuz/internal/vault"
)

// Run starts the daemon with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("server_url", cfg.Server.URL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	deps, err := buildDeps(cfg, app.configPath, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	h := api.NewHandler(deps.store, deps.sync, deps.orch, deps.client, deps.ldb, deps.settingsAPI, cfg.Sync.Auto, deps.store.Root())
	r.Mount("/api", api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, deps.broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Sync service loop.
	g.Go(func() error {
		return deps.sync.Run(gCtx)
	})

	// Vault watcher feeding the sync service.
	if cfg.Sync.Auto {
		g.Go(func() error {
			return syncer.Watch(gCtx, deps.sync, deps.store.Root(), logger, deps.onQuestion(gCtx))
		})
	}

	// HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdio instead of starting the HTTP
// server. The sync loop still runs so index mutations keep flowing.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Logs go to stderr: stdout belongs to the MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	deps, err := buildDeps(cfg, app.configPath, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.sync.Run(gCtx)
	})
	if cfg.Sync.Auto {
		g.Go(func() error {
			return syncer.Watch(gCtx, deps.sync, deps.store.Root(), logger, deps.onQuestion(gCtx))
		})
	}
	g.Go(func() error {
		return mcpserver.New(deps.store, deps.sync, deps.orch, deps.client).ServeStdio()
	})
	return g.Wait()
}

// deps bundles the wired components shared by the HTTP and MCP modes.
type deps struct {
	store       *vault.FS
	ldb         *ledger.DB
	client      *transport.Client
	broker      *sse.Broker
	sync        *syncer.Service
	orch        *query.Orchestrator
	settings    *SettingsStore
	settingsAPI api.SettingsAccess
}

func buildDeps(cfg *Config, configPath string, logger *slog.Logger) (*deps, error) {
	// Ensure vault root and the three role folders exist.
	for _, dir := range []string{
		cfg.Vault.Path,
		filepath.Join(cfg.Vault.Path, vault.ClaimsFolder),
		filepath.Join(cfg.Vault.Path, vault.QuestionsFolder),
		filepath.Join(cfg.Vault.Path, vault.UnderstandingsFolder),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir: %w", err)
		}
	}

	store, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	ldb, err := ledger.Open(cfg.Sync.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	settings := NewSettingsStore(cfg, configPath)

	client := transport.New(cfg.Server.URL, time.Duration(cfg.Server.TimeoutSeconds)*time.Second)

	broker := sse.NewBroker(2 * time.Second)

	window := time.Duration(cfg.Sync.DebounceMS) * time.Millisecond
	syncSvc := syncer.New(store, client, ldb, logger, window, broker.PublishSyncEvent)

	orch := query.New(store, client, func() query.Params {
		q := settings.QueryConfig()
		return query.Params{TopK: q.TopK, MinSimilarity: q.MinSimilarity}
	}, logger, &ssePresenter{broker: broker})

	d := &deps{
		store:    store,
		ldb:      ldb,
		client:   client,
		broker:   broker,
		sync:     syncSvc,
		orch:     orch,
		settings: settings,
	}
	d.settingsAPI = &settingsAdapter{store: settings}
	return d, nil
}

func (d *deps) close() {
	d.broker.Close()
	_ = d.ldb.Close()
}

// onQuestion returns the watcher callback that auto-runs a query when a
// question note changes and auto-query is enabled.
func (d *deps) onQuestion(ctx context.Context) syncer.QuestionCallback {
	return func(path string) {
		if !d.settings.QueryConfig().Auto {
			return
		}
		go func() {
			// The run surfaces its own failures through the presenter.
			_, _ = d.orch.Run(ctx, path)
		}()
	}
}

// ssePresenter publishes query outcomes to SSE clients.
type ssePresenter struct {
	broker *sse.Broker
}

func (p *ssePresenter) QueryCompleted(res *query.Result) {
	p.broker.Publish(sse.Event{Type: "query.completed", Data: res})
}

func (p *ssePresenter) QueryFailed(path string, err error) {
	p.broker.Publish(sse.Event{Type: "query.failed", Data: map[string]string{
		"path":  path,
		"error": err.Error(),
	}})
}

// settingsAdapter maps the API settings blob onto the config store.
type settingsAdapter struct {
	store *SettingsStore
}

func (a *settingsAdapter) Get() api.SettingsView {
	server := a.store.ServerConfig()
	q := a.store.QueryConfig()
	sync := a.store.SyncConfig()
	return api.SettingsView{
		ServerURL:            server.URL,
		TopK:                 q.TopK,
		MinSimilarity:        q.MinSimilarity,
		AutoQuery:            q.Auto,
		AutoSync:             sync.Auto,
		ShowSimilarityScores: q.ShowSimilarityScores,
	}
}

func (a *settingsAdapter) Update(v api.SettingsView) (api.SettingsView, error) {
	err := a.store.Update(func(c *Config) {
		c.Server.URL = v.ServerURL
		c.Query.TopK = v.TopK
		c.Query.MinSimilarity = v.MinSimilarity
		c.Query.Auto = v.AutoQuery
		c.Sync.Auto = v.AutoSync
		c.Query.ShowSimilarityScores = v.ShowSimilarityScores
	})
	if err != nil {
		return api.SettingsView{}, err
	}
	return a.Get(), nil
}
