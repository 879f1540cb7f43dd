// Package app builds and owns the application's dependency graph: fetchers,
// resolvers, downloaders, the dispatcher, and the status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/api"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/config"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/dispatch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/download"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/extractor"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/fetch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/logging"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/progress"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/progress/sinks"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/resolver"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/runstate"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/unhandled"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	apiServer  *api.Server
	hub        *progress.Hub
	renderer   *fetch.Renderer
	tool       *extractor.Tool
	registry   *prometheus.Registry
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}

	state := runstate.New(logger.Named("runstate"))
	unhandledLog := unhandled.New(unhandledPath(cfg))

	promRegistry := prometheus.NewRegistry()
	a.registry = promRegistry
	promSink, err := sinks.NewPrometheusSink(promRegistry)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}
	a.hub = progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)

	httpFetcher := fetch.NewClient(fetch.ClientConfig{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})

	var rendered fetch.Fetcher = httpFetcher
	if cfg.Render.Enabled {
		renderer, err := fetch.NewRenderer(fetch.RendererConfig{
			MaxParallel:  cfg.Render.MaxParallel,
			UserAgent:    cfg.HTTP.UserAgent,
			PollInterval: time.Duration(cfg.Render.PollIntervalMs) * time.Millisecond,
			PollAttempts: cfg.Render.PollAttempts,
			DomainQPS:    cfg.Render.DomainQPS,
			NavTimeout:   cfg.RequestTimeout(),
		}, logger.Named("render"))
		if err != nil {
			logger.Warn("headless renderer init failed, falling back to plain http", zap.Error(err))
		} else {
			a.renderer = renderer
			rendered = renderer
		}
	}

	a.tool = extractor.New(extractor.Config{
		Binary:              cfg.Extractor.Binary,
		FragmentConcurrency: cfg.Extractor.FragmentConcurrency,
	}, state, logger.Named("extractor"))

	registry := buildRegistry(httpFetcher, rendered, a.tool, logger)

	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	direct := &download.Direct{
		Client:    httpClient,
		State:     state,
		UserAgent: cfg.HTTP.UserAgent,
		Logger:    logger.Named("direct"),
	}
	downloaders := map[grab.Strategy]download.Downloader{
		grab.StrategyDirect: direct,
		grab.StrategyExternal: &download.External{
			Tool:      a.tool,
			Unhandled: unhandledLog,
			Logger:    logger.Named("external"),
		},
		grab.StrategyRange: &download.RangeParallel{
			Client:      httpClient,
			ChunkSize:   cfg.HTTP.ChunkSizeBytes,
			Connections: cfg.HTTP.Connections,
			Fallback:    direct,
			State:       state,
			UserAgent:   cfg.HTTP.UserAgent,
			Logger:      logger.Named("range"),
		},
	}

	a.dispatcher = dispatch.New(cfg, registry, downloaders, state, unhandledLog, a.hub, logger.Named("dispatch"))
	a.apiServer = api.NewServer(a.dispatcher, cfg, promRegistry, logger.Named("api"))

	if cfg.Extractor.SelfUpdate {
		updateCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		if err := a.tool.SelfUpdate(updateCtx); err != nil {
			logger.Warn("extractor self-update failed", zap.Error(err))
		}
		cancel()
	}

	return a, nil
}

// buildRegistry registers the site resolvers in selection order with the
// community-feed resolver as the fallback.
func buildRegistry(httpFetcher, rendered fetch.Fetcher, tool *extractor.Tool, logger *zap.Logger) *resolver.Registry {
	registry := resolver.NewRegistry(logger.Named("registry"))
	redgifs := resolver.NewRedgifs(httpFetcher, "", logger.Named("redgifs"))
	imgur := resolver.NewImgur(httpFetcher, "", logger.Named("imgur"))
	registry.Register(redgifs)
	registry.Register(imgur)
	registry.Register(resolver.NewNoodle(httpFetcher, rendered, "", logger.Named("noodle")))
	registry.SetFallback(resolver.NewReddit(httpFetcher, redgifs, imgur, tool, logger.Named("reddit")))
	return registry
}

// Logger exposes the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Dispatcher exposes the orchestration core for the grab command.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Grab runs one dispatch pass over the given sources and returns its summary.
func (a *App) Grab(ctx context.Context, sources []*grab.SourceItem) (dispatch.Summary, error) {
	return a.dispatcher.Run(ctx, sources)
}

// Serve starts the status HTTP server and blocks until the context is
// cancelled or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.dispatcher.Cancel()
	return nil
}

// Close flushes the progress hub and releases the rendering context.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func unhandledPath(cfg config.Config) string {
	p := cfg.Output.UnhandledLog
	if p == "" {
		p = "unhandled_links.log"
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(cfg.Output.RootDir, p)
	}
	return p
}
