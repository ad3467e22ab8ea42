package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/api"
	"github.com/zj793039327/jBrowserDriver/internal/backend"
	"github.com/zj793039327/jBrowserDriver/internal/browser"
	"github.com/zj793039327/jBrowserDriver/internal/command"
	"github.com/zj793039327/jBrowserDriver/internal/config"
	"github.com/zj793039327/jBrowserDriver/internal/engine/cdp"
	"github.com/zj793039327/jBrowserDriver/internal/engine/static"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/profile"
	"github.com/zj793039327/jBrowserDriver/internal/proxy"
	"github.com/zj793039327/jBrowserDriver/internal/ratelimit"
	"github.com/zj793039327/jBrowserDriver/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	if envErr != nil {
		log.Debug("no .env file found, using system environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	log.WithField("backend", cfg.Backend).Info("starting jBrowserDriver")

	registry, err := newRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer registry.Close()

	// pulling a browser image can take a while
	prepareCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err = registry.Prepare(prepareCtx)
	cancel()
	if err != nil {
		return err
	}
	log.WithField("backends", registry.Names()).Info("backends ready")

	profiles, err := profile.NewManager(cfg.StorageRoot, log)
	if err != nil {
		return fmt.Errorf("failed to create profile manager: %w", err)
	}

	sessionMgr := session.NewManager(registry, profiles, session.ManagerOptions{
		Defaults:           cfg.Defaults,
		SessionsPerProject: cfg.SessionsPerProject,
		Grace:              cfg.DispatchGrace,
		Retention:          cfg.SessionRetention,
		Logger:             log,
	})

	router := command.NewRouter(log)
	streamServer := proxy.NewServer(sessionMgr, router, log)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.PerHour, cfg.RateLimit.Burst)

	handler := api.NewHandler(sessionMgr, router, log)
	routes := handler.SetupRoutes(api.NewProfileHandler(profiles, handler), streamServer, rateLimiter)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      routes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":       cfg.Addr,
			"rate_limit": cfg.RateLimit.PerHour,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	}
	if err := sessionMgr.Close(ctx); err != nil {
		log.WithError(err).Warn("some sessions did not close cleanly")
	}

	log.Info("server stopped cleanly")
	return nil
}

func newRegistry(cfg config.Config, log *logrus.Logger) (*backend.Registry, error) {
	registry := backend.NewRegistry(cfg.Backend, log)
	registry.Register(static.NewFactory(log))

	if !cfg.CDP.Enabled() {
		return registry, nil
	}

	opts := cdp.FactoryOptions{
		Endpoint:       cfg.CDP.URL,
		CommandTimeout: cfg.CDP.CommandTimeout,
	}
	if cfg.CDP.Launch {
		pool, err := browser.NewPool(cfg.CDP.Image, log)
		if err != nil {
			return nil, err
		}
		opts.Pool = pool
	}
	factory, err := cdp.NewFactory(opts)
	if err != nil {
		return nil, err
	}
	registry.Register(factory)
	return registry, nil
}
