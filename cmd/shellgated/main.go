// Command shellgated runs the offline shell gateway in front of the
// bluepeak origin: static assets are served cache-first, navigations
// network-first with the cached login shell as the offline fallback, and
// API requests always pass straight through.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"bluepeak/internal/app"
	"bluepeak/internal/shellcache"
)

type config struct {
	httpAddr string
	logLevel string
	pretty   bool

	version   string
	originURL string
	shellPath string
	manifest  []string

	maxBodyBytes   int64
	bypassPrefixes []string

	readHeaderTimeout time.Duration
	idleTimeout       time.Duration
}

func loadConfig() config {
	return config{
		httpAddr: app.EnvString("BLUEPEAK_GATEWAY_ADDR", "0.0.0.0:8090"),
		logLevel: app.EnvString("BLUEPEAK_LOG_LEVEL", "info"),
		pretty:   app.EnvBool("BLUEPEAK_LOG_PRETTY", false),

		version:   app.EnvString("BLUEPEAK_SHELL_VERSION", "v1"),
		originURL: app.EnvString("BLUEPEAK_ORIGIN_URL", "http://127.0.0.1:8080"),
		shellPath: app.EnvString("BLUEPEAK_SHELL_PATH", "/login"),
		manifest: app.EnvStringSlice("BLUEPEAK_SHELL_MANIFEST", []string{
			"/login",
			"/assets/app.js",
			"/assets/app.css",
			"/assets/logo.svg",
		}),

		maxBodyBytes:   app.EnvInt64("BLUEPEAK_SHELL_MAX_BODY_BYTES", 8<<20),
		bypassPrefixes: app.EnvStringSlice("BLUEPEAK_SHELL_BYPASS_PREFIXES", []string{"/objects/"}),

		readHeaderTimeout: app.EnvDuration("BLUEPEAK_GATEWAY_READ_HEADER_TIMEOUT", 5*time.Second),
		idleTimeout:       app.EnvDuration("BLUEPEAK_GATEWAY_IDLE_TIMEOUT", 60*time.Second),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := loadConfig()
	logger := app.NewLogger(cfg.logLevel, cfg.pretty)

	origin, err := url.Parse(cfg.originURL)
	if err != nil {
		return err
	}

	registry := shellcache.NewRegistry()
	reg := app.NewMetricsRegistry()

	controller, err := shellcache.NewController(shellcache.Config{
		Version:        cfg.version,
		Origin:         origin,
		ShellPath:      cfg.shellPath,
		Manifest:       cfg.manifest,
		MaxBodyBytes:   cfg.maxBodyBytes,
		BypassPrefixes: cfg.bypassPrefixes,
	}, registry, nil, logger, shellcache.NewMetrics(reg))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	installCtx, installCancel := context.WithTimeout(ctx, 30*time.Second)
	controller.Install(installCtx)
	installCancel()
	controller.Activate()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", app.MetricsHandler(reg))
	mux.Handle("/", controller)

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           app.WithRequestLogging(mux, logger),
		ReadHeaderTimeout: cfg.readHeaderTimeout,
		IdleTimeout:       cfg.idleTimeout,
	}

	logger.Info("gateway.start", "addr", cfg.httpAddr, "origin", cfg.originURL, "store", controller.StoreName())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("gateway.stop", "reason", "context_done")
	case err := <-errCh:
		logger.Error("gateway.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway.shutdown.fail", "err", err)
		return err
	}

	logger.Info("gateway.stopped")
	return nil
}
