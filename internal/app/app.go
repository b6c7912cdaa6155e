// Package app wires the bluepeak origin server runtime: config, logging,
// stores, HTTP routes, and metrics.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"bluepeak/internal/authapi"
	"bluepeak/internal/identity"
	"bluepeak/internal/notify"
	"bluepeak/internal/token"
	"bluepeak/internal/uploads"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the origin server runtime: it owns HTTP wiring and store lifecycles.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	users  identity.Store
	tokens *token.Service
	counts notify.Store

	auth     *authapi.Handler
	notifyH  *notify.Handler
	uploadsH *uploads.Handler

	registry    *prometheus.Registry
	httpMetrics *HTTPMetrics
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	st, deps, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	tokens := token.NewService(deps.tokenStore, authCfg.TokenTTL)

	var authOpts []authapi.HandlerOption
	authOpts = append(authOpts, authapi.WithSignupHook(func(ctx context.Context) {
		if err := deps.counts.Increment(ctx, notify.CategorySignups, 1); err != nil {
			log.Error("notify.signup_count.fail", "err", err)
		}
	}))

	auth, err := authapi.NewHandler(log, authCfg, deps.users, tokens, authOpts...)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	uploadsH, err := uploads.NewHandler(log, uploads.Config{
		Dir:          cfg.UploadsDir,
		MaxBodyBytes: cfg.UploadsMaxBytes,
	}, uploads.WithStoredHook(func(r *http.Request) {
		if err := deps.counts.Increment(r.Context(), notify.CategoryUploads, 1); err != nil {
			log.Error("notify.upload_count.fail", "err", err)
		}
	}))
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	registry := NewMetricsRegistry()

	return &App{
		cfg:         cfg,
		log:         log,
		store:       st,
		dbPool:      deps.pool,
		dbEnabled:   deps.pool != nil,
		users:       deps.users,
		tokens:      tokens,
		counts:      deps.counts,
		auth:        auth,
		notifyH:     notify.NewHandler(log, deps.counts, auth),
		uploadsH:    uploadsH,
		registry:    registry,
		httpMetrics: NewHTTPMetrics(registry),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.notifyH, a.uploadsH, a.counts, a.registry)

	handler := WithSecurityHeaders(mux)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithHTTPMetrics(handler, a.httpMetrics)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// storeDeps carries the concrete stores picked by newStores.
type storeDeps struct {
	pool       *pgxpool.Pool
	users      identity.Store
	tokenStore token.Store
	counts     notify.Store
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores, with Redis optionally taking over bearer token storage.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, storeDeps, error) {
	var (
		deps    storeDeps
		closers []func(context.Context) error
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		deps.users = identity.NewMemoryStore()
		deps.tokenStore = token.NewMemoryStore()
		deps.counts = notify.NewMemoryStore()
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, storeDeps{}, err
		}
		log.Info("db.enabled.postgres_store")

		// Ownership model: app owns the pool lifecycle; the stores never
		// close it.
		users, err := identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, storeDeps{}, err
		}
		tokenStore, err := token.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, storeDeps{}, err
		}
		counts, err := notify.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, storeDeps{}, err
		}

		deps.pool = pool
		deps.users = users
		deps.tokenStore = tokenStore
		deps.counts = counts
		closers = append(closers, func(context.Context) error {
			pool.Close()
			return nil
		})
	}

	if cfg.RedisAddr != "" {
		rs, err := token.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			for _, c := range closers {
				_ = c(ctx)
			}
			return nil, storeDeps{}, err
		}
		log.Info("tokens.redis_store", "addr", cfg.RedisAddr)
		deps.tokenStore = rs
		closers = append(closers, func(context.Context) error { return rs.Close() })
	}

	if len(closers) == 0 {
		return nopStore{}, deps, nil
	}
	return closeFuncs(closers), deps, nil
}

type closeFuncs []func(context.Context) error

func (fns closeFuncs) Close(ctx context.Context) error {
	var firstErr error
	// Close in reverse acquisition order.
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
