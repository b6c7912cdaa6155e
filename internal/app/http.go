package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"bluepeak/internal/authapi"
	"bluepeak/internal/notify"
	"bluepeak/internal/uploads"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	auth *authapi.Handler,
	notifyH *notify.Handler,
	uploadsH *uploads.Handler,
	counts notify.Store,
	registry *prometheus.Registry,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if auth != nil {
		auth.Register(mux)
	}
	if notifyH != nil {
		notifyH.Register(mux)
	}
	if uploadsH != nil {
		uploadsH.Register(mux)
	}
	if counts != nil {
		in := &intake{log: log, counts: counts}
		in.register(mux)
	}

	if registry != nil {
		mux.Handle("/metrics", MetricsHandler(registry))
	}

	// The marketing site build is served as the fallback route so every
	// /api and /objects pattern above still wins.
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}
}
