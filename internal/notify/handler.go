package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"bluepeak/internal/identity"
)

// Authenticator resolves the bearer token on a request to a user allowed
// on the given portal. The auth API handler satisfies this.
type Authenticator interface {
	UserFromRequest(r *http.Request, portal string) (identity.User, error)
}

// Handler serves the admin notification counts, as a one-shot poll
// endpoint and as a websocket stream that pushes on change.
type Handler struct {
	log   *slog.Logger
	store Store
	auth  Authenticator

	// streamInterval is how often the stream endpoint re-reads the store.
	streamInterval time.Duration
}

// NewHandler constructs the notifications Handler.
func NewHandler(log *slog.Logger, store Store, auth Authenticator) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:            log,
		store:          store,
		auth:           auth,
		streamInterval: 2 * time.Second,
	}
}

// Register wires the notification routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/admin/notifications", h.handleCounts)
	mux.HandleFunc("/api/admin/notifications/stream", h.handleStream)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if _, err := h.auth.UserFromRequest(r, "admin"); err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid or expired session"})
		return false
	}
	return true
}

func (h *Handler) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	counts, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.log.Error("notify.counts.fail", "err", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "could not load notifications"})
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(counts)
}

// handleStream pushes a counts snapshot on connect and again whenever the
// totals change, so dashboards react faster than the 15 second poll.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("notify.stream.accept_fail", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	ctx := r.Context()

	last, err := h.store.Snapshot(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "could not load notifications")
		return
	}
	if err := wsjson.Write(ctx, conn, last); err != nil {
		return
	}

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			cur, err := h.store.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					h.log.Warn("notify.stream.snapshot_fail", "err", err)
				}
				continue
			}
			if cur == last {
				continue
			}
			if err := wsjson.Write(ctx, conn, cur); err != nil {
				return
			}
			last = cur
		}
	}
}
