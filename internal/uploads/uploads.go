// Package uploads implements the file-upload relay: a client asks for an
// upload URL, PUTs the bytes to it, and the stored object is later served
// under a stable /objects/ path.
package uploads

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// objectDir is the single directory objects are served from today.
	objectDir = "uploads"

	// pendingTTL bounds how long a requested upload URL stays usable.
	pendingTTL = 15 * time.Minute
)

// Config controls the relay's storage location and limits.
type Config struct {
	// Dir is the root directory objects are stored under.
	Dir string

	// MaxBodyBytes caps a single uploaded object. Default 50 MiB.
	MaxBodyBytes int64
}

// Handler relays uploads onto local disk.
type Handler struct {
	log *slog.Logger
	cfg Config

	// notify, when set, is called after each successfully stored object.
	notify func(r *http.Request)

	mu      sync.Mutex
	pending map[string]pendingUpload
}

type pendingUpload struct {
	filename    string
	contentType string
	expires     time.Time
}

// meta is the sidecar persisted next to each object.
type meta struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Option configures optional handler behavior.
type Option func(*Handler)

// WithStoredHook runs fn after every successfully stored object.
func WithStoredHook(fn func(r *http.Request)) Option {
	return func(h *Handler) { h.notify = fn }
}

// NewHandler constructs the upload relay rooted at cfg.Dir.
func NewHandler(log *slog.Logger, cfg Config, opts ...Option) (*Handler, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("uploads: storage dir is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 50 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, objectDir), 0o750); err != nil {
		return nil, err
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		pending: make(map[string]pendingUpload),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires the relay routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/uploads/request-url", h.handleRequestURL)
	mux.HandleFunc("/api/uploads/file/", h.handlePut)
	mux.HandleFunc("/objects/", h.handleGet)
}

type requestURLRequest struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type requestURLResponse struct {
	ID         string `json:"id"`
	UploadURL  string `json:"uploadURL"`
	ObjectPath string `json:"objectPath"`
}

func (h *Handler) handleRequestURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req requestURLRequest
	if r.Body != nil {
		dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
		// Empty bodies are fine; malformed ones are not.
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Size > h.cfg.MaxBodyBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}

	id := uuid.NewString()
	now := time.Now()

	h.mu.Lock()
	h.prunePendingLocked(now)
	h.pending[id] = pendingUpload{
		filename:    sanitizeFilename(req.Filename),
		contentType: req.ContentType,
		expires:     now.Add(pendingTTL),
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, requestURLResponse{
		ID:         id,
		UploadURL:  "/api/uploads/file/" + id,
		ObjectPath: "/objects/" + objectDir + "/" + id,
	})
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/uploads/file/")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusNotFound, "unknown upload")
		return
	}

	h.mu.Lock()
	p, ok := h.pending[id]
	if ok && time.Now().Before(p.expires) {
		delete(h.pending, id)
	} else {
		ok = false
	}
	h.mu.Unlock()
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown or expired upload")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		p.contentType = ct
	}

	if err := h.store(id, p, http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		h.log.Error("uploads.store.fail", "id", id, "err", err)
		h.writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	h.log.Info("uploads.stored", "id", id, "filename", p.filename)
	if h.notify != nil {
		h.notify(r)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"objectPath": "/objects/" + objectDir + "/" + id,
	})
}

// store streams the body to a temp file and renames it into place, so a
// half-written upload is never visible under /objects/.
func (h *Handler) store(id string, p pendingUpload, body io.ReadCloser) error {
	defer body.Close()

	dir := filepath.Join(h.cfg.Dir, objectDir)
	tmp, err := os.CreateTemp(dir, "."+id+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, id)); err != nil {
		return err
	}

	raw, err := json.Marshal(meta{Filename: p.filename, ContentType: p.contentType})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, id+".meta"), raw, 0o600)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/objects/")
	dir, id, ok := strings.Cut(rest, "/")
	if !ok || dir != objectDir {
		http.NotFound(w, r)
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.cfg.Dir, objectDir, id)
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}

	m := h.readMeta(id)
	if m.ContentType != "" {
		w.Header().Set("Content-Type", m.ContentType)
	}
	if m.Filename != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+m.Filename+`"`)
	}
	http.ServeContent(w, r, id, fi.ModTime(), f)
}

func (h *Handler) readMeta(id string) meta {
	raw, err := os.ReadFile(filepath.Join(h.cfg.Dir, objectDir, id+".meta"))
	if err != nil {
		return meta{}
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return meta{}
	}
	return m
}

func (h *Handler) prunePendingLocked(now time.Time) {
	for id, p := range h.pending {
		if now.After(p.expires) {
			delete(h.pending, id)
		}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeFilename keeps only the base name and strips characters that
// would break a Content-Disposition header.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
}
