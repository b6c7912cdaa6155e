package shellcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Config controls the cache controller.
type Config struct {
	// Version tags the active store; changing it invalidates every prior
	// store on Activate.
	Version string

	// Origin is the upstream base URL ("http://127.0.0.1:8080").
	Origin *url.URL

	// APIPrefix marks the request paths that must never be cached.
	APIPrefix string

	// ShellPath is the cached login shell served to offline navigations.
	ShellPath string

	// Manifest lists the shell resources warmed on Install.
	Manifest []string

	// MaxBodyBytes caps a single captured response body. Larger responses
	// are streamed through uncached.
	MaxBodyBytes int64

	// BypassPrefixes lists path prefixes relayed with no cache
	// participation beyond APIPrefix. Uploaded objects default here:
	// they are unbounded in count and size and would otherwise pin
	// gateway memory until the next version switch.
	BypassPrefixes []string
}

const defaultMaxBodyBytes = 8 << 20

// staticExts is the file-extension allowlist routed through cache-first.
var staticExts = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {},
}

// Controller intercepts requests headed for the origin and applies the
// cache-or-network policy per request class.
type Controller struct {
	cfg      Config
	log      *slog.Logger
	registry *Registry
	store    *Store
	upstream http.RoundTripper
	metrics  *Metrics
}

// NewController constructs a Controller over the given registry and
// upstream transport. It does not populate or purge stores; call Install
// and Activate for that.
func NewController(cfg Config, registry *Registry, upstream http.RoundTripper, log *slog.Logger, metrics *Metrics) (*Controller, error) {
	if cfg.Version == "" {
		return nil, errors.New("shellcache: empty version")
	}
	if cfg.Origin == nil {
		return nil, errors.New("shellcache: nil origin")
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/login"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.BypassPrefixes == nil {
		cfg.BypassPrefixes = []string{"/objects/"}
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		cfg:      cfg,
		log:      log,
		registry: registry,
		store:    registry.Open(storeName(cfg.Version)),
		upstream: upstream,
		metrics:  metrics,
	}, nil
}

func storeName(version string) string { return "shell-" + version }

// StoreName returns the active store's name.
func (c *Controller) StoreName() string { return storeName(c.cfg.Version) }

// Install warms the active store with the shell manifest. Individual
// precache failures are swallowed: partial shell caching is acceptable,
// and the controller serves traffic regardless of install outcome.
func (c *Controller) Install(ctx context.Context) {
	for _, p := range c.cfg.Manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
		if err != nil {
			c.metrics.precached("error")
			continue
		}
		resp, err := c.fetch(req)
		if err != nil {
			c.log.Debug("shellcache.precache.fail", "path", p, "err", err)
			c.metrics.precached("error")
			continue
		}
		entry, fit, err := c.capture(resp)
		if err != nil || !fit || entry.Status < 200 || entry.Status >= 300 {
			if err == nil && !fit {
				_ = resp.Body.Close()
			}
			c.log.Debug("shellcache.precache.skip", "path", p, "status", resp.StatusCode)
			c.metrics.precached("skip")
			continue
		}
		c.store.Put(Key(req), entry)
		c.metrics.precached("ok")
	}
	c.log.Info("shellcache.install", "store", c.StoreName(), "entries", c.store.Len())
}

// Activate deletes every store except the active version's, so stale shells
// from prior deploys stop being servable immediately.
func (c *Controller) Activate() {
	current := c.StoreName()
	for _, name := range c.registry.Names() {
		if name != current {
			c.registry.Delete(name)
		}
	}
	c.log.Info("shellcache.activate", "store", current)
}

// ServeHTTP routes one intercepted request through the policy table.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method != http.MethodGet:
		c.passthrough(w, r)
	case strings.HasPrefix(r.URL.Path, c.cfg.APIPrefix):
		// API traffic may carry dynamic or sensitive data; never cached.
		c.passthrough(w, r)
	case c.bypassed(r.URL.Path):
		c.passthrough(w, r)
	case r.URL.IsAbs() && r.URL.Host != c.cfg.Origin.Host && r.URL.Host != r.Host:
		c.passthrough(w, r)
	case isStaticAsset(r.URL.Path):
		c.cacheFirst(w, r)
	default:
		c.networkFirst(w, r)
	}
}

func (c *Controller) bypassed(p string) bool {
	for _, prefix := range c.cfg.BypassPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func isStaticAsset(p string) bool {
	_, ok := staticExts[strings.ToLower(path.Ext(p))]
	return ok
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// passthrough relays to the origin with no cache participation.
func (c *Controller) passthrough(w http.ResponseWriter, r *http.Request) {
	resp, err := c.fetch(r)
	if err != nil {
		c.metrics.request("passthrough", "unreachable")
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	c.metrics.request("passthrough", "network")
	hdr := resp.Header.Clone()
	stripHopByHop(hdr)
	copyHeader(w.Header(), hdr)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// cacheFirst serves the cached copy when present, otherwise fetches and
// captures successful responses. A network failure with no cached copy
// yields a synthetic 503.
func (c *Controller) cacheFirst(w http.ResponseWriter, r *http.Request) {
	key := Key(r)
	if entry, ok := c.store.Get(key); ok {
		c.metrics.request("cache_first", "hit")
		c.serveEntry(w, entry)
		return
	}

	resp, err := c.fetch(r)
	if err != nil {
		c.metrics.request("cache_first", "offline_503")
		c.serveOffline(w, false)
		return
	}

	entry, fit, err := c.capture(resp)
	if err != nil {
		c.metrics.request("cache_first", "error")
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}
	if !fit {
		c.metrics.request("cache_first", "too_large")
		c.streamThrough(w, resp, entry)
		return
	}
	if entry.Status >= 200 && entry.Status < 300 {
		c.store.Put(key, entry)
	}
	c.metrics.request("cache_first", "miss")
	c.serveEntry(w, entry)
}

// networkFirst prefers the origin, capturing successful responses, and
// degrades through cached copy, cached shell (navigations), and finally a
// synthetic offline notice.
func (c *Controller) networkFirst(w http.ResponseWriter, r *http.Request) {
	key := Key(r)

	resp, err := c.fetch(r)
	if err == nil {
		entry, fit, cerr := c.capture(resp)
		if cerr != nil {
			c.metrics.request("network_first", "error")
			http.Error(w, "upstream read failed", http.StatusBadGateway)
			return
		}
		if !fit {
			c.metrics.request("network_first", "too_large")
			c.streamThrough(w, resp, entry)
			return
		}
		if entry.Status >= 200 && entry.Status < 300 {
			c.store.Put(key, entry)
		}
		c.metrics.request("network_first", "network")
		c.serveEntry(w, entry)
		return
	}

	if entry, ok := c.store.Get(key); ok {
		c.metrics.request("network_first", "offline_fallback")
		c.serveEntry(w, entry)
		return
	}

	if isNavigation(r) {
		shellKey := http.MethodGet + " " + c.cfg.ShellPath
		if shell, ok := c.store.Get(shellKey); ok {
			c.metrics.request("network_first", "shell_fallback")
			c.serveEntry(w, shell)
			return
		}
		c.metrics.request("network_first", "offline_503")
		c.serveOffline(w, true)
		return
	}

	c.metrics.request("network_first", "offline_503")
	c.serveOffline(w, false)
}

// fetch relays a request to the origin.
func (c *Controller) fetch(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.URL.Scheme = c.cfg.Origin.Scheme
	out.URL.Host = c.cfg.Origin.Host
	out.Host = c.cfg.Origin.Host
	out.RequestURI = ""
	return c.upstream.RoundTrip(out)
}

// capture drains a response into a cacheable entry, reading one byte past
// the cap so truncation is detectable. fit reports whether the whole body
// was captured; when false the remainder is still pending on resp.Body and
// the caller owns closing it (the partial entry carries the bytes read so
// far, for streaming).
func (c *Controller) capture(resp *http.Response) (entry Entry, fit bool, err error) {
	hdr := resp.Header.Clone()
	stripHopByHop(hdr)

	if resp.ContentLength > c.cfg.MaxBodyBytes {
		return Entry{Status: resp.StatusCode, Header: hdr}, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		_ = resp.Body.Close()
		return Entry{}, false, fmt.Errorf("shellcache: read body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return Entry{Status: resp.StatusCode, Header: hdr, Body: body}, false, nil
	}

	_ = resp.Body.Close()
	return Entry{
		Status:   resp.StatusCode,
		Header:   hdr,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, true, nil
}

// streamThrough relays a response whose body exceeded the capture cap:
// the already-read prefix first, then the rest straight off the wire.
// Nothing is stored.
func (c *Controller) streamThrough(w http.ResponseWriter, resp *http.Response, e Entry) {
	defer func() { _ = resp.Body.Close() }()
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
	_, _ = io.Copy(w, resp.Body)
}

func (c *Controller) serveEntry(w http.ResponseWriter, e Entry) {
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// serveOffline synthesizes the terminal offline response. Navigations get
// an HTML notice; everything else a bare 503.
func (c *Controller) serveOffline(w http.ResponseWriter, navigation bool) {
	if navigation {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<!doctype html><title>Offline</title><p>You are offline.</p>"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("offline"))
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// Hop-by-hop fields are connection-scoped (RFC 9110 §7.6.1) and must not
// be relayed to the client or replayed from the store.
var hopByHopFields = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, f := range strings.Split(h.Get("Connection"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			h.Del(f)
		}
	}
	for _, f := range hopByHopFields {
		h.Del(f)
	}
}
