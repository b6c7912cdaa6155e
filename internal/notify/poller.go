package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultPollInterval is how often the admin portal refreshes its counts.
const DefaultPollInterval = 15 * time.Second

// PollerConfig describes where and how often to poll.
type PollerConfig struct {
	// URL is the absolute counts endpoint, e.g.
	// https://origin.example/api/admin/notifications.
	URL string

	// Token supplies the admin bearer token for each request. It is a
	// function because the session token can rotate while polling runs.
	Token func() string

	// Interval between polls. Defaults to DefaultPollInterval.
	Interval time.Duration
}

// Poller periodically fetches notification counts and alerts on growth.
//
// The previous snapshot is threaded through the polling loop rather than
// held in shared state, so two pollers never interfere and a poller can be
// restarted from scratch safely.
type Poller struct {
	cfg     PollerConfig
	client  *http.Client
	alerter Alerter
	log     *slog.Logger
	metrics *Metrics
}

// PollerOption configures optional poller dependencies.
type PollerOption func(*Poller)

// WithPollClient overrides the HTTP client used for polling.
func WithPollClient(c *http.Client) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.client = c
		}
	}
}

// WithPollLogger overrides the poller's logger.
func WithPollLogger(log *slog.Logger) PollerOption {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// WithPollMetrics attaches poll and alert counters.
func WithPollMetrics(m *Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// NewPoller constructs a Poller. alerter may be nil to only log.
func NewPoller(cfg PollerConfig, alerter Alerter, opts ...PollerOption) (*Poller, error) {
	if cfg.URL == "" {
		return nil, errors.New("notify: poller needs a URL")
	}
	if cfg.Token == nil {
		return nil, errors.New("notify: poller needs a token source")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}

	p := &Poller{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     slog.Default(),
		alerter: alerter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.alerter == nil {
		p.alerter = LogAlerter{Log: p.log}
	}
	return p, nil
}

// Run polls until ctx is canceled. The first successful fetch only sets
// the baseline; alerts fire for increases observed after that, so a
// restart does not replay every historical notification as new.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var (
		prev     Counts
		havePrev bool
	)
	prev, havePrev = p.pollOnce(ctx, prev, havePrev)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			prev, havePrev = p.pollOnce(ctx, prev, havePrev)
		}
	}
}

// pollOnce fetches counts once and returns the snapshot to carry forward.
// On failure the previous snapshot is kept so a blip does not re-baseline.
func (p *Poller) pollOnce(ctx context.Context, prev Counts, havePrev bool) (Counts, bool) {
	cur, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("notify.poll.fail", "err", err)
		}
		p.metrics.poll("error")
		return prev, havePrev
	}
	p.metrics.poll("ok")

	if havePrev {
		for _, d := range cur.IncreasesOver(prev) {
			p.metrics.alert(d.Category)
			p.alerter.Alert(d.Category, d.Delta, d.Total)
		}
	}
	return cur, true
}

func (p *Poller) fetch(ctx context.Context) (Counts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return Counts{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token())
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return Counts{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return Counts{}, fmt.Errorf("notify: counts endpoint returned %d", res.StatusCode)
	}

	var out Counts
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return Counts{}, fmt.Errorf("notify: decode counts: %w", err)
	}
	return out, nil
}
