package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bluepeak/internal/identity"
)

// State is the session lifecycle state of one role instance.
type State int

const (
	// StateAnonymous means no token and no profile.
	StateAnonymous State = iota
	// StateRestoring means a stored token exists and profile hydration is
	// in flight.
	StateRestoring
	// StateAuthenticated means token and profile are both present and
	// persisted.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// connectivityReason is the failure message when the request itself could
// not be sent.
const connectivityReason = "could not reach the server; check your connection"

// AuthError is the discriminated failure returned by Login and Signup.
// Reason is always human-readable: the server-supplied message when one
// exists, otherwise a generic connectivity message.
type AuthError struct {
	Reason string
	Status int // 0 when the request never completed
}

func (e *AuthError) Error() string { return e.Reason }

// interactionKinds is the fixed set of user-interaction event types that
// reset the idle countdown.
var interactionKinds = map[string]struct{}{
	"pointerdown": {},
	"mousemove":   {},
	"keydown":     {},
	"scroll":      {},
	"touchstart":  {},
	"click":       {},
}

// Credentials carries login/signup input. CaptchaToken is the
// bot-verification token, required by roles configured for it.
type Credentials struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	DisplayName  string `json:"name,omitempty"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

// Manager owns one role's session end-to-end: hydration from durable
// storage, server-side validation, idle-based expiry, and explicit
// login/logout.
type Manager struct {
	cfg     RoleConfig
	baseURL string
	client  *http.Client
	storage Storage
	log     *slog.Logger

	mu      sync.Mutex
	state   State
	token   string
	profile *identity.User
	idle    *time.Timer

	// gen increments on every clear or login. In-flight hydration and
	// armed idle timers capture it and discard their effect when it has
	// moved on (check-before-write, never unconditional write).
	gen uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for origin requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager restores a Manager from durable storage.
//
// A stored token with a stored profile starts Authenticated; a token alone
// starts Restoring and issues exactly one profile fetch; otherwise the
// manager starts Anonymous. The idle timer is armed fresh whenever a token
// is present.
func NewManager(cfg RoleConfig, baseURL string, storage Storage, opts ...Option) (*Manager, error) {
	if cfg.Role == "" || cfg.StoragePrefix == "" || cfg.LoginPath == "" || cfg.MePath == "" {
		return nil, errors.New("portal: incomplete role config")
	}
	if storage == nil {
		return nil, errors.New("portal: nil storage")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	m := &Manager{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		storage: storage,
		log:     slog.Default(),
		state:   StateAnonymous,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.log = m.log.With("portal", cfg.Role)

	tok, ok, err := storage.Get(cfg.tokenKey())
	if err != nil {
		return nil, err
	}
	if !ok || tok == "" {
		// A profile without a token violates the persistence invariant;
		// drop it rather than trusting it.
		_ = storage.Delete(cfg.userKey())
		return m, nil
	}

	m.token = tok
	if raw, ok, _ := storage.Get(cfg.userKey()); ok && raw != "" {
		var u identity.User
		if json.Unmarshal([]byte(raw), &u) == nil {
			m.profile = &u
			m.state = StateAuthenticated
		}
	}

	m.mu.Lock()
	if m.profile == nil {
		m.state = StateRestoring
		go m.hydrate(m.gen)
	}
	m.armIdleLocked()
	m.mu.Unlock()

	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the bearer token, or "" when anonymous.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Profile returns a copy of the profile, or nil before hydration completes.
func (m *Manager) Profile() *identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	u := *m.profile
	return &u
}

// Login authenticates against the role's login endpoint. On success the
// token and profile are persisted together and the session becomes
// Authenticated; on any failure the previous state is left untouched and a
// *AuthError describes the reason.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	return m.authenticate(ctx, m.cfg.LoginPath, creds)
}

// Signup registers a new account for roles that support self-signup.
func (m *Manager) Signup(ctx context.Context, creds Credentials) error {
	if m.cfg.SignupPath == "" {
		return &AuthError{Reason: fmt.Sprintf("the %s portal does not support signup", m.cfg.Role)}
	}
	return m.authenticate(ctx, m.cfg.SignupPath, creds)
}

func (m *Manager) authenticate(ctx context.Context, path string, creds Credentials) error {
	if m.cfg.CaptchaRequired && creds.CaptchaToken == "" {
		return &AuthError{Reason: "verification token is required"}
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return &AuthError{Reason: connectivityReason}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &AuthError{Reason: connectivityReason}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return &AuthError{Reason: connectivityReason}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &AuthError{Reason: connectivityReason, Status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		var fail struct {
			Error string `json:"error"`
		}
		reason := "sign-in failed"
		if json.Unmarshal(payload, &fail) == nil && fail.Error != "" {
			reason = fail.Error
		}
		return &AuthError{Reason: reason, Status: resp.StatusCode}
	}

	var ok struct {
		Token string        `json:"token"`
		User  identity.User `json:"user"`
	}
	if err := json.Unmarshal(payload, &ok); err != nil || ok.Token == "" {
		return &AuthError{Reason: "malformed server response", Status: resp.StatusCode}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persistLocked(ok.Token, &ok.User); err != nil {
		return &AuthError{Reason: "could not persist session"}
	}
	m.gen++
	m.token = ok.Token
	m.profile = &ok.User
	m.state = StateAuthenticated
	m.armIdleLocked()
	m.log.Info("portal.login", "user", ok.User.ID)
	return nil
}

// Logout unconditionally clears token, profile, durable storage and the
// idle timer. It is idempotent and cannot fail.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// Interaction reports a user-interaction event. Qualifying kinds reset the
// idle countdown; the timer is only armed while a token is present.
func (m *Manager) Interaction(kind string) {
	if _, ok := interactionKinds[kind]; !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return
	}
	m.armIdleLocked()
}

// HasPermission reports whether the profile holds the named permission.
// The configured super role holds every permission implicitly; an absent
// profile holds none.
func (m *Manager) HasPermission(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.profile == nil {
		return false
	}
	if m.cfg.SuperRole != "" && m.profile.Role == m.cfg.SuperRole {
		return true
	}
	for _, p := range m.profile.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// CanAccessTeam reports whether the profile may access the given team:
// full access level grants everything, otherwise the team-scope list is
// consulted. An absent profile grants nothing.
func (m *Manager) CanAccessTeam(teamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.profile == nil {
		return false
	}
	if m.profile.AccessLevel == identity.AccessFull {
		return true
	}
	for _, id := range m.profile.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// hydrate issues the single startup profile fetch. Any failure invalidates
// the session: a stale or revoked token must not linger in an ambiguous
// state. The gen guard discards the result when the session was cleared or
// replaced while the fetch was in flight.
func (m *Manager) hydrate(gen uint64) {
	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()
	if tok == "" {
		return
	}

	u, err := m.fetchProfile(context.Background(), tok)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.token != tok {
		// Session was cleared or replaced while validating; ignore.
		return
	}

	if err != nil {
		m.log.Info("portal.restore.invalid", "err", err)
		m.clearLocked()
		return
	}

	if perr := m.persistLocked(tok, u); perr != nil {
		m.clearLocked()
		return
	}
	m.profile = u
	m.state = StateAuthenticated
}

func (m *Manager) fetchProfile(ctx context.Context, tok string) (*identity.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+m.cfg.MePath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch: status %d", resp.StatusCode)
	}

	var u identity.User
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// persistLocked writes token then profile, preserving the invariant that a
// profile is never durably stored without its token.
func (m *Manager) persistLocked(tok string, u *identity.User) error {
	if err := m.storage.Set(m.cfg.tokenKey(), tok); err != nil {
		return err
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return m.storage.Set(m.cfg.userKey(), string(raw))
}

// clearLocked drops all session state. Profile is deleted before token so
// a crash between the two writes cannot leave a profile without a token.
func (m *Manager) clearLocked() {
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	_ = m.storage.Delete(m.cfg.userKey())
	_ = m.storage.Delete(m.cfg.tokenKey())
	m.token = ""
	m.profile = nil
	m.state = StateAnonymous
	m.gen++
}

// armIdleLocked (re)starts the idle countdown for the current generation.
func (m *Manager) armIdleLocked() {
	if m.token == "" {
		return
	}
	if m.idle != nil {
		m.idle.Stop()
	}
	gen := m.gen
	m.idle = time.AfterFunc(m.cfg.IdleTimeout, func() { m.idleExpire(gen) })
}

func (m *Manager) idleExpire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.token == "" {
		return
	}
	m.log.Info("portal.idle_timeout")
	m.clearLocked()
}
