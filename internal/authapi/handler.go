// Package authapi wires the role-scoped portal auth endpoints: login for
// all three portals, self-signup for clients, and the bearer-authenticated
// /me profile fetch each portal validates its stored token against.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"bluepeak/internal/identity"
	"bluepeak/internal/token"
)

// portalBase maps a portal name to its API path segment.
var portalBase = map[string]string{
	"admin":  "/api/admin",
	"client": "/api/client",
	"team":   "/api/team-portal",
}

// Handler wires HTTP auth endpoints to the identity and token services.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	users   identity.Store
	tokens  *token.Service
	captcha CaptchaVerifier
	limiter *loginLimiter

	// signupHook runs after each successful client signup.
	signupHook func(ctx context.Context)

	// dummyHash keeps unknown-user logins on the same timing path as
	// wrong-password logins.
	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithCaptchaVerifier overrides the default no-op captcha verifier.
func WithCaptchaVerifier(v CaptchaVerifier) HandlerOption {
	return func(h *Handler) {
		if h != nil && v != nil {
			h.captcha = v
		}
	}
}

// WithSignupHook runs fn after every successful client signup.
func WithSignupHook(fn func(ctx context.Context)) HandlerOption {
	return func(h *Handler) {
		if h != nil {
			h.signupHook = fn
		}
	}
}

// NewHandler constructs an auth Handler over the given stores.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, tokens *token.Service, opts ...HandlerOption) (*Handler, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("authapi: nil store")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		users:   users,
		tokens:  tokens,
		captcha: NoopCaptchaVerifier{},
		limiter: newLoginLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires the portal auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	for portal, base := range portalBase {
		mux.HandleFunc(base+"/login", h.handleLogin(portal))
		mux.HandleFunc(base+"/me", h.handleMe(portal))
	}
	mux.HandleFunc(portalBase["client"]+"/signup", h.handleSignup)
}

func (h *Handler) handleLogin(portal string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		now := time.Now().UTC()
		ip := clientIP(r, h.cfg.TrustProxy)
		if h.limiter.blocked(ip, now) {
			writeRateLimited(w, h.cfg.LoginIPWindow)
			return
		}

		var req loginRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := h.enforceCaptcha(r.Context(), portal, req.CaptchaToken, ip); err != nil {
			writeError(w, http.StatusBadRequest, "verification failed, please retry")
			return
		}

		u, err := h.users.GetByEmail(r.Context(), req.Email)
		if err != nil {
			// Burn the same hashing cost as a real verification.
			_, _ = identity.VerifyPassword(req.Password, h.dummyHash)
			h.loginFailed(w, ip, now, portal, "unknown_user")
			return
		}

		match, verr := identity.VerifyPassword(req.Password, u.PasswordHash)
		if verr != nil || !match {
			h.loginFailed(w, ip, now, portal, "bad_password")
			return
		}
		if !u.PortalRole(portal) {
			h.loginFailed(w, ip, now, portal, "wrong_portal")
			return
		}

		plain, _, err := h.tokens.Issue(r.Context(), now, u)
		if err != nil {
			h.log.Error("auth.login.issue_fail", "err", err)
			writeError(w, http.StatusInternalServerError, "could not start session")
			return
		}

		h.log.Info("auth.login", "portal", portal, "user", u.ID)
		writeJSON(w, http.StatusOK, authResponse{Token: plain, User: publicUser(u)})
	}
}

// loginFailed answers every credential failure identically so callers
// cannot probe which portal or mailbox exists.
func (h *Handler) loginFailed(w http.ResponseWriter, ip net.IP, now time.Time, portal, why string) {
	h.limiter.recordFailure(ip, now)
	h.log.Info("auth.login.failed", "portal", portal, "why", why)
	writeError(w, http.StatusUnauthorized, "invalid email or password")
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.enforceCaptcha(r.Context(), "client", req.CaptchaToken, ip); err != nil {
		writeError(w, http.StatusBadRequest, "verification failed, please retry")
		return
	}

	u, err := h.users.CreateUser(r.Context(), identity.CreateUserInput{
		Role:        identity.RoleClient,
		Email:       req.Email,
		DisplayName: req.Name,
		Password:    req.Password,
		Now:         now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "an account with this email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, userFacingReason(err))
		default:
			h.log.Error("auth.signup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "could not create account")
		}
		return
	}

	plain, _, err := h.tokens.Issue(r.Context(), now, u)
	if err != nil {
		h.log.Error("auth.signup.issue_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "could not start session")
		return
	}

	h.log.Info("auth.signup", "user", u.ID)
	if h.signupHook != nil {
		h.signupHook(r.Context())
	}
	writeJSON(w, http.StatusOK, authResponse{Token: plain, User: publicUser(u)})
}

func (h *Handler) handleMe(portal string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		u, err := h.UserFromRequest(r, portal)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		writeJSON(w, http.StatusOK, publicUser(u))
	}
}

// UserFromRequest resolves the bearer token on r to a user whose role may
// use the given portal. Shared with the notification endpoints.
func (h *Handler) UserFromRequest(r *http.Request, portal string) (identity.User, error) {
	tok := bearerToken(r)
	if tok == "" {
		return identity.User{}, token.ErrTokenNotFound
	}

	grant, err := h.tokens.Validate(r.Context(), time.Now().UTC(), tok)
	if err != nil {
		return identity.User{}, err
	}

	u, err := h.users.GetByID(r.Context(), grant.UserID)
	if err != nil {
		return identity.User{}, err
	}
	if !u.PortalRole(portal) {
		return identity.User{}, token.ErrTokenNotFound
	}
	return u, nil
}

func (h *Handler) enforceCaptcha(ctx context.Context, portal, tok string, ip net.IP) error {
	if !h.cfg.RequireCaptcha || portal == "team" {
		return nil
	}
	if strings.TrimSpace(tok) == "" {
		return ErrCaptchaRequired
	}
	return h.captcha.Verify(ctx, tok, ip)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(prefix):])
}

// publicUser strips fields the wire contract never exposes.
func publicUser(u identity.User) identity.User {
	u.PasswordHash = ""
	return u
}

func userFacingReason(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid signup details"
}
