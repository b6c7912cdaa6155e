package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrCaptchaRequired indicates captcha is enforced but no token was sent.
	ErrCaptchaRequired = errors.New("captcha token required")
	// ErrCaptchaInvalid indicates captcha verification failed.
	ErrCaptchaInvalid = errors.New("captcha invalid")
)

// CaptchaVerifier verifies user-provided bot-verification tokens.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string, ip net.IP) error
}

// NoopCaptchaVerifier accepts every token. Default when no provider is wired.
type NoopCaptchaVerifier struct{}

// Verify accepts unconditionally.
func (NoopCaptchaVerifier) Verify(_ context.Context, _ string, _ net.IP) error { return nil }

// TurnstileVerifier validates tokens against the Cloudflare Turnstile
// siteverify endpoint.
type TurnstileVerifier struct {
	Secret   string
	Endpoint string // defaults to the public siteverify URL
	Client   *http.Client
}

const turnstileEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Verify posts the token to the siteverify endpoint.
func (v *TurnstileVerifier) Verify(ctx context.Context, tok string, ip net.IP) error {
	if strings.TrimSpace(tok) == "" {
		return ErrCaptchaRequired
	}

	endpoint := v.Endpoint
	if endpoint == "" {
		endpoint = turnstileEndpoint
	}
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	form := url.Values{"secret": {v.Secret}, "response": {tok}}
	if ip != nil {
		form.Set("remoteip", ip.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("captcha: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("captcha: %w", err)
	}
	if !out.Success {
		return ErrCaptchaInvalid
	}
	return nil
}

// clientIP extracts the client IP, honoring X-Forwarded-For only when the
// deployment explicitly trusts its proxy tier.
func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if raw := r.Header.Get("X-Forwarded-For"); raw != "" {
			// First hop is the original client.
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(strings.TrimSpace(r.RemoteAddr))
	}
	return net.ParseIP(host)
}
