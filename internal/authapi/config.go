package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy enables X-Forwarded-For parsing for client IPs.
	TrustProxy bool

	// MaxBodyBytes caps request bodies on every auth endpoint.
	MaxBodyBytes int64

	// RequireCaptcha enforces bot verification on admin/client login and
	// client signup. The team portal sits behind the office VPN and is
	// exempt.
	RequireCaptcha bool

	// Per-IP login failure throttling.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// TokenTTL is the bearer token lifetime.
	TokenTTL time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:     envBool("BLUEPEAK_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:   envInt64("BLUEPEAK_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		RequireCaptcha: envBool("BLUEPEAK_AUTH_REQUIRE_CAPTCHA", false),
		LoginIPMax:     envInt("BLUEPEAK_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:  envDuration("BLUEPEAK_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		TokenTTL:       envDuration("BLUEPEAK_AUTH_TOKEN_TTL", 12*time.Hour),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.LoginIPMax <= 0 {
		cfg.LoginIPMax = 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
