package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisAddr, when set, moves bearer token storage to Redis so tokens
	// survive restarts and are shared across replicas.
	RedisAddr     string
	RedisPassword string

	// UploadsDir is where the upload relay stores objects.
	UploadsDir      string
	UploadsMaxBytes int64

	// StaticDir, when set, is served at / (the marketing site build).
	StaticDir string

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BLUEPEAK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BLUEPEAK_LOG_LEVEL", "info"),
		LogPretty: EnvBool("BLUEPEAK_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("BLUEPEAK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BLUEPEAK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BLUEPEAK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BLUEPEAK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BLUEPEAK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BLUEPEAK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BLUEPEAK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BLUEPEAK_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("BLUEPEAK_REDIS_ADDR", ""),
		RedisPassword: EnvString("BLUEPEAK_REDIS_PASSWORD", ""),

		UploadsDir:      EnvString("BLUEPEAK_UPLOADS_DIR", "data/uploads"),
		UploadsMaxBytes: EnvInt64("BLUEPEAK_UPLOADS_MAX_BYTES", 50<<20),

		StaticDir: EnvString("BLUEPEAK_STATIC_DIR", ""),

		ReadinessRequireDB: EnvBool("BLUEPEAK_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvStringSlice("BLUEPEAK_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("BLUEPEAK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BLUEPEAK_CORS_MAX_AGE_SECONDS", 600),
	}
}
