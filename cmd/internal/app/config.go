package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Message store backends, in order of preference:
	// Mongo when MongoURI is set, Postgres when DatabaseURL is set,
	// in-memory otherwise (dev only).
	MongoURI      string
	MongoDatabase string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Presence backend: Redis-backed when RedisAddr is set so presence
	// survives across gateway instances, in-memory otherwise.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TokenSecret signs and verifies session JWTs (HS256, min 32 bytes).
	// When empty and DevInsecureAuth is true, handshake tokens are plain
	// "user_id:display_name" pairs. Never run that mode in production.
	TokenSecret     string
	TokenIssuer     string
	DevInsecureAuth bool

	// If true, /readyz returns 503 unless a message store backend is
	// configured and reachable.
	ReadinessRequireDB bool

	// Shared secret for POST /internal/notify. The endpoint is disabled
	// when empty.
	InternalNotifyToken string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  envString("SPERANZA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  envString("SPERANZA_LOG_LEVEL", "info"),
		LogFormat: envString("SPERANZA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: envDuration("SPERANZA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       envDuration("SPERANZA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envDuration("SPERANZA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       envDuration("SPERANZA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: envInt("SPERANZA_HTTP_MAX_HEADER_BYTES", 1<<20),

		MongoURI:      envString("SPERANZA_MONGO_URI", ""),
		MongoDatabase: envString("SPERANZA_MONGO_DATABASE", "speranza"),

		DatabaseURL: envString("SPERANZA_DATABASE_URL", ""),
		DBMaxConns:  envInt32("SPERANZA_DB_MAX_CONNS", 10),
		DBMinConns:  envInt32("SPERANZA_DB_MIN_CONNS", 0),

		RedisAddr:     envString("SPERANZA_REDIS_ADDR", ""),
		RedisPassword: envString("SPERANZA_REDIS_PASSWORD", ""),
		RedisDB:       envIntAllowZero("SPERANZA_REDIS_DB", 0),

		TokenSecret:     envString("SPERANZA_TOKEN_SECRET", ""),
		TokenIssuer:     envString("SPERANZA_TOKEN_ISSUER", ""),
		DevInsecureAuth: envBool("SPERANZA_DEV_INSECURE_AUTH", false),

		ReadinessRequireDB: envBool("SPERANZA_READINESS_REQUIRE_DB", false),

		InternalNotifyToken: envString("SPERANZA_INTERNAL_NOTIFY_TOKEN", ""),

		CORSAllowedOrigins:   envCSV("SPERANZA_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: envBool("SPERANZA_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    envInt("SPERANZA_CORS_MAX_AGE_SECONDS", 600),
	}
}
