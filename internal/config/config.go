package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	ServiceName string
	HTTPPort    string
	DatabaseURL string

	// Enabled gates every OAuth and API route. When false the service
	// answers protocol requests with server_error before touching storage.
	Enabled bool

	// RedirectURIs is the server-wide allow-list applied to every client.
	// Configured as a newline or whitespace separated list.
	RedirectURIs []string

	// Scope is the single scope this server issues.
	Scope string

	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// MultipleAccessTokens allows a grant to hold several live access
	// tokens at once instead of replacing the previous one on issue.
	MultipleAccessTokens bool

	// IDTokenSigningAlg is advertised in discovery metadata. Declarative
	// only: id_token values are passed through, never signed here.
	IDTokenSigningAlg string

	// LoginURL is the host platform's login page; unauthenticated
	// authorize requests are redirected there.
	LoginURL string

	// SessionUserHeader names the trusted header carrying the host
	// platform session's user id.
	SessionUserHeader string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CleanupInterval time.Duration

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		ServiceName:          getEnv("SERVICE_NAME", "assistant-auth"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Enabled:              getBool("ASSISTANT_API_ENABLED", true),
		RedirectURIs:         splitURIList(os.Getenv("OAUTH_REDIRECT_URIS")),
		Scope:                getEnv("OAUTH_SCOPE", "webservice"),
		CodeTTL:              getDuration("CODE_TTL", 10*time.Minute),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		MultipleAccessTokens: getBool("MULTIPLE_ACCESS_TOKENS", false),
		IDTokenSigningAlg:    getEnv("ID_TOKEN_SIGNING_ALG", "RS256"),
		LoginURL:             getEnv("LOGIN_URL", "/login"),
		SessionUserHeader:    getEnv("SESSION_USER_HEADER", "X-Session-User"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		CleanupInterval:      getDuration("CLEANUP_INTERVAL", time.Hour),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.RedirectURIs) == 0 {
		return Config{}, fmt.Errorf("OAUTH_REDIRECT_URIS is required")
	}

	return cfg, nil
}

// AllowsRedirectURI checks the exact URI against the configured allow-list.
// Comparison is literal; no normalization is applied.
func (c Config) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

func splitURIList(raw string) []string {
	return strings.Fields(raw)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
