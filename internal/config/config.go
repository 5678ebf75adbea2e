package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	CORSOrigins []string

	AuthSecret string
	SeedUsers  map[string]string // student id -> bcrypt hash

	BackendBaseURL string
	BackendToken   string
	BackendTimeout time.Duration

	DBDriver string
	DBDSN    string

	HistoryTTL       time.Duration // test-record cache time-to-live
	IdentityTTL      time.Duration // student-identity freshness window
	LiveWindow       int           // records per live delivery
	RetryInterval    time.Duration // janitor cadence for retained submissions
	SessionIdleLimit time.Duration

	LogLevel string
}

func FromEnv() Config {
	return Config{
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		CORSOrigins:      csvOr("CORS_ORIGINS", "http://localhost:3000"),
		AuthSecret:       envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		SeedUsers:        pairsOr("AUTH_SEED_USERS", ""),
		BackendBaseURL:   envOr("BACKEND_BASE_URL", "http://localhost:9090"),
		BackendToken:     os.Getenv("BACKEND_TOKEN"),
		BackendTimeout:   durOr("BACKEND_TIMEOUT", 15*time.Second),
		DBDriver:         envOr("DB_DRIVER", "sqlite"),
		DBDSN:            envOr("DB_DSN", ""),
		HistoryTTL:       durOr("HISTORY_CACHE_TTL", 5*time.Minute),
		IdentityTTL:      durOr("IDENTITY_TTL", 30*time.Minute),
		LiveWindow:       intOr("LIVE_WINDOW", 20),
		RetryInterval:    durOr("RETRY_INTERVAL", 5*time.Minute),
		SessionIdleLimit: durOr("SESSION_IDLE_LIMIT", 2*time.Hour),
		LogLevel:         envOr("LOG_LEVEL", "info"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func intOr(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func durOr(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return d
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// pairsOr parses "id:bcryptHash,id:bcryptHash" into a map.
func pairsOr(k, def string) map[string]string {
	out := map[string]string{}
	for _, p := range csvOr(k, def) {
		id, hash, ok := strings.Cut(p, ":")
		if ok && id != "" && hash != "" {
			out[id] = hash
		}
	}
	return out
}
