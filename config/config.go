package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ApiBaseUrl    string
	ApiToken      string
	RedisAddr     string // vide : cache LRU en mémoire
	NatsUrl       string // vide : polling uniquement
	SubjectPrefix string
	OtelEndpoint  string
	Env           string // "local" ou "prod"

	HTTPPort    string
	GRPCPort    string
	CorsOrigins []string

	FeedKind      string
	PageSize      int
	InitialBatch  int
	PollInterval  time.Duration
	ProbeInterval time.Duration
	PushRetry     time.Duration
	CacheTTL      time.Duration
	CacheEntries  int
	RefetchAfter  time.Duration
	EchoWindow    time.Duration
	HTTPTimeout   time.Duration
}

// Load lit l'environnement, après un éventuel fichier .env.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Unable to read .env file", "error", err)
	}

	return Config{
		ApiBaseUrl:    getEnv("API_BASE_URL", "http://api-gateway:8080/api"),
		ApiToken:      getEnv("API_TOKEN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		NatsUrl:       getEnv("NATS_URL", "nats://nats:4222"),
		SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "feed.events"),
		OtelEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "jaeger:4317"),
		Env:           getEnv("APP_ENV", "local"),

		HTTPPort:    getEnv("HTTP_PORT", "8085"),
		GRPCPort:    getEnv("GRPC_PORT", "50055"),
		CorsOrigins: getList("CORS_ORIGINS", "http://localhost:3000,http://localhost:19006"),

		FeedKind:      getEnv("FEED_KIND", "chronological"),
		PageSize:      getInt("PAGE_SIZE", 20),
		InitialBatch:  getInt("INITIAL_BATCH", 5),
		PollInterval:  getDuration("POLL_INTERVAL", 30*time.Second),
		ProbeInterval: getDuration("PROBE_INTERVAL", 60*time.Second),
		PushRetry:     getDuration("PUSH_RETRY_INTERVAL", 2*time.Minute),
		CacheTTL:      getDuration("CACHE_TTL", 24*time.Hour),
		CacheEntries:  getInt("CACHE_ENTRIES", 256),
		RefetchAfter:  getDuration("REFETCH_AFTER", 0),
		EchoWindow:    getDuration("ECHO_WINDOW", 2*time.Minute),
		HTTPTimeout:   getDuration("HTTP_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

// getDuration accepte "30s", "5m"... ou un nombre de secondes.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	slog.Warn("Invalid duration, using default", "key", key, "value", v, "default", fallback)
	return fallback
}

func getList(key, fallback string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, fallback), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
