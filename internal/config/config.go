package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDriver string // "postgres" | "sqlite"
	DatabaseURL    string
	HTTPAddr       string
	APIKeyPepper   string
	PublicBaseURL  string

	EncryptionKey string

	TwitterConsumerKey    string
	TwitterConsumerSecret string

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	HandshakeTTLSeconds int

	RewardsFile string

	MediaProvider        string // "aliyun" | "local" | ""
	MediaOSSEndpoint     string
	MediaOSSBucket       string
	MediaOSSBasePrefix   string
	MediaOSSAccessKeyID  string
	MediaOSSAccessSecret string
	MediaLocalDir        string
}

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	handshakeTTL := getenvIntDefault("AGENTNET_HANDSHAKE_TTL_SECONDS", 600)
	if handshakeTTL < 60 {
		handshakeTTL = 60
	}

	cfg := Config{
		DatabaseDriver: getenvDefault("AGENTNET_DATABASE_DRIVER", "postgres"),
		DatabaseURL:    os.Getenv("AGENTNET_DATABASE_URL"),
		HTTPAddr:       getenvDefault("AGENTNET_HTTP_ADDR", ":8080"),
		APIKeyPepper:   os.Getenv("AGENTNET_API_KEY_PEPPER"),
		PublicBaseURL:  strings.TrimRight(strings.TrimSpace(os.Getenv("AGENTNET_PUBLIC_BASE_URL")), "/"),

		EncryptionKey: strings.TrimSpace(os.Getenv("AGENTNET_ENCRYPTION_KEY")),

		TwitterConsumerKey:    strings.TrimSpace(os.Getenv("AGENTNET_TWITTER_CONSUMER_KEY")),
		TwitterConsumerSecret: strings.TrimSpace(os.Getenv("AGENTNET_TWITTER_CONSUMER_SECRET")),

		RedisAddr:           getenvDefault("AGENTNET_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:       os.Getenv("AGENTNET_REDIS_PASSWORD"),
		RedisDB:             getenvIntDefault("AGENTNET_REDIS_DB", 0),
		HandshakeTTLSeconds: handshakeTTL,

		RewardsFile: strings.TrimSpace(os.Getenv("AGENTNET_REWARDS_FILE")),

		MediaProvider:        strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_PROVIDER")),
		MediaOSSEndpoint:     strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_OSS_ENDPOINT")),
		MediaOSSBucket:       strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_OSS_BUCKET")),
		MediaOSSBasePrefix:   strings.Trim(strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_OSS_BASE_PREFIX")), "/"),
		MediaOSSAccessKeyID:  strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_OSS_ACCESS_KEY_ID")),
		MediaOSSAccessSecret: strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_OSS_ACCESS_KEY_SECRET")),
		MediaLocalDir:        strings.TrimSpace(os.Getenv("AGENTNET_MEDIA_LOCAL_DIR")),
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, errors.New("AGENTNET_DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("AGENTNET_DATABASE_URL is required")
	}
	if cfg.APIKeyPepper == "" {
		return Config{}, errors.New("AGENTNET_API_KEY_PEPPER is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
