package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Storage
	StoreType          string
	MongoURI           string
	MongoDB            string
	FirestoreProjectID string
	FirestorePrefix    string

	// Collaborators
	WalletURL    string
	WalletAPIKey string
	CatalogURL   string
	PublicURL    string

	// Identity
	JWTSecret string

	// Payment trigger
	PaymentTimeout       time.Duration
	PaymentRetryInterval time.Duration
	PaymentMaxAttempts   int

	// EventWebhooks maps event types (or "*") to webhook URLs.
	EventWebhooks map[string][]string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		StoreType:            getEnv("STORE_TYPE", "memory"),
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDB:              getEnv("MONGO_DB", "aex"),
		FirestoreProjectID:   getEnv("FIRESTORE_PROJECT_ID", ""),
		FirestorePrefix:      getEnv("FIRESTORE_COLLECTION_PREFIX", "negotiation_"),
		WalletURL:            getEnv("WALLET_URL", ""),
		WalletAPIKey:         getEnv("WALLET_API_KEY", ""),
		CatalogURL:           getEnv("CATALOG_URL", ""),
		PublicURL:            getEnv("PUBLIC_URL", "http://localhost:8080"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		PaymentTimeout:       getEnvDuration("PAYMENT_TIMEOUT", 5*time.Second),
		PaymentRetryInterval: getEnvDuration("PAYMENT_RETRY_INTERVAL", 30*time.Second),
		PaymentMaxAttempts:   getEnvInt("PAYMENT_MAX_ATTEMPTS", 5),
	}

	webhooks, err := parseWebhooks(getEnv("EVENT_WEBHOOKS", ""))
	if err != nil {
		return nil, err
	}
	cfg.EventWebhooks = webhooks

	switch cfg.StoreType {
	case "memory", "mongo":
	case "firestore":
		if cfg.FirestoreProjectID == "" {
			return nil, fmt.Errorf("FIRESTORE_PROJECT_ID is required when STORE_TYPE=firestore")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_TYPE %q", cfg.StoreType)
	}
	if cfg.JWTSecret == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("JWT_SECRET is required outside development")
	}
	if cfg.PaymentMaxAttempts < 1 {
		return nil, fmt.Errorf("PAYMENT_MAX_ATTEMPTS must be at least 1, got %d", cfg.PaymentMaxAttempts)
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// parseWebhooks reads "event=url,event=url" pairs. Repeating an event type
// registers several endpoints.
func parseWebhooks(raw string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eventType, url, ok := strings.Cut(pair, "=")
		if !ok || eventType == "" || url == "" {
			return nil, fmt.Errorf("EVENT_WEBHOOKS entry %q is not event=url", pair)
		}
		out[eventType] = append(out[eventType], url)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
