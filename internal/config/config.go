// Package config centralizes application configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
)

type Config struct {
	Mode     string
	Server   ServerConfig
	Storage  StorageConfig
	Governor GovernorConfig
	Adaptive AdaptiveConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	Type  string
	Redis RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type GovernorConfig struct {
	Rules         map[domain.ActionType]domain.Rule
	SweepInterval time.Duration
	MaxRecordAge  time.Duration
}

type AdaptiveConfig struct {
	RapidRequestThreshold int
	DominantActionRatio   float64
	DominantMinSamples    int
	BlockedThreshold      int
	SuspiciousFactor      float64
}

type ClientConfig struct {
	BaseURL        string
	EnforceHTTPS   bool
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	NotifyThrottle time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	mode := getEnv("APP_MODE", "development")
	switch mode {
	case "production", "development", "test":
	default:
		return Config{}, fmt.Errorf("invalid APP_MODE: %s", mode)
	}

	server := ServerConfig{Port: getEnv("SERVER_PORT", "8080")}

	storage, err := buildStorageConfig()
	if err != nil {
		return Config{}, err
	}

	governor, err := buildGovernorConfig()
	if err != nil {
		return Config{}, err
	}

	adaptive, err := buildAdaptiveConfig()
	if err != nil {
		return Config{}, err
	}

	client, err := buildClientConfig()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:     mode,
		Server:   server,
		Storage:  storage,
		Governor: governor,
		Adaptive: adaptive,
		Client:   client,
	}, nil
}

func buildStorageConfig() (StorageConfig, error) {
	storageType := getEnv("STORAGE_TYPE", "memory")
	if storageType != "memory" && storageType != "redis" {
		return StorageConfig{}, fmt.Errorf("unsupported STORAGE_TYPE: %s", storageType)
	}

	port, err := intEnv("REDIS_PORT", 6379)
	if err != nil {
		return StorageConfig{}, err
	}
	db, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		Type: storageType,
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     port,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		},
	}, nil
}

func buildGovernorConfig() (GovernorConfig, error) {
	sweepSeconds, err := intEnv("RATE_SWEEP_INTERVAL_SECONDS", 300)
	if err != nil {
		return GovernorConfig{}, err
	}
	maxAgeHours, err := intEnv("RATE_RECORD_MAX_AGE_HOURS", 24)
	if err != nil {
		return GovernorConfig{}, err
	}

	rules, err := buildRuleOverrides()
	if err != nil {
		return GovernorConfig{}, err
	}

	return GovernorConfig{
		Rules:         rules,
		SweepInterval: time.Duration(sweepSeconds) * time.Second,
		MaxRecordAge:  time.Duration(maxAgeHours) * time.Hour,
	}, nil
}

// buildRuleOverrides starts from the default rule table and applies any
// RATE_LIMIT_<ACTION>_REQUESTS / RATE_LIMIT_<ACTION>_WINDOW_SECONDS pairs.
func buildRuleOverrides() (map[domain.ActionType]domain.Rule, error) {
	rules := domain.DefaultRules()

	for action, rule := range rules {
		prefix := "RATE_LIMIT_" + string(action)

		requests, err := intEnv(prefix+"_REQUESTS", rule.Limit)
		if err != nil {
			return nil, err
		}
		windowSeconds, err := intEnv(prefix+"_WINDOW_SECONDS", int(rule.Window.Seconds()))
		if err != nil {
			return nil, err
		}
		if requests <= 0 || windowSeconds <= 0 {
			return nil, fmt.Errorf("rule for %s must have positive values", action)
		}

		rules[action] = domain.Rule{
			Limit:  requests,
			Window: time.Duration(windowSeconds) * time.Second,
		}
	}

	return rules, nil
}

func buildAdaptiveConfig() (AdaptiveConfig, error) {
	rapid, err := intEnv("ADAPTIVE_RAPID_REQUEST_THRESHOLD", 50)
	if err != nil {
		return AdaptiveConfig{}, err
	}
	blocked, err := intEnv("ADAPTIVE_BLOCKED_THRESHOLD", 10)
	if err != nil {
		return AdaptiveConfig{}, err
	}
	ratio, err := floatEnv("ADAPTIVE_DOMINANT_ACTION_RATIO", 0.8)
	if err != nil {
		return AdaptiveConfig{}, err
	}
	minSamples, err := intEnv("ADAPTIVE_DOMINANT_MIN_SAMPLES", 10)
	if err != nil {
		return AdaptiveConfig{}, err
	}
	factor, err := floatEnv("ADAPTIVE_SUSPICIOUS_FACTOR", 0.1)
	if err != nil {
		return AdaptiveConfig{}, err
	}

	return AdaptiveConfig{
		RapidRequestThreshold: rapid,
		DominantActionRatio:   ratio,
		DominantMinSamples:    minSamples,
		BlockedThreshold:      blocked,
		SuspiciousFactor:      factor,
	}, nil
}

func buildClientConfig() (ClientConfig, error) {
	timeoutSeconds, err := intEnv("API_TIMEOUT_SECONDS", 30)
	if err != nil {
		return ClientConfig{}, err
	}
	maxRetries, err := intEnv("API_MAX_RETRIES", 3)
	if err != nil {
		return ClientConfig{}, err
	}
	baseDelayMs, err := intEnv("API_RETRY_BASE_DELAY_MS", 1000)
	if err != nil {
		return ClientConfig{}, err
	}
	throttleMs, err := intEnv("NOTIFY_THROTTLE_MS", 3000)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		BaseURL:        getEnv("API_BASE_URL", "http://localhost:4000"),
		EnforceHTTPS:   boolEnv("ENFORCE_HTTPS", true),
		Timeout:        time.Duration(timeoutSeconds) * time.Second,
		MaxRetries:     maxRetries,
		RetryBaseDelay: time.Duration(baseDelayMs) * time.Millisecond,
		NotifyThrottle: time.Duration(throttleMs) * time.Millisecond,
	}, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func boolEnv(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	return raw == "1" || raw == "true" || raw == "yes"
}
