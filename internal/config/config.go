package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the tracker reads from the environment.
type Config struct {
	// Marketplace API
	APIBaseURL       string
	OAuthTokenURL    string
	ClientID         string
	ClientSecret     string
	ConnectedRealmID int

	// Polling cadence (seconds)
	ItemsIntervalSec           int
	ItemsPeakIntervalSec       int
	CommoditiesIntervalSec     int
	CommoditiesPeakIntervalSec int
	PeakStartHour              int
	PeakEndHour                int
	JitterFraction             float64

	// Fetcher
	MaxRetries     int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
	RequestsPerSec float64

	// Event log / stats
	RetentionHours int
	StatsWindows   []int

	// Persistence
	DataDir       string
	FlushSchedule string

	// HTTP API
	ListenAddr string
}

// Load reads configuration from the environment, after best-effort loading a
// local .env file.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:                 getString("AW_API_BASE_URL", "https://us.api.blizzard.com"),
		OAuthTokenURL:              getString("AW_OAUTH_TOKEN_URL", "https://oauth.battle.net/token"),
		ClientID:                   os.Getenv("AW_CLIENT_ID"),
		ClientSecret:               os.Getenv("AW_CLIENT_SECRET"),
		ConnectedRealmID:           getInt("AW_CONNECTED_REALM_ID", 0),
		ItemsIntervalSec:           getInt("AW_ITEMS_INTERVAL_SEC", 90),
		ItemsPeakIntervalSec:       getInt("AW_ITEMS_PEAK_INTERVAL_SEC", 45),
		CommoditiesIntervalSec:     getInt("AW_COMMODITIES_INTERVAL_SEC", 60),
		CommoditiesPeakIntervalSec: getInt("AW_COMMODITIES_PEAK_INTERVAL_SEC", 30),
		PeakStartHour:              getInt("AW_PEAK_START_HOUR", 18),
		PeakEndHour:                getInt("AW_PEAK_END_HOUR", 23),
		JitterFraction:             getFloat("AW_JITTER_FRACTION", 0.2),
		MaxRetries:                 getInt("AW_MAX_RETRIES", 3),
		BackoffBase:                getDuration("AW_BACKOFF_BASE", 500*time.Millisecond),
		RequestTimeout:             getDuration("AW_REQUEST_TIMEOUT", 30*time.Second),
		RequestsPerSec:             getFloat("AW_REQUESTS_PER_SEC", 4),
		RetentionHours:             getInt("AW_RETENTION_HOURS", 72),
		StatsWindows:               []int{6, 12, 24, 48},
		DataDir:                    getString("AW_DATA_DIR", "data"),
		FlushSchedule:              getString("AW_FLUSH_SCHEDULE", "@every 5m"),
		ListenAddr:                 getString("AW_LISTEN_ADDR", ":8080"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.ConnectedRealmID <= 0 {
		return fmt.Errorf("AW_CONNECTED_REALM_ID must be set to a positive realm id")
	}
	if c.PeakStartHour < 0 || c.PeakStartHour > 23 || c.PeakEndHour < 0 || c.PeakEndHour > 23 {
		return fmt.Errorf("peak hours must be within 0-23 (got %d-%d)", c.PeakStartHour, c.PeakEndHour)
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		return fmt.Errorf("AW_JITTER_FRACTION must be in [0,1) (got %g)", c.JitterFraction)
	}
	if c.RetentionHours <= 0 {
		return fmt.Errorf("AW_RETENTION_HOURS must be positive (got %d)", c.RetentionHours)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
