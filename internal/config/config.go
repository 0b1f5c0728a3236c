package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Factors defines emission conversion factors.
type Factors struct {
	GridKWh     float64 `yaml:"grid_kwh"`
	DieselLiter float64 `yaml:"diesel_liter"`
}

// Thresholds defines the compliance table in kg CO2 per hour.
type Thresholds struct {
	Info      float64 `yaml:"info"`
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// Anomaly defines spike and temperature detection bounds.
type Anomaly struct {
	Window         time.Duration `yaml:"window"`
	MinSamples     int           `yaml:"min_samples"`
	ZThreshold     float64       `yaml:"z_threshold"`
	MaxTemperature float64       `yaml:"max_temperature"`
}

// Config defines engine configuration. A yaml file named by
// GREENLEDGER_CONFIG seeds it; environment variables fill the gaps.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`

	Plants []string `yaml:"plants"`

	Factors    Factors    `yaml:"factors"`
	Thresholds Thresholds `yaml:"thresholds"`

	Granularities         []string      `yaml:"granularities"`
	EvaluateGranularities []string      `yaml:"evaluate_granularities"`
	Grace                 time.Duration `yaml:"grace"`
	Confirmations         int           `yaml:"confirmations"`
	LaneBuffer            int           `yaml:"lane_buffer"`

	Anomaly Anomaly `yaml:"anomaly"`

	WebhookURL         string        `yaml:"webhook_url"`
	NotifyTemplate     string        `yaml:"notify_template"`
	NotifyCooldown     time.Duration `yaml:"notify_cooldown"`
	NotifyDedupeWindow time.Duration `yaml:"notify_dedupe_window"`

	JWTSecret       string        `yaml:"jwt_secret"`
	IngestSecret    string        `yaml:"ingest_secret"`
	IngestMaxSkew   time.Duration `yaml:"ingest_max_skew"`
}

// Load builds configuration from defaults, yaml and environment.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		Plants:      splitCSV(os.Getenv("GREENLEDGER_PLANTS")),
		Factors: Factors{
			GridKWh:     getenvFloatDefault("FACTOR_GRID_KWH", 0.82),
			DieselLiter: getenvFloatDefault("FACTOR_DIESEL_LITER", 2.31),
		},
		Thresholds: Thresholds{
			Info:      getenvFloatDefault("THRESHOLD_INFO", 300),
			Warning:   getenvFloatDefault("THRESHOLD_WARNING", 400),
			Critical:  getenvFloatDefault("THRESHOLD_CRITICAL", 500),
			Emergency: getenvFloatDefault("THRESHOLD_EMERGENCY", 1000),
		},
		Granularities:         splitCSV(getenvDefault("GRANULARITIES", "1m,10m,1h,24h")),
		EvaluateGranularities: splitCSV(getenvDefault("EVALUATE_GRANULARITIES", "1m,1h")),
		Grace:                 getenvDuration("WINDOW_GRACE", 30*time.Second),
		Confirmations:         getenvIntDefault("DEESCALATION_CONFIRMATIONS", 2),
		LaneBuffer:            getenvIntDefault("LANE_BUFFER", 256),
		Anomaly: Anomaly{
			Window:         getenvDuration("ANOMALY_WINDOW", 10*time.Minute),
			MinSamples:     getenvIntDefault("ANOMALY_MIN_SAMPLES", 5),
			ZThreshold:     getenvFloatDefault("ANOMALY_Z_THRESHOLD", 2.0),
			MaxTemperature: getenvFloatDefault("ANOMALY_MAX_TEMPERATURE", 35.0),
		},
		WebhookURL:         os.Getenv("VIOLATION_WEBHOOK_URL"),
		NotifyTemplate:     os.Getenv("VIOLATION_NOTIFY_TEMPLATE"),
		NotifyCooldown:     getenvDuration("VIOLATION_NOTIFY_COOLDOWN", 0),
		NotifyDedupeWindow: getenvDuration("VIOLATION_NOTIFY_DEDUP_WINDOW", 0),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:       getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestMaxSkew:      getenvDuration("INGEST_MAX_SKEW", 5*time.Minute),
	}

	if path := os.Getenv("GREENLEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: http_addr required")
	}
	if c.Factors.GridKWh <= 0 || c.Factors.DieselLiter <= 0 {
		return errors.New("config: emission factors must be positive")
	}
	if c.Thresholds.Info <= 0 ||
		c.Thresholds.Warning <= c.Thresholds.Info ||
		c.Thresholds.Critical <= c.Thresholds.Warning ||
		c.Thresholds.Emergency <= c.Thresholds.Critical {
		return errors.New("config: thresholds must be positive and strictly ascending")
	}
	if len(c.Granularities) == 0 {
		return errors.New("config: at least one granularity required")
	}
	if c.Grace < 0 {
		return errors.New("config: grace must not be negative")
	}
	if c.Confirmations < 1 {
		return errors.New("config: confirmations must be at least 1")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
