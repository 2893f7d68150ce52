package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// AMQP, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Worker
	MetricsAddr     string
	RefreshInterval time.Duration

	// Allocation policy
	RiskMonitorThreshold int
	RiskHighThreshold    int
	DefaultBaseBudget    int64 // cents
	CooldownPresets      map[string]int
	PolicyFile           string

	// Logging
	LogLevel  string
	LogFormat string

	SponsorNameCacheTTL time.Duration
}

// DefaultCooldownPresets are offered unless the policy file replaces them.
func DefaultCooldownPresets() map[string]int {
	return map[string]int{"3m": 3, "6m": 6}
}

func Load() *Config {
	cfg := &Config{
		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/aidledger.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "aidledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "aidledger_events"),

		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", time.Minute),

		RiskMonitorThreshold: getEnvInt("RISK_MONITOR_THRESHOLD", 3),
		RiskHighThreshold:    getEnvInt("RISK_HIGH_THRESHOLD", 5),
		DefaultBaseBudget:    getEnvInt64("DEFAULT_BASE_BUDGET", 70000),
		CooldownPresets:      DefaultCooldownPresets(),
		PolicyFile:           getEnv("POLICY_FILE", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		SponsorNameCacheTTL: getEnvDuration("SPONSOR_NAME_CACHE_TTL", 5*time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.MetricsAddr == "" {
		errors = append(errors, "metrics address cannot be empty")
	}
	if c.RefreshInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %s: must be at least 1s", c.RefreshInterval))
	}

	// Validate allocation policy
	if c.RiskMonitorThreshold < 1 || c.RiskHighThreshold < 1 {
		errors = append(errors, fmt.Sprintf("invalid risk thresholds monitor=%d high=%d: must be at least 1", c.RiskMonitorThreshold, c.RiskHighThreshold))
	} else if c.RiskMonitorThreshold >= c.RiskHighThreshold {
		errors = append(errors, fmt.Sprintf("invalid risk thresholds: monitor %d must be below high %d", c.RiskMonitorThreshold, c.RiskHighThreshold))
	}
	if c.DefaultBaseBudget < 1 {
		errors = append(errors, fmt.Sprintf("invalid default base budget %d: must be a positive number of cents", c.DefaultBaseBudget))
	}
	for name, months := range c.CooldownPresets {
		if strings.TrimSpace(name) == "" {
			errors = append(errors, "cooldown preset name cannot be empty")
		}
		if months < 1 {
			errors = append(errors, fmt.Sprintf("invalid cooldown preset '%s': %d months must be at least 1", name, months))
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if c.SponsorNameCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid sponsor name cache TTL %v: must be positive", c.SponsorNameCacheTTL))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
