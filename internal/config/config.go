// Package config provides configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"cloud-cost/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Billing contains the compute-unit business parameters
	Billing BillingConfig `json:"billing"`

	// Store contains persistence configuration
	Store StoreConfig `json:"store"`

	// Slack contains notification delivery configuration
	Slack SlackConfig `json:"slack"`

	// Schedule contains cron expressions for the schedule command
	Schedule ScheduleConfig `json:"schedule"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// BillingConfig holds the business parameters of the compute-unit currency.
// The defaults are the historical values; confirm with the system owner
// before relying on them for new deployments.
type BillingConfig struct {
	// CanonicalCurrency is the currency all costs are converted into
	CanonicalCurrency string `json:"canonical_currency"`

	// ExchangeRates maps a provider currency to the canonical one,
	// e.g. "USD": 0.77 converts USD costs into GBP
	ExchangeRates map[string]decimal.Decimal `json:"exchange_rates"`

	// FlatMultiplier converts canonical cost into compute units
	FlatMultiplier decimal.Decimal `json:"flat_multiplier"`

	// RiskMultiplier inflates compute units into risk units
	RiskMultiplier decimal.Decimal `json:"risk_multiplier"`

	// CreditDivisor converts risk units into credits
	CreditDivisor decimal.Decimal `json:"credit_divisor"`

	// FixedMonthlyOverhead is the fixed cluster cost per month, in compute units
	FixedMonthlyOverhead int64 `json:"fixed_monthly_overhead"`

	// DataLagDays is how far behind provider billing data typically runs
	DataLagDays int `json:"data_lag_days"`
}

// StoreConfig contains persistence settings
type StoreConfig struct {
	// DatabasePath is the path to the SQLite database file
	DatabasePath string `json:"database_path"`

	// RegionNamesDir holds the per-provider region display-name YAML files
	RegionNamesDir string `json:"region_names_dir"`
}

// SlackConfig contains chat notification settings
type SlackConfig struct {
	// Token is the bot token used for chat.postMessage. Usually supplied
	// via the SLACK_TOKEN environment variable rather than the file.
	Token string `json:"token,omitempty"`

	// APIURL overrides the Slack endpoint, mainly for tests
	APIURL string `json:"api_url,omitempty"`
}

// ScheduleConfig contains cron expressions for periodic report jobs
type ScheduleConfig struct {
	Daily     string `json:"daily"`
	Weekly    string `json:"weekly"`
	Instances string `json:"instances"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".cloud-cost")

	return &Config{
		Version: "1.0",
		Billing: BillingConfig{
			CanonicalCurrency: "GBP",
			ExchangeRates: map[string]decimal.Decimal{
				"USD": decimal.NewFromFloat(0.77),
			},
			FlatMultiplier:       decimal.NewFromInt(10),
			RiskMultiplier:       decimal.NewFromFloat(1.25),
			CreditDivisor:        decimal.NewFromInt(2300),
			FixedMonthlyOverhead: 5000,
			DataLagDays:          3,
		},
		Store: StoreConfig{
			DatabasePath:   filepath.Join(base, "cost_tracker.sqlite3"),
			RegionNamesDir: filepath.Join(base, "regions"),
		},
		Schedule: ScheduleConfig{
			Daily:     "0 9 * * 1-5",
			Weekly:    "0 10 * * 1",
			Instances: "30 8 * * *",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, layering environment overrides on
// top. A missing file yields the defaults rather than an error.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	config.applyEnv()
	return config, nil
}

// applyEnv layers environment variables over the file values. A .env file
// in the working directory is honoured when present.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if token := os.Getenv("SLACK_TOKEN"); token != "" {
		c.Slack.Token = token
	}
	if rate := os.Getenv("USD_GBP_CONVERSION"); rate != "" {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Billing.ExchangeRates["USD"] = decimal.NewFromFloat(f)
		}
	}
	if path := os.Getenv("COST_TRACKER_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
