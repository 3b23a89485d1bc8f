package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvironmentVariable overrides Environment when set.
const EnvironmentVariable = "LEDGER_ENV"

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	Log       Log       `toml:"log"`
	Ledger    Ledger    `toml:"ledger"`
	Rent      Rent      `toml:"rent"`
	RateLimit RateLimit `toml:"rate_limit"`
	Telemetry Telemetry `toml:"telemetry"`
	Genesis   Genesis   `toml:"genesis"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		DataDir:       "./ledger-data",
		Environment:   "local",
		Log:           Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Ledger:        Ledger{StalenessWindowHours: 48, MaxPurchasePerCall: 1000, PriceBandDivisor: 5},
		Rent:          Rent{LamportsPerByteYear: 3480, ExemptionYears: 2},
		RateLimit:     RateLimit{RequestsPerMinute: 600, Burst: 50},
		Telemetry:     Telemetry{Endpoint: "localhost:4318", Insecure: true},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists. Missing fields fall back to their defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if env := strings.TrimSpace(os.Getenv(EnvironmentVariable)); env != "" {
		cfg.Environment = env
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StalenessWindow returns the configured proof staleness window.
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.Ledger.StalenessWindowHours) * time.Hour
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if env := strings.TrimSpace(os.Getenv(EnvironmentVariable)); env != "" {
		cfg.Environment = env
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
