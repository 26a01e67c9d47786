package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Duration wraps time.Duration so TOML values like "2s" decode.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Env selects dev or prod behavior (dev seeds a starter dataset).
	Env string `toml:"env" validate:"oneof=dev prod"`

	DBPath string `toml:"db_path" validate:"required"`

	// LogDir is the root of the CSV decision audit tree.
	LogDir string `toml:"log_dir" validate:"required"`

	// LogRetentionDays prunes CSV day files older than this. 0 = keep forever.
	LogRetentionDays int `toml:"log_retention_days" validate:"gte=0"`

	// LockWindow is how long a reader stays locked after a grant.
	LockWindow Duration `toml:"lock_window" validate:"gte=0"`

	// Traffic simulator (dev tool).
	SimEnabled bool    `toml:"sim_enabled"`
	SimRate    float64 `toml:"sim_rate" validate:"gte=0"`
}

func defaults() Config {
	return Config{
		Env:              "dev",
		DBPath:           "./data/castellan.db",
		LogDir:           "./logs",
		LogRetentionDays: 90,
		LockWindow:       Duration(2 * time.Second),
		SimEnabled:       false,
		SimRate:          2,
	}
}

// Load builds the configuration: defaults, then the optional TOML file
// (path argument, or CASTELLAN_CONFIG), then CASTELLAN_* environment
// overrides. The result is validated before being returned.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CASTELLAN_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = strings.ToLower(getenvDefault("CASTELLAN_ENV", cfg.Env))
	cfg.DBPath = getenvDefault("CASTELLAN_DB_PATH", cfg.DBPath)
	cfg.LogDir = getenvDefault("CASTELLAN_LOG_DIR", cfg.LogDir)
	cfg.LogRetentionDays = getenvInt("CASTELLAN_LOG_RETENTION_DAYS", cfg.LogRetentionDays)

	if v := strings.TrimSpace(os.Getenv("CASTELLAN_LOCK_WINDOW")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.LockWindow = Duration(d)
		}
	}

	if v := os.Getenv("CASTELLAN_SIM"); v != "" {
		cfg.SimEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("CASTELLAN_SIM_RATE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.SimRate = f
		}
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
