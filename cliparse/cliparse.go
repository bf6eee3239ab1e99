package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultPort                 = 3318
	DefaultIdempotencyRetention = 72 * time.Hour
	DefaultStatsInterval        = 30 * time.Second
	DefaultBackfillLimit        = 50
)

type Config struct {
	Port                 int
	DatabaseURL          string
	DatabaseType         string
	StaffKeySalt         string
	RedisURL             string
	IdempotencyRetention time.Duration
	StatsInterval        time.Duration
	BackfillLimit        int
}

// ParseFlags validates flags and sets port number
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var retention, statsInterval string

	fs := flag.NewFlagSet("doorlist", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.RedisURL, "redis", "", "Redis URL for multi-instance fan-out (optional)")

	// Tuning
	fs.StringVar(&retention, "retention", "", "Idempotency log retention (e.g. 72h)")
	fs.StringVar(&statsInterval, "stats-interval", "", "Periodic stats broadcast interval")
	fs.IntVar(&cfg.BackfillLimit, "backfill", 0, "Default number of transitions in a backfill")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.StaffKeySalt, "staff-salt", "", "Staff key salt (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = DefaultPort
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = "sqlite"
		}
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}

	var err error
	if cfg.IdempotencyRetention, err = durationSetting(retention, "IDEMPOTENCY_RETENTION", DefaultIdempotencyRetention); err != nil {
		return Config{}, err
	}
	if cfg.StatsInterval, err = durationSetting(statsInterval, "STATS_INTERVAL", DefaultStatsInterval); err != nil {
		return Config{}, err
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = DefaultBackfillLimit
	}

	// Secrets - MUST be provided
	if cfg.StaffKeySalt == "" {
		cfg.StaffKeySalt = os.Getenv("STAFF_KEY_SALT")
	}
	if cfg.StaffKeySalt == "" {
		return Config{}, errors.New("STAFF_KEY_SALT required")
	}

	return cfg, nil
}

// DeviceConfig configures the staff device agent
type DeviceConfig struct {
	ServerURL     string
	EventRef      string
	StaffID       string
	StaffKey      string
	QueuePath     string
	SubmitTimeout time.Duration
	ProbeInterval time.Duration
}

// ParseDeviceFlags parses the device agent's flags with env fallbacks
func ParseDeviceFlags(args []string) (DeviceConfig, error) {
	var cfg DeviceConfig
	var submitTimeout, probeInterval string

	fs := flag.NewFlagSet("doorlist-device", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "s", "", "Server base URL")
	fs.StringVar(&cfg.EventRef, "e", "", "Event reference")
	fs.StringVar(&cfg.StaffID, "staff", "", "Staff identity")
	fs.StringVar(&cfg.StaffKey, "key", "", "Staff key (prefer env)")
	fs.StringVar(&cfg.QueuePath, "q", "", "Path of the local queue file")
	fs.StringVar(&submitTimeout, "timeout", "", "Per-submission timeout")
	fs.StringVar(&probeInterval, "probe", "", "Connectivity probe interval")

	if err := fs.Parse(args); err != nil {
		return DeviceConfig{}, err
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = os.Getenv("SERVER_URL")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:" + strconv.Itoa(DefaultPort)
	}
	if cfg.EventRef == "" {
		cfg.EventRef = os.Getenv("EVENT_REF")
	}
	if cfg.EventRef == "" {
		return DeviceConfig{}, errors.New("event reference required (use -e or EVENT_REF env)")
	}
	if cfg.StaffID == "" {
		cfg.StaffID = os.Getenv("STAFF_ID")
	}
	if cfg.StaffID == "" {
		return DeviceConfig{}, errors.New("STAFF_ID required")
	}
	if cfg.StaffKey == "" {
		cfg.StaffKey = os.Getenv("STAFF_KEY")
	}
	if cfg.StaffKey == "" {
		return DeviceConfig{}, errors.New("STAFF_KEY required")
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = os.Getenv("QUEUE_PATH")
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = "doorlist-" + cfg.EventRef + ".db"
	}

	var err error
	if cfg.SubmitTimeout, err = durationSetting(submitTimeout, "SUBMIT_TIMEOUT", 10*time.Second); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.ProbeInterval, err = durationSetting(probeInterval, "PROBE_INTERVAL", 5*time.Second); err != nil {
		return DeviceConfig{}, err
	}

	return cfg, nil
}

// durationSetting resolves flag value, then env, then default
func durationSetting(flagValue, envKey string, def time.Duration) (time.Duration, error) {
	raw := flagValue
	if raw == "" {
		raw = os.Getenv(envKey)
	}
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", envKey, raw)
	}
	return d, nil
}
