// Package config loads replay engine settings from an optional YAML file and
// REPLAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSnapshotInterval is the number of rounds between timeline snapshots.
	DefaultSnapshotInterval = 64
	// DefaultFrameBudget bounds how long one playback frame may spend advancing.
	DefaultFrameBudget = 8 * time.Millisecond
	// DefaultFrameRate is the playback driver frequency in frames per second.
	DefaultFrameRate = 60.0
	// DefaultRoundsPerSecond is the auto-play speed.
	DefaultRoundsPerSecond = 10.0
	// DefaultGRPCAddr is where the timeline service listens.
	DefaultGRPCAddr = ":43128"
	// DefaultCatalogDB is the SQLite file the catalogue tool indexes into.
	DefaultCatalogDB = "replays.db"
	// DefaultRetainBundles caps how many recorded bundles stay on disk.
	DefaultRetainBundles = 20

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "replay.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// GRPC authentication modes.
const (
	GRPCAuthModeNone         = "none"
	GRPCAuthModeSharedSecret = "shared_secret"
	GRPCAuthModeMTLS         = "mtls"
)

// Config captures all runtime tunables for the replay daemon and tools.
type Config struct {
	SnapshotInterval int
	FrameBudget      time.Duration
	FrameRate        float64
	RoundsPerSecond  float64
	GRPCAddr         string
	GRPC             GRPCSecurityConfig
	HTTPAddr         string
	AdminSecret      string
	LiveURL          string
	LiveTokenSecret  string
	BundlePath       string
	CatalogDB        string
	RecordDir        string
	Retention        RetentionConfig
	Logging          LoggingConfig
}

// GRPCSecurityConfig selects how timeline service callers authenticate.
type GRPCSecurityConfig struct {
	AuthMode       string
	SharedSecret   string
	ServerCertPath string
	ServerKeyPath  string
	ClientCAPath   string
}

// RetentionConfig bounds the recorded bundles kept under RecordDir. Zero
// disables a limit.
type RetentionConfig struct {
	MaxBundles int
	MaxAge     time.Duration
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// fileConfig mirrors Config for YAML decoding. Pointer fields distinguish
// absent keys from zero values.
type fileConfig struct {
	SnapshotInterval *int     `yaml:"snapshot_interval"`
	FrameBudget      string   `yaml:"frame_budget"`
	FrameRate        *float64 `yaml:"frame_rate"`
	RoundsPerSecond  *float64 `yaml:"rounds_per_second"`
	GRPCAddr         string   `yaml:"grpc_addr"`
	GRPC             struct {
		AuthMode       string `yaml:"auth_mode"`
		SharedSecret   string `yaml:"shared_secret"`
		ServerCertPath string `yaml:"server_cert"`
		ServerKeyPath  string `yaml:"server_key"`
		ClientCAPath   string `yaml:"client_ca"`
	} `yaml:"grpc"`
	HTTPAddr        string `yaml:"http_addr"`
	AdminSecret     string `yaml:"admin_secret"`
	LiveURL         string `yaml:"live_url"`
	LiveTokenSecret string `yaml:"live_token_secret"`
	BundlePath      string `yaml:"bundle_path"`
	CatalogDB       string `yaml:"catalog_db"`
	RecordDir       string `yaml:"record_dir"`
	Retention       struct {
		MaxBundles *int   `yaml:"max_bundles"`
		MaxAge     string `yaml:"max_age"`
	} `yaml:"retention"`
	Logging struct {
		Level      string `yaml:"level"`
		Path       string `yaml:"path"`
		MaxSizeMB  *int   `yaml:"max_size_mb"`
		MaxBackups *int   `yaml:"max_backups"`
		MaxAgeDays *int   `yaml:"max_age_days"`
		Compress   *bool  `yaml:"compress"`
	} `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SnapshotInterval: DefaultSnapshotInterval,
		FrameBudget:      DefaultFrameBudget,
		FrameRate:        DefaultFrameRate,
		RoundsPerSecond:  DefaultRoundsPerSecond,
		GRPCAddr:         DefaultGRPCAddr,
		GRPC:             GRPCSecurityConfig{AuthMode: GRPCAuthModeNone},
		CatalogDB:        DefaultCatalogDB,
		Retention:        RetentionConfig{MaxBundles: DefaultRetainBundles},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load builds the configuration from defaults, then REPLAY_CONFIG_FILE when
// set, then individual environment overrides. Every invalid value is reported
// in a single error.
func Load() (*Config, error) {
	cfg := Default()
	var problems []string

	if path := strings.TrimSpace(os.Getenv("REPLAY_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			problems = append(problems, err.Error())
		}
	}
	problems = append(problems, cfg.applyEnv()...)
	problems = append(problems, cfg.validate()...)

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	//1.- Only keys present in the file replace defaults.
	if file.SnapshotInterval != nil {
		c.SnapshotInterval = *file.SnapshotInterval
	}
	if raw := strings.TrimSpace(file.FrameBudget); raw != "" {
		budget, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config file frame_budget must be a duration, got %q", raw)
		}
		c.FrameBudget = budget
	}
	if file.FrameRate != nil {
		c.FrameRate = *file.FrameRate
	}
	if file.RoundsPerSecond != nil {
		c.RoundsPerSecond = *file.RoundsPerSecond
	}
	c.GRPCAddr = pick(file.GRPCAddr, c.GRPCAddr)
	c.GRPC.AuthMode = pick(file.GRPC.AuthMode, c.GRPC.AuthMode)
	c.GRPC.SharedSecret = pick(file.GRPC.SharedSecret, c.GRPC.SharedSecret)
	c.GRPC.ServerCertPath = pick(file.GRPC.ServerCertPath, c.GRPC.ServerCertPath)
	c.GRPC.ServerKeyPath = pick(file.GRPC.ServerKeyPath, c.GRPC.ServerKeyPath)
	c.GRPC.ClientCAPath = pick(file.GRPC.ClientCAPath, c.GRPC.ClientCAPath)
	c.HTTPAddr = pick(file.HTTPAddr, c.HTTPAddr)
	c.AdminSecret = pick(file.AdminSecret, c.AdminSecret)
	c.LiveURL = pick(file.LiveURL, c.LiveURL)
	c.LiveTokenSecret = pick(file.LiveTokenSecret, c.LiveTokenSecret)
	c.BundlePath = pick(file.BundlePath, c.BundlePath)
	c.CatalogDB = pick(file.CatalogDB, c.CatalogDB)
	c.RecordDir = pick(file.RecordDir, c.RecordDir)
	if file.Retention.MaxBundles != nil {
		c.Retention.MaxBundles = *file.Retention.MaxBundles
	}
	if raw := strings.TrimSpace(file.Retention.MaxAge); raw != "" {
		age, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config file retention.max_age must be a duration, got %q", raw)
		}
		c.Retention.MaxAge = age
	}

	//2.- Logging keys follow the same rule.
	c.Logging.Level = pick(file.Logging.Level, c.Logging.Level)
	c.Logging.Path = pick(file.Logging.Path, c.Logging.Path)
	if file.Logging.MaxSizeMB != nil {
		c.Logging.MaxSizeMB = *file.Logging.MaxSizeMB
	}
	if file.Logging.MaxBackups != nil {
		c.Logging.MaxBackups = *file.Logging.MaxBackups
	}
	if file.Logging.MaxAgeDays != nil {
		c.Logging.MaxAgeDays = *file.Logging.MaxAgeDays
	}
	if file.Logging.Compress != nil {
		c.Logging.Compress = *file.Logging.Compress
	}
	return nil
}

func (c *Config) applyEnv() []string {
	var problems []string

	c.GRPCAddr = getString("REPLAY_GRPC_ADDR", c.GRPCAddr)
	c.GRPC.AuthMode = strings.ToLower(getString("REPLAY_GRPC_AUTH_MODE", c.GRPC.AuthMode))
	c.GRPC.SharedSecret = getString("REPLAY_GRPC_SHARED_SECRET", c.GRPC.SharedSecret)
	c.GRPC.ServerCertPath = getString("REPLAY_GRPC_SERVER_CERT", c.GRPC.ServerCertPath)
	c.GRPC.ServerKeyPath = getString("REPLAY_GRPC_SERVER_KEY", c.GRPC.ServerKeyPath)
	c.GRPC.ClientCAPath = getString("REPLAY_GRPC_CLIENT_CA", c.GRPC.ClientCAPath)
	c.HTTPAddr = getString("REPLAY_HTTP_ADDR", c.HTTPAddr)
	c.AdminSecret = getString("REPLAY_ADMIN_SECRET", c.AdminSecret)
	c.LiveURL = getString("REPLAY_LIVE_URL", c.LiveURL)
	c.LiveTokenSecret = getString("REPLAY_LIVE_TOKEN_SECRET", c.LiveTokenSecret)
	c.BundlePath = getString("REPLAY_BUNDLE_PATH", c.BundlePath)
	c.CatalogDB = getString("REPLAY_CATALOG_DB", c.CatalogDB)
	c.RecordDir = getString("REPLAY_RECORD_DIR", c.RecordDir)
	c.Logging.Level = getString("REPLAY_LOG_LEVEL", c.Logging.Level)
	c.Logging.Path = getString("REPLAY_LOG_PATH", c.Logging.Path)

	if raw := strings.TrimSpace(os.Getenv("REPLAY_SNAPSHOT_INTERVAL")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_SNAPSHOT_INTERVAL must be a positive integer, got %q", raw))
		} else {
			c.SnapshotInterval = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_FRAME_BUDGET")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_FRAME_BUDGET must be a positive duration, got %q", raw))
		} else {
			c.FrameBudget = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_FRAME_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_FRAME_RATE must be a positive number, got %q", raw))
		} else {
			c.FrameRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_ROUNDS_PER_SECOND")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_ROUNDS_PER_SECOND must be a non-negative number, got %q", raw))
		} else {
			c.RoundsPerSecond = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_RETAIN_BUNDLES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_RETAIN_BUNDLES must be a non-negative integer, got %q", raw))
		} else {
			c.Retention.MaxBundles = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_RETAIN_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_RETAIN_AGE must be a non-negative duration, got %q", raw))
		} else {
			c.Retention.MaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			c.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			c.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLAY_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			c.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLAY_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("REPLAY_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			c.Logging.Compress = value
		}
	}

	return problems
}

// validate catches values only a config file could have produced.
func (c *Config) validate() []string {
	var problems []string
	if c.SnapshotInterval <= 0 {
		problems = append(problems, fmt.Sprintf("snapshot interval must be positive, got %d", c.SnapshotInterval))
	}
	if c.FrameBudget <= 0 {
		problems = append(problems, fmt.Sprintf("frame budget must be positive, got %v", c.FrameBudget))
	}
	if c.FrameRate <= 0 {
		problems = append(problems, fmt.Sprintf("frame rate must be positive, got %v", c.FrameRate))
	}
	if c.RoundsPerSecond < 0 {
		problems = append(problems, fmt.Sprintf("rounds per second must be non-negative, got %v", c.RoundsPerSecond))
	}
	switch c.GRPC.AuthMode {
	case GRPCAuthModeNone:
	case GRPCAuthModeSharedSecret:
		if c.GRPC.SharedSecret == "" {
			problems = append(problems, "REPLAY_GRPC_SHARED_SECRET is required for shared_secret auth")
		}
	case GRPCAuthModeMTLS:
		if c.GRPC.ServerCertPath == "" || c.GRPC.ServerKeyPath == "" || c.GRPC.ClientCAPath == "" {
			problems = append(problems, "mtls auth requires REPLAY_GRPC_SERVER_CERT, REPLAY_GRPC_SERVER_KEY and REPLAY_GRPC_CLIENT_CA")
		}
	default:
		problems = append(problems, fmt.Sprintf("REPLAY_GRPC_AUTH_MODE must be none, shared_secret or mtls, got %q", c.GRPC.AuthMode))
	}
	if c.Retention.MaxBundles < 0 || c.Retention.MaxAge < 0 {
		problems = append(problems, "retention limits must be non-negative")
	}
	if c.BundlePath != "" && c.LiveURL != "" {
		problems = append(problems, "REPLAY_BUNDLE_PATH and REPLAY_LIVE_URL are mutually exclusive")
	}
	return problems
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func pick(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
