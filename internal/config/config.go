package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "mediamill.db"
	defaultWorkDir        = "mediamill-work"
	defaultWorkers        = 2
	defaultQueueDepth     = 64
	defaultRetention      = 45 * time.Minute
	defaultSweepInterval  = 10 * time.Minute
	defaultStreamSample   = 500 * time.Millisecond
	defaultStreamBudget   = 300 * time.Second
	defaultMaxUploadMB    = 500
	defaultMaxOutputMB    = 500
	defaultMinFreeDiskGB  = 5
	defaultCommandTimeout = 5 * time.Minute

	envConfigPath    = "MEDIAMILL_CONFIG"
	envListenAddr    = "MEDIAMILL_LISTEN_ADDR"
	envDBPath        = "MEDIAMILL_DB_PATH"
	envWorkDir       = "MEDIAMILL_WORK_DIR"
	envWorkers       = "MEDIAMILL_WORKERS"
	envQueueDepth    = "MEDIAMILL_QUEUE_DEPTH"
	envRetention     = "MEDIAMILL_RETENTION"
	envSweepInterval = "MEDIAMILL_SWEEP_INTERVAL"
	envStreamSample  = "MEDIAMILL_STREAM_SAMPLE"
	envStreamBudget  = "MEDIAMILL_STREAM_BUDGET"
	envLogLevel      = "MEDIAMILL_LOG_LEVEL"
)

// defaultFetchDomains lists the platforms fetch jobs accept sources from.
var defaultFetchDomains = []string{
	"youtube.com", "youtu.be",
	"tiktok.com", "vt.tiktok.com",
	"instagram.com",
	"facebook.com", "fb.watch", "fb.com",
	"twitter.com", "x.com",
}

// Config holds application configuration. Values come from built-in
// defaults, overridden by an optional TOML file, overridden by environment
// variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	WorkDir        string
	Workers        int
	QueueDepth     int
	Retention      time.Duration
	SweepInterval  time.Duration
	StreamSample   time.Duration
	StreamBudget   time.Duration
	MaxUploadMB    int64
	MaxOutputMB    int64
	MinFreeDiskGB  int
	CommandTimeout time.Duration
	FetchDomains   []string
	LogLevel       slog.Level
}

// fileConfig is the TOML shape. Durations are strings in time.ParseDuration
// form ("45m", "500ms").
type fileConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	DBPath         string   `toml:"db_path"`
	WorkDir        string   `toml:"work_dir"`
	Workers        int      `toml:"workers"`
	QueueDepth     int      `toml:"queue_depth"`
	Retention      string   `toml:"retention"`
	SweepInterval  string   `toml:"sweep_interval"`
	StreamSample   string   `toml:"stream_sample"`
	StreamBudget   string   `toml:"stream_budget"`
	MaxUploadMB    int64    `toml:"max_upload_mb"`
	MaxOutputMB    int64    `toml:"max_output_mb"`
	MinFreeDiskGB  int      `toml:"min_free_disk_gb"`
	CommandTimeout string   `toml:"command_timeout"`
	FetchDomains   []string `toml:"fetch_domains"`
	LogLevel       string   `toml:"log_level"`
}

// Load reads configuration from the optional TOML file named by
// MEDIAMILL_CONFIG and from environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		WorkDir:        defaultWorkDir,
		Workers:        defaultWorkers,
		QueueDepth:     defaultQueueDepth,
		Retention:      defaultRetention,
		SweepInterval:  defaultSweepInterval,
		StreamSample:   defaultStreamSample,
		StreamBudget:   defaultStreamBudget,
		MaxUploadMB:    defaultMaxUploadMB,
		MaxOutputMB:    defaultMaxOutputMB,
		MinFreeDiskGB:  defaultMinFreeDiskGB,
		CommandTimeout: defaultCommandTimeout,
		FetchDomains:   defaultFetchDomains,
		LogLevel:       slog.LevelInfo,
	}

	if path := os.Getenv(envConfigPath); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.WorkDir != "" {
		c.WorkDir = fc.WorkDir
	}
	if fc.Workers > 0 {
		c.Workers = fc.Workers
	}
	if fc.QueueDepth > 0 {
		c.QueueDepth = fc.QueueDepth
	}
	if fc.MaxUploadMB > 0 {
		c.MaxUploadMB = fc.MaxUploadMB
	}
	if fc.MaxOutputMB > 0 {
		c.MaxOutputMB = fc.MaxOutputMB
	}
	if fc.MinFreeDiskGB > 0 {
		c.MinFreeDiskGB = fc.MinFreeDiskGB
	}
	if len(fc.FetchDomains) > 0 {
		c.FetchDomains = fc.FetchDomains
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.Retention, &c.Retention, "retention"},
		{fc.SweepInterval, &c.SweepInterval, "sweep_interval"},
		{fc.StreamSample, &c.StreamSample, "stream_sample"},
		{fc.StreamBudget, &c.StreamBudget, "stream_budget"},
		{fc.CommandTimeout, &c.CommandTimeout, "command_timeout"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envWorkDir); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}

	for _, d := range []struct {
		env string
		dst *int
	}{
		{envWorkers, &c.Workers},
		{envQueueDepth, &c.QueueDepth},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = n
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{envRetention, &c.Retention},
		{envSweepInterval, &c.SweepInterval},
		{envStreamSample, &c.StreamSample},
		{envStreamBudget, &c.StreamBudget},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	return nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", c.QueueDepth)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	if c.StreamSample <= 0 || c.StreamBudget <= 0 {
		return fmt.Errorf("stream sample and budget must be positive")
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
