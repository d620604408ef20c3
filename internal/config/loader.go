// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but the file is missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	Token         *string
	StoreDriver   *string
	DataDir       *string
	OpsListenAddr *string
	LogLevel      *string
	LogFormat     *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Bot      *botFileConfig      `toml:"bot"`
	Store    *storeFileConfig    `toml:"store"`
	Dispatch *dispatchFileConfig `toml:"dispatch"`
	Ops      *opsFileConfig      `toml:"ops"`
	Log      *logFileConfig      `toml:"log"`
}

type botFileConfig struct {
	Token         string  `toml:"token"`
	AdminIDs      []int64 `toml:"admin_ids"`
	ArchiveChatID int64   `toml:"archive_chat_id"`
}

type storeFileConfig struct {
	Driver  string         `toml:"driver"`
	DataDir string         `toml:"data_dir"`
	Options map[string]any `toml:"options"`
}

type dispatchFileConfig struct {
	ChunkSize          int   `toml:"chunk_size"`
	ChunkDelayMS       int   `toml:"chunk_delay_ms"`
	RetryBackoffMS     int   `toml:"retry_backoff_ms"`
	MaxRetries         int   `toml:"max_retries"`
	StatusIntervalMS   int   `toml:"status_interval_ms"`
	StatusThreshold    int   `toml:"status_threshold"`
	MaxConcurrentSends int64 `toml:"max_concurrent_sends"`
}

type opsFileConfig struct {
	Enabled    *bool  `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	TokenHash  string `toml:"token_hash"`
}

type logFileConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load loads configuration with the following precedence:
//  1. Start from defaults
//  2. Overlay TOML config file values
//  3. Overlay CLI flags
//  4. Overlay secrets from the environment (STASHKEEP_TOKEN)
//  5. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid
// TOML, Load returns an error (fail fast). Unknown TOML keys produce a
// warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if opts.ConfigPath != "" {
		var fc fileConfig
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}

		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if tok := os.Getenv("STASHKEEP_TOKEN"); tok != "" {
		cfg.Bot.Token = tok
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.Bot != nil {
		if fc.Bot.Token != "" {
			cfg.Bot.Token = fc.Bot.Token
		}
		if len(fc.Bot.AdminIDs) > 0 {
			cfg.Bot.AdminIDs = fc.Bot.AdminIDs
		}
		if fc.Bot.ArchiveChatID != 0 {
			cfg.Bot.ArchiveChatID = fc.Bot.ArchiveChatID
		}
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
		if len(fc.Store.Options) > 0 {
			cfg.Store.Options = fc.Store.Options
		}
	}

	if fc.Dispatch != nil {
		if fc.Dispatch.ChunkSize > 0 {
			cfg.Dispatch.ChunkSize = fc.Dispatch.ChunkSize
		}
		if fc.Dispatch.ChunkDelayMS > 0 {
			cfg.Dispatch.ChunkDelayMS = fc.Dispatch.ChunkDelayMS
		}
		if fc.Dispatch.RetryBackoffMS > 0 {
			cfg.Dispatch.RetryBackoffMS = fc.Dispatch.RetryBackoffMS
		}
		if fc.Dispatch.MaxRetries > 0 {
			cfg.Dispatch.MaxRetries = fc.Dispatch.MaxRetries
		}
		if fc.Dispatch.StatusIntervalMS > 0 {
			cfg.Dispatch.StatusIntervalMS = fc.Dispatch.StatusIntervalMS
		}
		if fc.Dispatch.StatusThreshold > 0 {
			cfg.Dispatch.StatusThreshold = fc.Dispatch.StatusThreshold
		}
		if fc.Dispatch.MaxConcurrentSends > 0 {
			cfg.Dispatch.MaxConcurrentSends = fc.Dispatch.MaxConcurrentSends
		}
	}

	if fc.Ops != nil {
		if fc.Ops.Enabled != nil {
			cfg.Ops.Enabled = *fc.Ops.Enabled
		}
		if fc.Ops.ListenAddr != "" {
			cfg.Ops.ListenAddr = fc.Ops.ListenAddr
		}
		if fc.Ops.TokenHash != "" {
			cfg.Ops.TokenHash = fc.Ops.TokenHash
		}
	}

	if fc.Log != nil {
		if fc.Log.Level != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if fc.Log.Format != "" {
			cfg.Log.Format = fc.Log.Format
		}
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.Token != nil && *f.Token != "" {
		cfg.Bot.Token = *f.Token
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.Store.DataDir = *f.DataDir
	}
	if f.OpsListenAddr != nil && *f.OpsListenAddr != "" {
		cfg.Ops.ListenAddr = *f.OpsListenAddr
	}
	if f.LogLevel != nil && *f.LogLevel != "" {
		cfg.Log.Level = *f.LogLevel
	}
	if f.LogFormat != nil && *f.LogFormat != "" {
		cfg.Log.Format = *f.LogFormat
	}
}

// Validate checks enum fields and required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return fmt.Errorf("bot.token is required (config file or STASHKEEP_TOKEN)")
	}

	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite, postgres", c.Store.Driver)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format %q: must be one of json, text", c.Log.Format)
	}

	if c.Ops.Enabled && c.Ops.ListenAddr == "" {
		return fmt.Errorf("ops.listen_addr is required when ops.enabled is true")
	}
	return nil
}

// SlogLevel maps the configured level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
