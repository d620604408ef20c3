// Package config provides configuration loading and validation.
package config

import "time"

// Config holds the bot configuration.
type Config struct {
	// Bot holds messaging platform settings.
	Bot BotConfig `json:"bot"`

	// Store holds persistence settings.
	Store StoreConfig `json:"store"`

	// Dispatch tunes batch delivery.
	Dispatch DispatchConfig `json:"dispatch"`

	// Ops holds the operational HTTP endpoint settings.
	Ops OpsConfig `json:"ops"`

	// Log holds logging settings.
	Log LogConfig `json:"log"`
}

// BotConfig holds messaging platform settings.
type BotConfig struct {
	// Token is the platform bot token. Never logged.
	Token string `json:"-"`

	// AdminIDs is the static admin set.
	AdminIDs []int64 `json:"admin_ids"`

	// ArchiveChatID is the archive channel; 0 disables archiving.
	ArchiveChatID int64 `json:"archive_chat_id"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is one of: memory, sqlite, postgres.
	Driver string `json:"driver"`

	// DataDir is the directory for data files (sqlite).
	DataDir string `json:"data_dir"`

	// Options holds driver-specific settings.
	Options map[string]any `json:"options"`
}

// DispatchConfig tunes batch delivery. Zero values fall back to the
// dispatcher defaults.
type DispatchConfig struct {
	// ChunkSize is the maximum items per media group.
	ChunkSize int `json:"chunk_size"`

	// ChunkDelayMS is the minimum spacing between chunk sends.
	ChunkDelayMS int `json:"chunk_delay_ms"`

	// RetryBackoffMS is the default wait on an unspecified rate limit.
	RetryBackoffMS int `json:"retry_backoff_ms"`

	// MaxRetries bounds retries per chunk.
	MaxRetries int `json:"max_retries"`

	// StatusIntervalMS is the minimum time between status updates.
	StatusIntervalMS int `json:"status_interval_ms"`

	// StatusThreshold forces a fresh status message every N items.
	StatusThreshold int `json:"status_threshold"`

	// MaxConcurrentSends caps in-flight platform calls globally.
	MaxConcurrentSends int64 `json:"max_concurrent_sends"`
}

// ChunkDelay returns the configured spacing as a duration.
func (d DispatchConfig) ChunkDelay() time.Duration {
	return time.Duration(d.ChunkDelayMS) * time.Millisecond
}

// RetryBackoff returns the configured backoff as a duration.
func (d DispatchConfig) RetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoffMS) * time.Millisecond
}

// StatusInterval returns the configured status throttle as a duration.
func (d DispatchConfig) StatusInterval() time.Duration {
	return time.Duration(d.StatusIntervalMS) * time.Millisecond
}

// OpsConfig holds the operational HTTP endpoint settings.
type OpsConfig struct {
	// Enabled turns the ops endpoint on.
	Enabled bool `json:"enabled"`

	// ListenAddr is the address to listen on. Loopback by default.
	ListenAddr string `json:"listen_addr"`

	// TokenHash is the bcrypt hash of the bearer token protecting
	// non-health endpoints. Empty disables them.
	TokenHash string `json:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `json:"level"`

	// Format is one of: json, text.
	Format string `json:"format"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".stashkeep",
		},
		Dispatch: DispatchConfig{
			ChunkSize:          10,
			ChunkDelayMS:       4000,
			RetryBackoffMS:     5000,
			MaxRetries:         3,
			StatusIntervalMS:   2000,
			StatusThreshold:    30,
			MaxConcurrentSends: 4,
		},
		Ops: OpsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Redacted returns a copy safe for logging: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Bot.Token != "" {
		out.Bot.Token = "***"
	}
	if out.Ops.TokenHash != "" {
		out.Ops.TokenHash = "***"
	}
	return &out
}
