// Package config loads the aide configuration from YAML or JSON5 files with
// environment expansion and $include merging.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Sampling SamplingConfig `yaml:"sampling"`
	Limits   LimitsConfig   `yaml:"limits"`
	Session  SessionConfig  `yaml:"session"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`

	// SystemPrompt seeds every new session's conversation.
	SystemPrompt string `yaml:"system_prompt"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ProviderConfig configures the completion transport.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Stream         bool          `yaml:"stream"`
}

type SamplingConfig struct {
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
	Seed        *int    `yaml:"seed"`
}

// LimitsConfig bounds one orchestration turn.
type LimitsConfig struct {
	MaxToolDepth       int           `yaml:"max_tool_depth"`
	ValidationRetries  int           `yaml:"validation_retries"`
	EmptyStreamRetries int           `yaml:"empty_stream_retries"`
	EmptyStreamDelay   time.Duration `yaml:"empty_stream_delay"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	HistoryLimit       int           `yaml:"history_limit"`
}

type SessionConfig struct {
	// SnapshotPath is the SQLite file for named snapshots. Empty keeps
	// snapshots in memory only.
	SnapshotPath string `yaml:"snapshot_path"`

	// MaxIdle evicts sessions idle longer than this. Zero disables eviction.
	MaxIdle time.Duration `yaml:"max_idle"`
}

type ToolsConfig struct {
	Files     FilesToolConfig     `yaml:"files"`
	Shell     ShellToolConfig     `yaml:"shell"`
	WebSearch WebSearchToolConfig `yaml:"websearch"`
	Reddit    RedditToolConfig    `yaml:"reddit"`
}

type FilesToolConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

type ShellToolConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebSearchToolConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type RedditToolConfig struct {
	Enabled   bool   `yaml:"enabled"`
	UserAgent string `yaml:"user_agent"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Provider: ProviderConfig{
			Model:          "gpt-4o",
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    3,
			Stream:         true,
		},
		Sampling: SamplingConfig{Temperature: 0.7},
		Limits: LimitsConfig{
			MaxToolDepth:       5,
			ValidationRetries:  2,
			EmptyStreamRetries: 3,
			EmptyStreamDelay:   500 * time.Millisecond,
			TurnTimeout:        60 * time.Second,
			ToolTimeout:        30 * time.Second,
			HistoryLimit:       200,
		},
		Session: SessionConfig{MaxIdle: time.Hour},
		Tools: ToolsConfig{
			Files:     FilesToolConfig{Enabled: true, Root: "."},
			Shell:     ShellToolConfig{Enabled: false, Timeout: 30 * time.Second},
			WebSearch: WebSearchToolConfig{Enabled: true},
			Reddit:    RedditToolConfig{Enabled: true, UserAgent: "aide/1.0"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Limits.MaxToolDepth <= 0 {
		return fmt.Errorf("limits.max_tool_depth must be positive")
	}
	if c.Limits.TurnTimeout <= 0 {
		return fmt.Errorf("limits.turn_timeout must be positive")
	}
	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2 {
		return fmt.Errorf("sampling.temperature must be in [0, 2]")
	}
	return nil
}
