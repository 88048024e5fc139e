// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for GooseBot.
//
// Configuration is loaded from a single YAML file specified by:
//   - the GOOSEBOT_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// do not override config values — this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar
// path variables for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so durations can be written in YAML as
// strings ("300s", "1.5s", "2m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for GooseBot.
type Config struct {
	// Matrix configures the chat gateway connection.
	Matrix MatrixConfig `yaml:"matrix"`

	// Goose configures the agent subprocess.
	Goose GooseConfig `yaml:"goose"`

	// Bot configures session and streaming behavior.
	Bot BotConfig `yaml:"bot"`
}

// MatrixConfig configures the Matrix homeserver connection.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the fully-qualified Matrix user ID of the bot account
	// (e.g., "@goosebot:example.org").
	UserID string `yaml:"user_id"`

	// AccessTokenFile is the path to a file containing the bot
	// account's access token. The token is read once at startup.
	AccessTokenFile string `yaml:"access_token_file"`
}

// GooseConfig configures the goose agent subprocess.
type GooseConfig struct {
	// Binary is the path to the goose CLI. Default: "goose" (PATH lookup).
	Binary string `yaml:"binary"`

	// WorkingDirectory is the directory agent sessions start in.
	// Default: the bot process's working directory.
	WorkingDirectory string `yaml:"working_directory"`

	// Model is the model identifier passed through to the agent via
	// the GOOSE_MODEL environment variable. Empty uses the agent's
	// own default.
	Model string `yaml:"model"`

	// DefaultAgentName is the display name used for sessions whose
	// conversation has not set one. Default: "Goose".
	DefaultAgentName string `yaml:"default_agent_name"`
}

// BotConfig configures session and streaming behavior.
type BotConfig struct {
	// CommandPrefix introduces bot commands in room messages.
	// Default: "!".
	CommandPrefix string `yaml:"command_prefix"`

	// ListenWindow is how long after a completed turn an unaddressed
	// message is still treated as part of the conversation.
	// Default: 300s.
	ListenWindow Duration `yaml:"listen_window"`

	// MinFlushInterval is the minimum time between streamed message
	// edits for one in-flight turn. Default: 1s.
	MinFlushInterval Duration `yaml:"min_flush_interval"`

	// FlushSizeThreshold is the number of accumulated bytes that
	// forces a streamed edit regardless of the interval. Default: 1500.
	FlushSizeThreshold int `yaml:"flush_size_threshold"`

	// TurnTimeout is the ceiling on total turn duration. On expiry the
	// agent connection is torn down and the turn fails. Default: 10m.
	TurnTimeout Duration `yaml:"turn_timeout"`

	// StateFile is where session records are persisted.
	// Default: ${HOME}/.config/goosebot/sessions.json.
	StateFile string `yaml:"state_file"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Goose: GooseConfig{
			Binary:           "goose",
			DefaultAgentName: "Goose",
		},
		Bot: BotConfig{
			CommandPrefix:      "!",
			ListenWindow:       Duration(300 * time.Second),
			MinFlushInterval:   Duration(time.Second),
			FlushSizeThreshold: 1500,
			TurnTimeout:        Duration(10 * time.Minute),
			StateFile:          filepath.Join(homeDir, ".config", "goosebot", "sessions.json"),
		},
	}
}

// Load loads configuration from the GOOSEBOT_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv("GOOSEBOT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("GOOSEBOT_CONFIG environment variable not set; " +
			"set it to the path of your goosebot.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Matrix.AccessTokenFile = expandVars(c.Matrix.AccessTokenFile, vars)
	c.Goose.Binary = expandVars(c.Goose.Binary, vars)
	c.Goose.WorkingDirectory = expandVars(c.Goose.WorkingDirectory, vars)
	c.Bot.StateFile = expandVars(c.Bot.StateFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("matrix.homeserver_url is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, fmt.Errorf("matrix.user_id is required"))
	}
	if c.Matrix.AccessTokenFile == "" {
		errs = append(errs, fmt.Errorf("matrix.access_token_file is required"))
	}
	if c.Goose.Binary == "" {
		errs = append(errs, fmt.Errorf("goose.binary is required"))
	}
	if c.Bot.ListenWindow <= 0 {
		errs = append(errs, fmt.Errorf("bot.listen_window must be positive"))
	}
	if c.Bot.MinFlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("bot.min_flush_interval must be positive"))
	}
	if c.Bot.TurnTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bot.turn_timeout must be positive"))
	}
	if c.Bot.StateFile == "" {
		errs = append(errs, fmt.Errorf("bot.state_file is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AccessToken reads the configured access token file, trimming
// trailing whitespace.
func (c *Config) AccessToken() (string, error) {
	data, err := os.ReadFile(c.Matrix.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	token := string(data)
	for len(token) > 0 && (token[len(token)-1] == '\n' || token[len(token)-1] == '\r' || token[len(token)-1] == ' ') {
		token = token[:len(token)-1]
	}
	if token == "" {
		return "", fmt.Errorf("access token file %s is empty", c.Matrix.AccessTokenFile)
	}
	return token, nil
}
