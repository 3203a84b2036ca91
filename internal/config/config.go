// Package config resolves recordpipe settings from the environment and an
// optional .env file. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Environment variables read by FromEnv.
const (
	EnvDataDir     = "RECORDPIPE_DATA_DIR"
	EnvUnguard     = "RECORDPIPE_UNGUARD"
	EnvAllow       = "RECORDPIPE_ALLOW"
	EnvLogLevel    = "RECORDPIPE_LOG_LEVEL"
	EnvSecrets     = "RECORDPIPE_SECRETS"
	EnvMCPApproval = "RECORDPIPE_MCP_APPROVAL"
)

// MCP approval modes.
const (
	ApprovalAuto = "auto" // destructive tools run immediately
	ApprovalDB   = "db"   // destructive tools wait for `recordpipe approvals`
)

// Config holds the resolved settings.
type Config struct {
	DataDir     string
	Unguard     bool
	Allow       []string
	LogLevel    slog.Level
	Secrets     string // secret backend: "env" | "keychain"
	MCPApproval string
}

// DefaultDataDir returns ~/.local/share/recordpipe.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recordpipe"
	}
	return filepath.Join(home, ".local", "share", "recordpipe")
}

// DBPath is the location of the SQLite database inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "recordpipe.db")
}

// Load reads the given .env files into the process environment (missing
// files are skipped, variables already set win) and then builds a Config
// from the environment. With no files it looks for ./.env.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DataDir:     getenv(EnvDataDir),
		Secrets:     strings.ToLower(strings.TrimSpace(getenv(EnvSecrets))),
		MCPApproval: strings.ToLower(strings.TrimSpace(getenv(EnvMCPApproval))),
		Allow:       SplitList(getenv(EnvAllow)),
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Secrets == "" {
		cfg.Secrets = "env"
	}
	if cfg.MCPApproval == "" {
		cfg.MCPApproval = ApprovalAuto
	}
	if cfg.MCPApproval != ApprovalAuto && cfg.MCPApproval != ApprovalDB {
		return nil, fmt.Errorf("%s: unknown approval mode %q", EnvMCPApproval, cfg.MCPApproval)
	}

	if v := strings.TrimSpace(getenv(EnvUnguard)); v != "" {
		unguard, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvUnguard, err)
		}
		cfg.Unguard = unguard
	}

	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}
	return cfg, nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
