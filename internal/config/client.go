// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultClientFile is the config file name looked up in the data directory.
const DefaultClientFile = "scanctl.toml"

// ClientConfig configures the device-side CLI.
type ClientConfig struct {
	ServerURL      string          `toml:"server_url"`
	BaseDir        string          `toml:"base_dir"`      // artifacts and database live here
	DatabaseFile   string          `toml:"database_file"` // relative to base_dir unless absolute
	Source         string          `toml:"source"`
	TimeoutSeconds int             `toml:"timeout_seconds"`
	Principal      PrincipalConfig `toml:"principal"`
	Auth           AuthConfig      `toml:"auth"`
}

// PrincipalConfig is the signed-in identity the CLI acts as.
type PrincipalConfig struct {
	ID       string `toml:"id,omitempty"`
	Email    string `toml:"email,omitempty"`
	Username string `toml:"username,omitempty"`
	Name     string `toml:"name,omitempty"`
}

// AuthConfig selects how bearer tokens are obtained.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AuthConfig struct {
	Type      string `toml:"type"`                 // "none", "token" or "hs256"
	Token     string `toml:"token,omitempty"`      // only used for type=token
	JWTSecret string `toml:"jwt_secret,omitempty"` // only used for type=hs256; tokens are minted locally
}

// NewClientConfig returns a config with defaults rooted at baseDir.
func NewClientConfig(serverURL, baseDir string) *ClientConfig {
	return &ClientConfig{
		ServerURL:      serverURL,
		BaseDir:        baseDir,
		DatabaseFile:   "scans.db",
		Source:         "mobile_app",
		TimeoutSeconds: 30,
		Auth:           AuthConfig{Type: "none"},
	}
}

// DatabasePath resolves DatabaseFile against BaseDir.
func (c *ClientConfig) DatabasePath() string {
	if filepath.IsAbs(c.DatabaseFile) {
		return c.DatabaseFile
	}
	return filepath.Join(c.BaseDir, c.DatabaseFile)
}

// Timeout is the per-request HTTP timeout.
func (c *ClientConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate reports the first missing or inconsistent field.
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	switch c.Auth.Type {
	case "", "none":
	case "token":
		if c.Auth.Token == "" {
			return fmt.Errorf("auth.token is required for auth type token")
		}
	case "hs256":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required for auth type hs256")
		}
	default:
		return fmt.Errorf("unsupported auth type: %s", c.Auth.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a ClientConfig from the provided reader.
func (m *Manager) Read(r io.Reader) (*ClientConfig, error) {
	var cfg ClientConfig
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a ClientConfig to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *ClientConfig) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a ClientConfig from the specified file path.
func ReadFromFile(path string) (*ClientConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path, refusing to overwrite an existing file.
func Init(path string, cfg *ClientConfig) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
