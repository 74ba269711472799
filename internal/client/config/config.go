// Package config loads and persists the client's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/syftsync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".syftsync", "config.json")
	DefaultLogFilePath = filepath.Join(home, ".syftsync", "logs", "client.log")
	DefaultServerURL   = "https://syftbox.net"
)

type Config struct {
	DataDir      string `json:"data_dir"`
	Email        string `json:"email"`
	ServerURL    string `json:"server_url"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`

	// Path is where this config was loaded from, not part of the file.
	Path string `json:"-"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path

	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: `data_dir` is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("config: `server_url` is required")
	}
	if err := utils.ValidateEmail(c.Email); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) Save() error {
	if c.Path == "" {
		return fmt.Errorf("config: no path to save to")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	// tokens live in here
	return utils.WriteFileAtomic(c.Path, data, 0o600)
}

// SetTokens updates the persisted token pair, typically from the SDK's
// refresh callback.
func (c *Config) SetTokens(accessToken, refreshToken string) {
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
}
