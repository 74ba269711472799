package server

import (
	"fmt"

	"github.com/openmined/syftsync/internal/server/auth"
)

const (
	DefaultAddr      = "127.0.0.1:8080"
	DefaultRateLimit = "500-M"
)

type Config struct {
	HTTP      HTTPConfig   `mapstructure:"http"`
	Data      DataConfig   `mapstructure:"data"`
	Auth      *auth.Config `mapstructure:"auth"`
	RateLimit string       `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type DataConfig struct {
	SnapshotDir string `mapstructure:"snapshot_dir"`
	DBPath      string `mapstructure:"db_path"`
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if c.RateLimit == "" {
		c.RateLimit = DefaultRateLimit
	}
	if c.Data.SnapshotDir == "" {
		return fmt.Errorf("`data.snapshot_dir` is required")
	}
	if c.Data.DBPath == "" {
		return fmt.Errorf("`data.db_path` is required")
	}
	if c.Auth == nil {
		c.Auth = &auth.Config{}
	}
	return c.Auth.Validate()
}
