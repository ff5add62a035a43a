package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/handlers/files"
	"github.com/openmined/peersync/internal/server/hub"
	"github.com/openmined/peersync/internal/server/reconcile"
	"github.com/openmined/peersync/internal/utils"
)

const (
	DefaultAddr      = "127.0.0.1:8080"
	DefaultRateLimit = "50-S"
)

type Config struct {
	HTTP              HTTPConfig     `mapstructure:"http"`
	DataDir           string         `mapstructure:"data_dir"`
	DBPath            string         `mapstructure:"db_path"`
	MaxFileSize       int64          `mapstructure:"max_file_size"`
	HeartbeatInterval time.Duration  `mapstructure:"heartbeat_interval"`
	ConflictWindow    time.Duration  `mapstructure:"conflict_window"`
	RateLimit         string         `mapstructure:"rate_limit"`
	Content           content.Config `mapstructure:"content"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Validate fills defaults and checks the config. DataDir is resolved to an
// absolute path.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir required")
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	c.DataDir = dataDir

	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, content.ReservedPrefix, "state.db")
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return errors.New("http.cert_file and http.key_file must be set together")
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = files.DefaultMaxFileSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = hub.DefaultHeartbeatInterval
	}
	if c.ConflictWindow <= 0 {
		c.ConflictWindow = reconcile.DefaultConflictWindow
	}
	if c.RateLimit == "" {
		c.RateLimit = DefaultRateLimit
	}
	return c.Content.Validate()
}

func (c *Config) TLSEnabled() bool {
	return c.HTTP.CertFile != "" && c.HTTP.KeyFile != ""
}
