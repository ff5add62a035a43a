package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/peersync/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDebounce          = 500 * time.Millisecond

	maxNameLength  = 50
	invalidNameSet = `<>:"/\|?*`
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".peersync", "config.yaml")
	DefaultLogFile    = filepath.Join(home, ".peersync", "logs", "peersync.log")
	DefaultRoot       = filepath.Join(home, "PeerSync")
	DefaultServerURL  = "http://localhost:8080"
)

var (
	ErrInvalidName      = errors.New("invalid peer name")
	ErrInvalidServerURL = errors.New("invalid server url")
)

// Config is the peer's configuration as read from file, env and flags.
type Config struct {
	Name              string        `yaml:"name" mapstructure:"name"`
	Root              string        `yaml:"root" mapstructure:"root"`
	ServerURL         string        `yaml:"server_url" mapstructure:"server_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty" mapstructure:"heartbeat_interval"`
	Debounce          time.Duration `yaml:"debounce,omitempty" mapstructure:"debounce"`
	Ignore            []string      `yaml:"ignore,omitempty" mapstructure:"ignore"`
	Compression       bool          `yaml:"compression,omitempty" mapstructure:"compression"`
	LogFile           string        `yaml:"log_file,omitempty" mapstructure:"log_file"`
	Path              string        `yaml:"-" mapstructure:"-"`
}

// Validate checks the config and fills defaults. Root and Path are made
// absolute.
func (c *Config) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}

	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if !utils.IsValidURL(c.ServerURL) {
		return fmt.Errorf("%w: %q", ErrInvalidServerURL, c.ServerURL)
	}

	if c.Root == "" {
		c.Root = DefaultRoot
	}
	root, err := utils.ResolvePath(c.Root)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	c.Root = root

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	return nil
}

// ValidateName accepts 1 to 50 characters, none of them reserved in file names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if n := len([]rune(name)); n > maxNameLength {
		return fmt.Errorf("%w: %d characters, at most %d allowed", ErrInvalidName, n, maxNameLength)
	}
	if i := strings.IndexAny(name, invalidNameSet); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, name[i])
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}
