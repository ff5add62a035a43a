package content

import (
	"fmt"

	"github.com/openmined/peersync/internal/utils"
)

const (
	KindLocal = "local"
	KindS3    = "s3"
)

type Config struct {
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	BucketName string `mapstructure:"bucket_name"`
	Prefix     string `mapstructure:"prefix"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Endpoint   string `mapstructure:"endpoint"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "", KindLocal:
		return nil
	case KindS3:
		return c.S3.Validate()
	default:
		return fmt.Errorf("unknown content backend %q", c.Backend)
	}
}

func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key required")
	}
	if c.Endpoint != "" && !utils.IsValidURL(c.Endpoint) {
		return fmt.Errorf("invalid endpoint URL %q", c.Endpoint)
	}
	return nil
}

// New builds the backend selected by cfg. Local bodies live under root.
func New(cfg *Config, root string) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == KindS3 {
		return NewS3BackendWithConfig(&cfg.S3, root)
	}
	return NewLocalBackend(root)
}
