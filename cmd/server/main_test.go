package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/peersync/internal/server"
	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/handlers/files"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshCmd(t *testing.T) *cobra.Command {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return newRootCmd()
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd := freshCmd(t)

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, server.DefaultAddr, cfg.HTTP.Addr)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, int64(files.DefaultMaxFileSize), cfg.MaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, time.Hour, cfg.ConflictWindow)
	assert.Equal(t, server.DefaultRateLimit, cfg.RateLimit)
	assert.Equal(t, content.KindLocal, cfg.Content.Backend)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("PEERSYNC_HTTP_ADDR", ":9090")
	t.Setenv("PEERSYNC_HTTP_CERT_FILE", "test-cert.pem")
	t.Setenv("PEERSYNC_HTTP_KEY_FILE", "test-key.pem")
	t.Setenv("PEERSYNC_DATA_DIR", "/srv/peersync")
	t.Setenv("PEERSYNC_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("PEERSYNC_CONFLICT_WINDOW", "15m")
	t.Setenv("PEERSYNC_RATE_LIMIT", "10-M")
	t.Setenv("PEERSYNC_CONTENT_BACKEND", "s3")
	t.Setenv("PEERSYNC_CONTENT_S3_BUCKET_NAME", "test-bucket")
	t.Setenv("PEERSYNC_CONTENT_S3_REGION", "test-region")
	t.Setenv("PEERSYNC_CONTENT_S3_ENDPOINT", "http://test-endpoint")
	t.Setenv("PEERSYNC_CONTENT_S3_ACCESS_KEY", "test-access-key")
	t.Setenv("PEERSYNC_CONTENT_S3_SECRET_KEY", "test-secret-key")

	cfg, err := loadConfig(freshCmd(t))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "test-cert.pem", cfg.HTTP.CertFile)
	assert.Equal(t, "test-key.pem", cfg.HTTP.KeyFile)
	assert.Equal(t, "/srv/peersync", cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 15*time.Minute, cfg.ConflictWindow)
	assert.Equal(t, "10-M", cfg.RateLimit)
	assert.Equal(t, content.KindS3, cfg.Content.Backend)
	assert.Equal(t, "test-bucket", cfg.Content.S3.BucketName)
	assert.Equal(t, "test-region", cfg.Content.S3.Region)
	assert.Equal(t, "http://test-endpoint", cfg.Content.S3.Endpoint)
	assert.Equal(t, "test-access-key", cfg.Content.S3.AccessKey)
	assert.Equal(t, "test-secret-key", cfg.Content.S3.SecretKey)
}

func TestLoadConfigYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
http:
  addr: localhost:8181
data_dir: /var/lib/peersync
max_file_size: 1024
heartbeat_interval: 5s
content:
  backend: local
`), 0o644))

	cmd := freshCmd(t)
	require.NoError(t, cmd.Flags().Set("config", configFile))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8181", cfg.HTTP.Addr)
	assert.Equal(t, "/var/lib/peersync", cfg.DataDir)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
}

func TestLoadConfigJSON_FlagsWin(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{
	"http": {"addr": "localhost:38080"},
	"data_dir": "/from/file",
	"rate_limit": "5-S"
}`), 0o644))

	t.Setenv("PEERSYNC_DATA_DIR", "/from/env")

	cmd := freshCmd(t)
	require.NoError(t, cmd.Flags().Set("config", configFile))
	require.NoError(t, cmd.Flags().Set("bind", "0.0.0.0:9999"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.HTTP.Addr)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, "5-S", cfg.RateLimit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cmd := freshCmd(t)
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "nope.yaml")))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}
