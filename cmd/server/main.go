package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openmined/peersync/internal/server"
	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/handlers/files"
	"github.com/openmined/peersync/internal/server/hub"
	"github.com/openmined/peersync/internal/server/reconcile"
	"github.com/openmined/peersync/internal/utils"
	"github.com/openmined/peersync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PEERSYNC"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "peersync-server",
		Short:   "PeerSync coordinator",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if viper.GetBool("debug") {
				level = slog.LevelDebug
			}
			logger, closer, err := utils.NewLogger(viper.GetString("log_file"), level)
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			cmd.SilenceUsage = true

			s, err := server.New(cfg)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return s.Start(cmd.Context())
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	cmd.Flags().StringP("data-dir", "d", "./data", "Directory holding file content and state")
	cmd.Flags().String("cert", "", "Path to the TLS certificate file")
	cmd.Flags().String("key", "", "Path to the TLS key file")
	cmd.Flags().Int64("max-file-size", files.DefaultMaxFileSize, "Largest accepted upload in bytes")
	cmd.Flags().String("log-file", "", "Also write logs to this file")
	cmd.Flags().Bool("debug", false, "Enable debug logging")
	cmd.Flags().StringP("config", "f", "", "Path to a YAML or JSON config file")
	return cmd
}

func main() {
	// plain logger until the config is known
	logger, _, _ := utils.NewLogger("", slog.LevelInfo)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file, PEERSYNC_* env vars and
// flags, in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	setDefaults()

	viper.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	viper.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	viper.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("max_file_size", cmd.Flags().Lookup("max-file-size"))
	viper.BindPFlag("log_file", cmd.Flags().Lookup("log-file"))
	viper.BindPFlag("debug", cmd.Flags().Lookup("debug"))

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg server.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	return &cfg, nil
}

// Every key needs a default so Unmarshal can see env-only overrides.
func setDefaults() {
	viper.SetDefault("db_path", "")
	viper.SetDefault("heartbeat_interval", hub.DefaultHeartbeatInterval)
	viper.SetDefault("conflict_window", reconcile.DefaultConflictWindow)
	viper.SetDefault("rate_limit", server.DefaultRateLimit)
	viper.SetDefault("content.backend", content.KindLocal)
	viper.SetDefault("content.s3.bucket_name", "")
	viper.SetDefault("content.s3.prefix", "")
	viper.SetDefault("content.s3.region", "")
	viper.SetDefault("content.s3.access_key", "")
	viper.SetDefault("content.s3.secret_key", "")
	viper.SetDefault("content.s3.endpoint", "")
}
