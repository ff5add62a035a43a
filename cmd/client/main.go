package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/openmined/peersync/internal/client"
	"github.com/openmined/peersync/internal/client/config"
	"github.com/openmined/peersync/internal/utils"
	"github.com/openmined/peersync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PEERSYNC"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "peersync",
		Short:   "PeerSync peer daemon",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level := slog.LevelInfo
			if viper.GetBool("debug") {
				level = slog.LevelDebug
			}
			logger, closer, err := utils.NewLogger(cfg.LogFile, level)
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			// all good now, show header
			cmd.SilenceUsage = true
			showHeader()

			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			return c.Start(cmd.Context())
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().Duration("debounce", config.DefaultDebounce, "Quiet period before a local change is synced")
	cmd.Flags().Bool("compression", false, "Compress uploads with zstd")
	cmd.Flags().String("log-file", config.DefaultLogFile, "Also write logs to this file")
	cmd.Flags().Bool("debug", false, "Enable debug logging")

	cmd.PersistentFlags().StringP("name", "n", "", "Peer display name")
	cmd.PersistentFlags().StringP("root", "r", config.DefaultRoot, "Directory to synchronize")
	cmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "Coordinator URL")
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Config file")

	cmd.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	logger, _, _ := utils.NewLogger("", slog.LevelInfo)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file (optional unless --config was given),
// then applies PEERSYNC_* env vars and flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if (!enoent && !notFound) || cmd.Flags().Changed("config") {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	viper.SetDefault("heartbeat_interval", config.DefaultHeartbeatInterval)
	viper.SetDefault("ignore", []string{})

	for key, flag := range map[string]string{
		"name":        "name",
		"root":        "root",
		"server_url":  "server",
		"debounce":    "debounce",
		"compression": "compression",
		"log_file":    "log-file",
		"debug":       "debug",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			viper.BindPFlag(key, f)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = configPath
	return &cfg, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(banner)
	fmt.Printf("%s %s\n\n", gray("version"), version.Short())
}
