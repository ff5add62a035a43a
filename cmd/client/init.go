package main

import (
	"fmt"
	"io"

	"github.com/openmined/peersync/internal/client/config"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a peer config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path, _ := cmd.Flags().GetString("config")

			if existing, err := config.Load(path); err == nil && !force {
				fmt.Fprintln(out, "PeerSync already initialized")
				printConfig(out, existing)
				return nil
			}

			name, _ := cmd.Flags().GetString("name")
			root, _ := cmd.Flags().GetString("root")
			server, _ := cmd.Flags().GetString("server")

			cfg := &config.Config{
				Name:      name,
				Root:      root,
				ServerURL: server,
				Path:      path,
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "%s: %s\n", red("ERROR"), err)
				return err
			}
			// defaults are implied, keep the file minimal
			cfg.HeartbeatInterval = 0
			cfg.Debounce = 0

			if err := cfg.Save(cfg.Path); err != nil {
				fmt.Fprintf(out, "%s: %s\n", red("ERROR"), err)
				return err
			}

			fmt.Fprintln(out, "PeerSync initialized")
			printConfig(out, cfg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Config Path: %s\n", green(cfg.Path))
	fmt.Fprintf(out, "Name:        %s\n", cyan(cfg.Name))
	fmt.Fprintf(out, "Root:        %s\n", cyan(cfg.Root))
	fmt.Fprintf(out, "Server:      %s\n", cyan(cfg.ServerURL))
}
