package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/openmined/peersync/internal/client/config"
	"github.com/openmined/peersync/internal/client/syncsdk"
	"github.com/openmined/peersync/internal/client/workspace"
	"github.com/spf13/cobra"
)

// newSDK builds a client for one-shot queries. The persisted peer id is used
// when the workspace has one.
func newSDK(cfg *config.Config) (*syncsdk.SyncSDK, error) {
	peerID := "cli"
	if ws, err := workspace.NewWorkspace(cfg.Root); err == nil {
		if id, err := ws.LoadIdentity(); err == nil {
			peerID = id.PeerID
		}
	}
	return syncsdk.New(&syncsdk.Config{BaseURL: strings.TrimRight(cfg.ServerURL, "/"), PeerID: peerID})
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator health, peers and conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sdk, err := newSDK(cfg)
			if err != nil {
				return err
			}
			defer sdk.Close()

			cmd.SilenceUsage = true
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			health, err := sdk.Health(ctx)
			if err != nil {
				fmt.Fprintf(out, "%s %s unreachable: %s\n", red("●"), cfg.ServerURL, err)
				return err
			}
			fmt.Fprintf(out, "%s %s %s\n\n", green("●"), cfg.ServerURL, health.Status)

			peers, err := sdk.Peers(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Peers (%d)\n", len(peers))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, p := range peers {
				state := gray("offline")
				if p.Online {
					state = green("online")
				}
				lastSync := "never"
				if !p.LastSyncAt.IsZero() {
					lastSync = humanize.Time(p.LastSyncAt)
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s\tsynced %s\n", p.PeerID, p.Name, state, lastSync)
			}
			tw.Flush()

			conflicts, err := sdk.Conflicts(ctx)
			if err != nil {
				return err
			}
			printConflicts(out, conflicts)
			return nil
		},
	}
}

func printConflicts(out io.Writer, resp *syncsdk.ConflictsResponse) {
	if len(resp.Conflicts) == 0 {
		fmt.Fprintf(out, "\nNo conflicts since %s\n", humanize.Time(resp.Since))
		return
	}
	fmt.Fprintf(out, "\n%s (%d), resolve manually\n", red("Conflicts"), len(resp.Conflicts))
	for _, path := range resp.Conflicts {
		fmt.Fprintf(out, "  %s\n", path)
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show the coordinator's operation log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sdk, err := newSDK(cfg)
			if err != nil {
				return err
			}
			defer sdk.Close()

			cmd.SilenceUsage = true
			var path string
			if len(args) == 1 {
				path = args[0]
			}

			entries, err := sdk.History(cmd.Context(), path, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					cyan(string(e.Operation)),
					e.FilePath,
					e.PeerID,
					humanize.IBytes(uint64(e.Size)))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Number of entries")
	return cmd
}
