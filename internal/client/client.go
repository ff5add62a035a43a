package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openmined/peersync/internal/client/config"
	"github.com/openmined/peersync/internal/client/orchestrator"
	"github.com/openmined/peersync/internal/client/syncsdk"
	"github.com/openmined/peersync/internal/client/watcher"
	"github.com/openmined/peersync/internal/client/workspace"
	"golang.org/x/sync/errgroup"
)

// Client is a peer daemon: one workspace, one watcher, one orchestrator.
type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	identity  atomic.Pointer[workspace.Identity]
	orch      atomic.Pointer[orchestrator.Orchestrator]
}

func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ws, err := workspace.NewWorkspace(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Client{
		config:    cfg,
		workspace: ws,
	}, nil
}

// PeerID is known once Start has loaded the workspace identity.
func (c *Client) PeerID() string {
	if id := c.identity.Load(); id != nil {
		return id.PeerID
	}
	return ""
}

// State reports the orchestrator's connection state.
func (c *Client) State() orchestrator.State {
	if orch := c.orch.Load(); orch != nil {
		return orch.State()
	}
	return orchestrator.StateDisconnected
}

// Start runs the peer until ctx is done.
func (c *Client) Start(ctx context.Context) error {
	if err := c.workspace.Setup(); err != nil {
		return fmt.Errorf("failed to setup workspace: %w", err)
	}
	defer c.workspace.Unlock()

	id, err := c.workspace.Identity(c.config.Name, time.Now())
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	c.identity.Store(id)

	slog.Info("peersync client start", "peerId", id.PeerID, "root", c.workspace.Root, "server", c.config.ServerURL)

	sdk, err := syncsdk.New(&syncsdk.Config{BaseURL: c.config.ServerURL, PeerID: id.PeerID})
	if err != nil {
		return fmt.Errorf("failed to create sdk: %w", err)
	}
	defer sdk.Close()

	w := watcher.New(c.workspace.Root,
		watcher.WithDebounce(c.config.Debounce),
		watcher.WithIgnorePatterns(c.config.Ignore...),
	)

	orch, err := orchestrator.New(orchestrator.Config{
		PeerID:            id.PeerID,
		Name:              id.Name,
		Root:              c.workspace.Root,
		TmpDir:            c.workspace.TmpDir,
		HeartbeatInterval: c.config.HeartbeatInterval,
		Compress:          c.config.Compression,
	}, orchestrator.FromSDK(sdk), w)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.orch.Store(orch)

	eg, egCtx := errgroup.WithContext(ctx)

	if err := w.Start(egCtx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	eg.Go(func() error {
		return orch.Run(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping client")
		w.Stop()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client failure", "error", err)
		return err
	}

	slog.Info("peersync client stop")
	return nil
}
