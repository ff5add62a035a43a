// Package servertest runs an in-process coordinator for tests of code that
// talks to one.
package servertest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openmined/peersync/internal/server"
	"github.com/stretchr/testify/require"
)

type Coordinator struct {
	*server.Server
	URL     string
	DataDir string
}

type Option func(*server.Config)

func WithMaxFileSize(n int64) Option {
	return func(c *server.Config) { c.MaxFileSize = n }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *server.Config) { c.HeartbeatInterval = d }
}

// Start runs a coordinator on a temp data dir until the test ends.
func Start(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()

	cfg := &server.Config{
		DataDir:   t.TempDir(),
		RateLimit: "1000-S",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s, err := server.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Hub().Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.CloseClientConnections()
		ts.Close()
		cancel()
		<-done
		s.Stop(context.Background())
	})

	return &Coordinator{Server: s, URL: ts.URL, DataDir: cfg.DataDir}
}
