package orchestrator

import (
	"context"
	"io"

	"github.com/openmined/peersync/internal/client/syncsdk"
	"github.com/openmined/peersync/internal/syncmsg"
)

// Coordinator is the remote side of synchronization.
type Coordinator interface {
	Register(ctx context.Context, params *syncsdk.RegisterParams) error
	Reconcile(ctx context.Context, files []*syncmsg.FileRecord) (*syncmsg.SyncPlan, error)
	Upload(ctx context.Context, params *syncsdk.UploadParams) (*syncmsg.FileRecord, error)
	Download(ctx context.Context, path string, w io.Writer) (*syncsdk.DownloadResult, error)
	Delete(ctx context.Context, path string) (*syncsdk.DeleteResponse, error)
	Connect(ctx context.Context) (EventStream, error)
}

// EventStream is one realtime connection.
type EventStream interface {
	Send(ctx context.Context, msg *syncmsg.Message) error
	Messages() <-chan *syncmsg.Message
	Done() <-chan struct{}
	Close()
}

// Watcher is the local change source.
type Watcher interface {
	Events() <-chan syncmsg.ChangeEvent
	ListAll(ctx context.Context) ([]*syncmsg.FileRecord, error)
	IgnoreOnce(rel string)
	ShouldIgnore(rel string) bool
}

type sdkCoordinator struct {
	*syncsdk.SyncSDK
}

// FromSDK adapts a SyncSDK to Coordinator.
func FromSDK(sdk *syncsdk.SyncSDK) Coordinator {
	return &sdkCoordinator{SyncSDK: sdk}
}

func (c *sdkCoordinator) Connect(ctx context.Context) (EventStream, error) {
	conn, err := c.Events.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
