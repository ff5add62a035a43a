// Package orchestrator drives a peer's synchronization: the connection state
// machine, initial reconciliation, and both change streams.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/peersync/internal/client/syncsdk"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second

	// consecutive heartbeat send failures before the connection is dead
	maxHeartbeatFailures = 2
)

var (
	ErrConnectionDead   = errors.New("heartbeat failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrNotConnected     = errors.New("not connected")
)

type Config struct {
	PeerID            string
	Name              string
	Root              string
	TmpDir            string
	HeartbeatInterval time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	Compress          bool
	Clock             clockwork.Clock
}

func (c *Config) setDefaults() {
	if c.TmpDir == "" {
		c.TmpDir = filepath.Join(c.Root, ".peersync", "tmp")
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	// a negative minimum disables the delay
	if c.ReconnectMin == 0 {
		c.ReconnectMin = DefaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(DefaultReconnectMax, c.ReconnectMin)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

type Orchestrator struct {
	cfg     Config
	coord   Coordinator
	watcher Watcher
	clock   clockwork.Clock

	state atomic.Int32
	seq   atomic.Uint64

	// one transfer pipeline per peer
	transferMu sync.Mutex

	streamMu sync.RWMutex
	stream   EventStream

	// local changes seen while not LIVE, latest per path
	deferredMu sync.Mutex
	deferred   map[string]syncmsg.ChangeEvent
	order      []string
}

func New(cfg Config, coord Coordinator, watcher Watcher) (*Orchestrator, error) {
	if cfg.PeerID == "" {
		return nil, errors.New("peer id required")
	}
	if cfg.Root == "" {
		return nil, errors.New("sync root required")
	}
	cfg.setDefaults()

	if err := utils.EnsureDir(cfg.TmpDir); err != nil {
		return nil, fmt.Errorf("tmp dir: %w", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		coord:    coord,
		watcher:  watcher,
		clock:    cfg.Clock,
		deferred: make(map[string]syncmsg.ChangeEvent),
	}, nil
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	if prev := State(o.state.Swap(int32(s))); prev != s {
		slog.Info("sync state", "from", prev, "to", s)
	}
}

// Run keeps the peer connected until ctx is done, reconnecting with
// backoff after every transport failure. A transfer already in progress
// when ctx ends runs to completion.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("sync orchestrator start", "peerId", o.cfg.PeerID, "root", o.cfg.Root)
	defer slog.Info("sync orchestrator stop", "peerId", o.cfg.PeerID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.consumeLocal(ctx)
	}()
	defer wg.Wait()

	bo := newBackoff(o.cfg.ReconnectMin, o.cfg.ReconnectMax)
	for {
		wasLive, err := o.session(ctx)
		o.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}
		if wasLive {
			bo.Reset()
		}

		delay := bo.Next()
		slog.Warn("sync connection down, reconnecting", "error", err, "attempt", bo.Attempt(), "delay", delay)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-o.clock.After(delay):
		}
	}
}

// session walks CONNECTING → REGISTERED → SYNCING_INITIAL → LIVE and stays
// LIVE until the connection fails.
func (o *Orchestrator) session(ctx context.Context) (bool, error) {
	o.setState(StateConnecting)
	stream, err := o.coord.Connect(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer stream.Close()

	if err := o.coord.Register(ctx, &syncsdk.RegisterParams{
		PeerID:   o.cfg.PeerID,
		Name:     o.cfg.Name,
		SyncRoot: o.cfg.Root,
	}); err != nil {
		return false, fmt.Errorf("register: %w", err)
	}
	if err := stream.Send(ctx, syncmsg.NewConnect(o.cfg.PeerID, o.cfg.Name, o.cfg.Root)); err != nil {
		return false, fmt.Errorf("connect message: %w", err)
	}

	o.setStream(stream)
	defer o.setStream(nil)
	o.setState(StateRegistered)

	o.setState(StateSyncingInitial)
	o.applyDeferred(ctx, o.takeDeferred())

	inventory, err := o.watcher.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("scan: %w", err)
	}
	if _, err := o.PerformInitialSync(ctx, inventory); err != nil {
		return false, err
	}

	o.goLive(ctx)
	return true, o.live(ctx, stream)
}

func (o *Orchestrator) live(ctx context.Context, stream EventStream) error {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dead := make(chan error, 1)
	go func() { dead <- o.heartbeat(hbCtx, stream) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-dead:
			return err
		case <-stream.Done():
			return ErrConnectionLost
		case msg, ok := <-stream.Messages():
			if !ok {
				return ErrConnectionLost
			}
			o.OnRemoteNotification(ctx, msg)
		}
	}
}

func (o *Orchestrator) setStream(s EventStream) {
	o.streamMu.Lock()
	o.stream = s
	o.streamMu.Unlock()
}

// notify announces a change that the coordinator has already accepted.
func (o *Orchestrator) notify(ctx context.Context, op syncmsg.Operation, rec *syncmsg.FileRecord, oldPath string) error {
	o.streamMu.RLock()
	stream := o.stream
	o.streamMu.RUnlock()

	if stream == nil {
		return ErrNotConnected
	}
	return stream.Send(ctx, syncmsg.NewFileChanged(o.cfg.PeerID, op, rec, oldPath))
}

func (o *Orchestrator) consumeLocal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.watcher.Events():
			if !ok {
				return
			}
			o.handleLocal(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleLocal(ctx context.Context, ev syncmsg.ChangeEvent) {
	o.deferredMu.Lock()
	if o.State() != StateLive {
		o.deferLocked(ev)
		o.deferredMu.Unlock()
		slog.Debug("sync deferred local change", "op", ev.Operation, "path", ev.Path(), "state", o.State())
		return
	}
	o.deferredMu.Unlock()

	if err := o.OnLocalChange(ctx, ev); err != nil {
		o.deferredMu.Lock()
		defer o.deferredMu.Unlock()
		if o.State() != StateLive {
			// connection dropped underneath; retry after the next initial sync
			o.deferLocked(ev)
			return
		}
		slog.Warn("sync local change failed", "op", ev.Operation, "path", ev.Path(), "error", err)
	}
}

func (o *Orchestrator) deferLocked(ev syncmsg.ChangeEvent) {
	path := ev.Path()
	if _, ok := o.deferred[path]; !ok {
		o.order = append(o.order, path)
	}
	o.deferred[path] = ev
}

func (o *Orchestrator) takeDeferred() []syncmsg.ChangeEvent {
	o.deferredMu.Lock()
	defer o.deferredMu.Unlock()
	return o.takeDeferredLocked()
}

func (o *Orchestrator) takeDeferredLocked() []syncmsg.ChangeEvent {
	events := make([]syncmsg.ChangeEvent, 0, len(o.order))
	for _, path := range o.order {
		events = append(events, o.deferred[path])
	}
	o.deferred = make(map[string]syncmsg.ChangeEvent)
	o.order = nil
	return events
}

// goLive switches to LIVE and drains whatever was deferred while the initial
// sync ran. Deferral and the switch share a lock so nothing slips between.
func (o *Orchestrator) goLive(ctx context.Context) {
	o.deferredMu.Lock()
	o.setState(StateLive)
	pending := o.takeDeferredLocked()
	o.deferredMu.Unlock()

	o.applyDeferred(ctx, pending)
}

func (o *Orchestrator) applyDeferred(ctx context.Context, events []syncmsg.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	slog.Info("sync flushing deferred changes", "count", len(events))
	for _, ev := range events {
		if err := o.OnLocalChange(ctx, ev); err != nil {
			slog.Warn("sync deferred change failed", "op", ev.Operation, "path", ev.Path(), "error", err)
		}
	}
}
