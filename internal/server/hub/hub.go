package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/peersync/internal/syncmsg"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second

	// sessions silent for longer than this many intervals are evicted
	missedHeartbeats = 3
)

// Reasons carried by PEER_LEFT notices.
const (
	ReasonTimeout    = "heartbeat timeout"
	ReasonSendFailed = "send failed"
	ReasonClosed     = "connection closed"
)

var (
	ErrHubStopped   = errors.New("hub stopped")
	ErrPeerNotFound = errors.New("peer not connected")
)

type Option func(*Hub)

func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// Hub is the registry of connected peers. The session table is touched only
// by the goroutine running Run; every exported method hands it a command.
type Hub struct {
	sessions map[string]*PeerSession
	cmds     chan func()
	stopped  chan struct{}
	clock    clockwork.Clock
	interval time.Duration
}

func New(opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[string]*PeerSession),
		cmds:     make(chan func()),
		stopped:  make(chan struct{}),
		clock:    clockwork.NewRealClock(),
		interval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) HeartbeatInterval() time.Duration {
	return h.interval
}

func (h *Hub) Run(ctx context.Context) {
	slog.Info("hub started", "heartbeatInterval", h.interval)

	ticker := h.clock.NewTicker(h.interval)
	defer func() {
		ticker.Stop()
		h.shutdown()
		close(h.stopped)
		slog.Info("hub stopped")
	}()

	for {
		select {
		case fn := <-h.cmds:
			fn()
		case <-ticker.Chan():
			h.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case h.cmds <- func() { defer close(done); fn() }:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Connect attaches conn to peerID. A previous connection for the same peer is
// replaced and closed.
func (h *Hub) Connect(ctx context.Context, peerID string, conn Conn, addr string) error {
	return h.do(ctx, func() { h.connect(peerID, conn, addr) })
}

// Disconnect removes the peer and announces its departure. Unknown peers are ignored.
func (h *Hub) Disconnect(ctx context.Context, peerID, reason string) error {
	return h.do(ctx, func() { h.evict(peerID, reason) })
}

// DisconnectConn is Disconnect guarded by connection identity, so a stale
// connection closing late cannot evict its replacement.
func (h *Hub) DisconnectConn(ctx context.Context, peerID string, conn Conn, reason string) error {
	return h.do(ctx, func() {
		if s, ok := h.sessions[peerID]; ok && s.conn == conn {
			h.evict(peerID, reason)
		}
	})
}

// Unicast sends msg to a single peer. A failed send disconnects the peer.
func (h *Hub) Unicast(ctx context.Context, peerID string, msg *syncmsg.Message) error {
	var sendErr error
	if err := h.do(ctx, func() { sendErr = h.unicast(peerID, msg) }); err != nil {
		return err
	}
	return sendErr
}

func (h *Hub) BroadcastAll(ctx context.Context, msg *syncmsg.Message) error {
	return h.do(ctx, func() { h.broadcast("", msg) })
}

func (h *Hub) BroadcastExcept(ctx context.Context, originID string, msg *syncmsg.Message) error {
	return h.do(ctx, func() { h.broadcast(originID, msg) })
}

// HandleInbound dispatches a message received on peerID's connection.
func (h *Hub) HandleInbound(ctx context.Context, peerID string, msg *syncmsg.Message) error {
	return h.do(ctx, func() { h.handleInbound(peerID, msg) })
}

// Sweep evicts sessions that missed too many heartbeats. Run calls it on
// every heartbeat interval.
func (h *Hub) Sweep(ctx context.Context) error {
	return h.do(ctx, h.sweep)
}

// Peers returns a snapshot of connected peers ordered by peer id.
func (h *Hub) Peers(ctx context.Context) ([]PeerInfo, error) {
	var peers []PeerInfo
	err := h.do(ctx, func() {
		peers = make([]PeerInfo, 0, len(h.sessions))
		for _, s := range h.sessions {
			peers = append(peers, s.info())
		}
	})
	slices.SortFunc(peers, func(a, b PeerInfo) int { return strings.Compare(a.PeerID, b.PeerID) })
	return peers, err
}

func (h *Hub) connect(peerID string, conn Conn, addr string) {
	now := h.clock.Now()

	if s, ok := h.sessions[peerID]; ok {
		if s.conn != conn {
			go s.conn.Close()
		}
		s.conn = conn
		s.Addr = addr
		s.ConnectedAt = now
		s.LastSeen = now
		slog.Info("hub replaced", "peerId", peerID, "addr", addr, "active", len(h.sessions))
		return
	}

	h.sessions[peerID] = &PeerSession{
		PeerID:      peerID,
		Addr:        addr,
		ConnectedAt: now,
		LastSeen:    now,
		conn:        conn,
	}
	slog.Info("hub registered", "peerId", peerID, "addr", addr, "active", len(h.sessions))
}

func (h *Hub) unicast(peerID string, msg *syncmsg.Message) error {
	s, ok := h.sessions[peerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	if err := s.conn.Send(msg); err != nil {
		slog.Warn("hub send failed", "peerId", peerID, "msgType", msg.Type, "error", err)
		h.evict(peerID, ReasonSendFailed)
		return err
	}
	return nil
}

func (h *Hub) broadcast(skip string, msg *syncmsg.Message) {
	for _, peerID := range h.deliver(skip, msg) {
		h.evict(peerID, ReasonSendFailed)
	}
}

// deliver sends msg to every session except skip and returns the peers that
// could not be reached. Nothing is evicted while iterating.
func (h *Hub) deliver(skip string, msg *syncmsg.Message) []string {
	var failed []string
	for peerID, s := range h.sessions {
		if peerID == skip {
			continue
		}
		if err := s.conn.Send(msg); err != nil {
			slog.Warn("hub send failed", "peerId", peerID, "msgType", msg.Type, "error", err)
			failed = append(failed, peerID)
		}
	}
	return failed
}

// evict removes a session and broadcasts PEER_LEFT for it. Peers that fail
// to receive the notice are evicted in turn, each announced once.
func (h *Hub) evict(peerID, reason string) {
	type departure struct{ peerID, reason string }

	queue := []departure{{peerID, reason}}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		s, ok := h.sessions[d.peerID]
		if !ok {
			continue
		}
		delete(h.sessions, d.peerID)
		go s.conn.Close()
		slog.Info("hub removed", "peerId", d.peerID, "reason", d.reason, "active", len(h.sessions))

		for _, failed := range h.deliver(d.peerID, syncmsg.NewPeerLeft(d.peerID, d.reason)) {
			queue = append(queue, departure{failed, ReasonSendFailed})
		}
	}
}

func (h *Hub) handleInbound(peerID string, msg *syncmsg.Message) {
	s, ok := h.sessions[peerID]
	if !ok {
		slog.Warn("hub inbound from unknown peer", "peerId", peerID, "msg", msg)
		return
	}

	if err := msg.Validate(); err != nil {
		slog.Warn("hub invalid message", "peerId", peerID, "error", err)
		h.unicast(peerID, syncmsg.NewError(syncmsg.ErrCodeBadMessage, "", err.Error()))
		return
	}
	if msg.Origin != peerID {
		slog.Warn("hub origin mismatch", "peerId", peerID, "origin", msg.Origin)
		h.unicast(peerID, syncmsg.NewError(syncmsg.ErrCodeOriginInvalid, "", fmt.Sprintf("origin %q does not match connection", msg.Origin)))
		return
	}

	s.LastSeen = h.clock.Now()

	switch data := msg.Data.(type) {
	case *syncmsg.Connect:
		if data.PeerID != peerID {
			h.unicast(peerID, syncmsg.NewError(syncmsg.ErrCodeOriginInvalid, "", fmt.Sprintf("connect for %q on connection of %q", data.PeerID, peerID)))
			return
		}
		s.Name = data.Name
		s.SyncRoot = data.SyncRoot
		slog.Info("hub peer connected", "peerId", peerID, "name", data.Name)
		if err := h.unicast(peerID, syncmsg.NewConnectAck(peerID)); err != nil {
			return
		}
		h.broadcast(peerID, syncmsg.NewPeerJoined(peerID, data.Name))

	case *syncmsg.Heartbeat:
		h.unicast(peerID, syncmsg.NewHeartbeat(syncmsg.CoordinatorID, data.Seq))

	case *syncmsg.FileChanged:
		slog.Debug("hub file changed", "peerId", peerID, "op", data.Operation, "path", data.Record.Path)
		h.broadcast(peerID, msg)

	default:
		h.unicast(peerID, syncmsg.NewError(syncmsg.ErrCodeUnsupported, "", fmt.Sprintf("%s is not accepted from peers", msg.Type)))
	}
}

func (h *Hub) sweep() {
	timeout := missedHeartbeats * h.interval
	now := h.clock.Now()

	var stale []string
	for peerID, s := range h.sessions {
		if now.Sub(s.LastSeen) > timeout {
			stale = append(stale, peerID)
		}
	}
	for _, peerID := range stale {
		slog.Warn("hub heartbeat timeout", "peerId", peerID)
		h.evict(peerID, ReasonTimeout)
	}
}

func (h *Hub) shutdown() {
	for peerID, s := range h.sessions {
		go s.conn.Close()
		delete(h.sessions, peerID)
	}
}
