package syncapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/server/hub"
	"github.com/openmined/peersync/internal/server/metastore"
	"github.com/openmined/peersync/internal/server/reconcile"
)

type PeerRegistry interface {
	RegisterPeer(ctx context.Context, peerID, name, syncRoot string) error
	MarkSynced(ctx context.Context, peerID string) error
	ListPeers(ctx context.Context) ([]*metastore.Peer, error)
	ContendedPaths(ctx context.Context, since time.Time) ([]string, error)
	Now() time.Time
}

// Presence reports which peers currently hold a realtime connection.
type Presence interface {
	Peers(ctx context.Context) ([]hub.PeerInfo, error)
}

type SyncHandler struct {
	peers      PeerRegistry
	presence   Presence
	reconciler *reconcile.Reconciler
	window     time.Duration
}

func New(peers PeerRegistry, presence Presence, reconciler *reconcile.Reconciler, conflictWindow time.Duration) *SyncHandler {
	if conflictWindow <= 0 {
		conflictWindow = reconcile.DefaultConflictWindow
	}
	return &SyncHandler{peers: peers, presence: presence, reconciler: reconciler, window: conflictWindow}
}

func (h *SyncHandler) Register(ctx *gin.Context) {
	var req RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	if err := h.peers.RegisterPeer(ctx.Request.Context(), req.PeerID, req.Name, req.SyncRoot); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	slog.Info("peer registered", "peerId", req.PeerID, "name", req.Name, "syncRoot", req.SyncRoot)
	ctx.PureJSON(http.StatusOK, &RegisterResponse{
		Success: true,
		Message: "peer registered",
	})
}

// Sync reconciles the peer's inventory against the coordinator's and
// returns the resulting plan.
func (h *SyncHandler) Sync(ctx *gin.Context) {
	var req SyncRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	plan, err := h.reconciler.Plan(ctx.Request.Context(), req.PeerID, req.Files)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeSyncFailed, err)
		return
	}

	if err := h.peers.MarkSynced(ctx.Request.Context(), req.PeerID); err != nil {
		slog.Warn("mark synced", "peerId", req.PeerID, "error", err)
	}

	ctx.PureJSON(http.StatusOK, plan)
}

// Peers lists registered peers merged with their live connection state.
// Connected peers that never registered are listed too.
func (h *SyncHandler) Peers(ctx *gin.Context) {
	registered, err := h.peers.ListPeers(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	online, err := h.presence.Peers(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusServiceUnavailable, api.CodeInternalError, err)
		return
	}

	live := make(map[string]hub.PeerInfo, len(online))
	for _, p := range online {
		live[p.PeerID] = p
	}

	peers := make([]*PeerStatus, 0, len(registered)+len(online))
	for _, p := range registered {
		status := &PeerStatus{Peer: *p}
		if info, ok := live[p.PeerID]; ok {
			status.setLive(info)
			delete(live, p.PeerID)
		}
		peers = append(peers, status)
	}
	for _, info := range online {
		if _, ok := live[info.PeerID]; !ok {
			continue
		}
		status := &PeerStatus{Peer: metastore.Peer{PeerID: info.PeerID, Name: info.Name, SyncRoot: info.SyncRoot}}
		status.setLive(info)
		peers = append(peers, status)
	}

	ctx.PureJSON(http.StatusOK, gin.H{"peers": peers})
}

// Conflicts lists paths changed by more than one peer within the conflict window.
func (h *SyncHandler) Conflicts(ctx *gin.Context) {
	since := h.peers.Now().Add(-h.window)
	paths, err := h.peers.ContendedPaths(ctx.Request.Context(), since)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	ctx.PureJSON(http.StatusOK, gin.H{
		"since":     since,
		"conflicts": paths,
	})
}
