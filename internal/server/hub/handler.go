package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/wsproto"
)

const maxMessageSize = 1 << 20 // 1MB, messages carry metadata only

// WebsocketHandler upgrades the request and serves the connection until it
// closes. The peer is identified by the peerId query parameter.
func (h *Hub) WebsocketHandler(ctx *gin.Context) {
	peerID := ctx.Query("peerId")
	if peerID == "" {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("peerId missing"))
		return
	}

	enc := wsproto.PreferredEncoding(ctx.GetHeader(wsproto.HeaderEncodings))
	ctx.Writer.Header().Set(wsproto.HeaderEncoding, enc.String())

	wsConn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	wsConn.SetReadLimit(maxMessageSize)

	reqCtx := ctx.Request.Context()
	conn := NewWebsocketConn(wsConn, peerID, enc)
	if err := h.Connect(reqCtx, peerID, conn, ctx.ClientIP()); err != nil {
		slog.Warn("hub connect", "peerId", peerID, "error", err)
		conn.Close()
		return
	}

	conn.Serve(reqCtx, func(msg *syncmsg.Message) {
		if err := h.HandleInbound(reqCtx, peerID, msg); err != nil {
			slog.Debug("hub inbound dropped", "peerId", peerID, "error", err)
		}
	})

	if err := h.DisconnectConn(context.Background(), peerID, conn, ReasonClosed); err != nil && !errors.Is(err, ErrHubStopped) {
		slog.Warn("hub disconnect", "peerId", peerID, "error", err)
	}
}
