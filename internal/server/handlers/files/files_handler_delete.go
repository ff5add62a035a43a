package files

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/syncmsg"
)

// Delete removes content and metadata for a path and everything beneath it.
// Deleting an unknown path succeeds.
func (h *FilesHandler) Delete(ctx *gin.Context) {
	key, err := cleanPath(strings.TrimPrefix(ctx.Param("path"), "/"))
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}

	var req DeleteRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind query: %w", err))
		return
	}

	unlock := h.locks.LockTree()
	defer unlock()

	if err := h.content.Delete(ctx.Request.Context(), key); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileDeleteFailed, err)
		return
	}
	if err := h.records.Commit(ctx.Request.Context(), req.PeerID, syncmsg.OpDelete, &syncmsg.FileRecord{Path: key}); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileDeleteFailed, err)
		return
	}

	slog.Info("file deleted", "peerId", req.PeerID, "path", key)
	ctx.PureJSON(http.StatusOK, &DeleteResponse{Path: key, Deleted: true})
}
