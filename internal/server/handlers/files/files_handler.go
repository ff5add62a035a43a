package files

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

const (
	DefaultMaxFileSize = 100 << 20 // 100 MiB
	defaultHistory     = 100
	maxHistory         = 1000
)

// Records is the slice of the metadata store the file endpoints need.
type Records interface {
	Get(ctx context.Context, path string) (*syncmsg.FileRecord, error)
	Commit(ctx context.Context, peerID string, op syncmsg.Operation, rec *syncmsg.FileRecord) error
	History(ctx context.Context, path string, limit int) ([]*syncmsg.OpLogEntry, error)
	Now() time.Time
}

type FilesHandler struct {
	records Records
	content content.Backend
	maxSize int64
	locks   *pathLocks
}

func New(records Records, backend content.Backend, maxSize int64) *FilesHandler {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &FilesHandler{records: records, content: backend, maxSize: maxSize, locks: newPathLocks()}
}

func (h *FilesHandler) History(ctx *gin.Context) {
	var req HistoryRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind query: %w", err))
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistory
	}
	limit = min(limit, maxHistory)

	path := ""
	if req.Path != "" {
		var err error
		if path, err = cleanPath(req.Path); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
			return
		}
	}

	entries, err := h.records.History(ctx.Request.Context(), path, limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if entries == nil {
		entries = []*syncmsg.OpLogEntry{}
	}
	ctx.PureJSON(http.StatusOK, gin.H{"history": entries})
}

// cleanPath validates a client supplied path and returns its normalized form.
func cleanPath(raw string) (string, error) {
	if _, err := utils.SafeJoin("/", raw); err != nil {
		return "", err
	}
	key := utils.NormalizePath(raw)
	if err := content.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, content.ErrNotFound)
}
