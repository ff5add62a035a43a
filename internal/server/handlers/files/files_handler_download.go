package files

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/api"
)

// Download streams the stored body. Seekable backends get Range and
// conditional request handling from http.ServeContent.
func (h *FilesHandler) Download(ctx *gin.Context) {
	key, err := cleanPath(strings.TrimPrefix(ctx.Param("path"), "/"))
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}

	obj, err := h.content.Get(ctx.Request.Context(), key)
	if isNotFound(err) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, fmt.Errorf("file not found: %s", key))
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		return
	}
	defer obj.Body.Close()

	if rec, err := h.records.Get(ctx.Request.Context(), key); err == nil {
		ctx.Header(HeaderChecksum, rec.Checksum)
	}

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		ctx.Header("Content-Type", "application/octet-stream")
		http.ServeContent(ctx.Writer, ctx.Request, path.Base(key), obj.ModTime, rs)
		return
	}

	ctx.DataFromReader(http.StatusOK, obj.Size, "application/octet-stream", obj.Body, nil)
}
