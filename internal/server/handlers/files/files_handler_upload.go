package files

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/server/metastore"
	"github.com/openmined/peersync/internal/syncmsg"
)

// multipart framing and form fields on top of the file body
const uploadOverhead = 1 << 20

// Upload stores a file body, fingerprints it and commits the resulting
// record. Peers announce the change over the realtime channel themselves.
func (h *FilesHandler) Upload(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, h.maxSize+uploadOverhead)

	var req UploadRequest
	if err := ctx.ShouldBind(&req); err != nil {
		h.abortBodyError(ctx, fmt.Errorf("failed to bind form: %w", err))
		return
	}

	path, err := cleanPath(req.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}

	modTime := h.records.Now().UTC()
	if req.ModifiedTime != "" {
		if modTime, err = time.Parse(time.RFC3339Nano, req.ModifiedTime); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid modifiedTime: %w", err))
			return
		}
		modTime = modTime.UTC()
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		h.abortBodyError(ctx, fmt.Errorf("invalid file: %w", err))
		return
	}

	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	var body io.Reader = fd
	switch req.Compression {
	case "", CompressionNone:
		if file.Size > h.maxSize {
			api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeFileTooLarge,
				fmt.Errorf("%s exceeds limit of %s", humanize.IBytes(uint64(file.Size)), humanize.IBytes(uint64(h.maxSize))))
			return
		}
	case CompressionZstd:
		dec, err := zstd.NewReader(fd, zstd.WithDecoderConcurrency(1))
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid zstd stream: %w", err))
			return
		}
		defer dec.Close()
		body = dec
	default:
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("unknown compression %q", req.Compression))
		return
	}

	unlock := h.locks.Lock(path)
	defer unlock()

	op := syncmsg.OpUpdate
	if _, err := h.records.Get(ctx.Request.Context(), path); errors.Is(err, metastore.ErrRecordNotFound) {
		op = syncmsg.OpCreate
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	result, err := h.content.Put(ctx.Request.Context(), &content.PutParams{
		Key:     path,
		Body:    body,
		ModTime: modTime,
		MaxSize: h.maxSize,
	})
	if errors.Is(err, content.ErrTooLarge) {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeFileTooLarge, err)
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFilePutFailed, fmt.Errorf("failed to store %s: %w", path, err))
		return
	}

	rec := &syncmsg.FileRecord{
		Path:         path,
		Size:         result.Size,
		Checksum:     result.Checksum,
		ModifiedTime: modTime,
	}
	if err := h.records.Commit(ctx.Request.Context(), req.PeerID, op, rec); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFilePutFailed, err)
		return
	}

	slog.Info("file stored", "peerId", req.PeerID, "op", op, "path", path, "size", humanize.IBytes(uint64(rec.Size)), "compression", req.Compression)
	ctx.PureJSON(http.StatusOK, rec)
}

func (h *FilesHandler) abortBodyError(ctx *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeFileTooLarge, err)
		return
	}
	api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
}
