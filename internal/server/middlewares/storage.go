package middlewares

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/api"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// RequireStorage refuses sync activity while the metadata store is unreachable.
func RequireStorage(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			slog.Error("storage unavailable", "path", c.FullPath(), "error", err)
			api.AbortWithError(c, http.StatusServiceUnavailable, api.CodeStorageUnavailable, err)
			return
		}
		c.Next()
	}
}
