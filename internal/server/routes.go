package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/files"
	"github.com/openmined/peersync/internal/server/handlers/stats"
	"github.com/openmined/peersync/internal/server/handlers/syncapi"
	"github.com/openmined/peersync/internal/server/middlewares"
	"github.com/openmined/peersync/internal/version"
)

func SetupRoutes(s *Server) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	syncH := syncapi.New(s.store, s.hub, s.reconciler, s.config.ConflictWindow)
	filesH := files.New(s.store, s.content, s.config.MaxFileSize)
	statsH := stats.New(s.store, s.hub)

	rateLimiter, err := middlewares.RateLimiter(s.config.RateLimit)
	if err != nil {
		return nil, err
	}

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	if s.config.TLSEnabled() {
		r.Use(middlewares.HSTS())
	}
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	{
		// realtime channel, stays up while storage is down
		v1.GET("/events", s.hub.WebsocketHandler)
		v1.GET("/peers", syncH.Peers)
		v1.GET("/stats", statsH.Stats)

		guarded := v1.Group("")
		guarded.Use(rateLimiter, middlewares.RequireStorage(s.store))
		{
			guarded.POST("/register", syncH.Register)
			guarded.POST("/sync", syncH.Sync)
			guarded.GET("/conflicts", syncH.Conflicts)
			guarded.GET("/history", filesH.History)

			guarded.PUT("/files", filesH.Upload)
			guarded.GET("/files/*path", filesH.Download)
			guarded.DELETE("/files/*path", filesH.Delete)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
