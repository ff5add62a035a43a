package stats

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/server/handlers/api"
	"github.com/openmined/peersync/internal/server/hub"
	"github.com/openmined/peersync/internal/version"
	"github.com/shirou/gopsutil/v4/process"
)

type FileCounter interface {
	Count(ctx context.Context) (int, error)
}

type Presence interface {
	Peers(ctx context.Context) ([]hub.PeerInfo, error)
}

type StatsResponse struct {
	Version       string  `json:"version"`
	Uptime        string  `json:"uptime"`
	Files         int     `json:"files"`
	PeersOnline   int     `json:"peersOnline"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryRSS     uint64  `json:"memoryRss"`
	MemoryRSSText string  `json:"memoryRssText"`
	NumThreads    int32   `json:"numThreads"`
}

type StatsHandler struct {
	files    FileCounter
	presence Presence
	started  time.Time
	proc     *process.Process
}

func New(files FileCounter, presence Presence) *StatsHandler {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &StatsHandler{files: files, presence: presence, started: time.Now(), proc: proc}
}

func (h *StatsHandler) Stats(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()

	files, err := h.files.Count(reqCtx)
	if err != nil {
		api.AbortWithError(ctx, http.StatusServiceUnavailable, api.CodeStorageUnavailable, err)
		return
	}
	peers, err := h.presence.Peers(reqCtx)
	if err != nil {
		api.AbortWithError(ctx, http.StatusServiceUnavailable, api.CodeInternalError, err)
		return
	}

	resp := &StatsResponse{
		Version:     version.Short(),
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Files:       files,
		PeersOnline: len(peers),
		Goroutines:  runtime.NumGoroutine(),
	}

	// process metrics are best effort
	if h.proc != nil {
		if cpu, err := h.proc.CPUPercentWithContext(reqCtx); err == nil {
			resp.CPUPercent = cpu
		}
		if mem, err := h.proc.MemoryInfoWithContext(reqCtx); err == nil {
			resp.MemoryRSS = mem.RSS
			resp.MemoryRSSText = humanize.IBytes(mem.RSS)
		}
		if threads, err := h.proc.NumThreadsWithContext(reqCtx); err == nil {
			resp.NumThreads = threads
		}
	}

	ctx.PureJSON(http.StatusOK, resp)
}
