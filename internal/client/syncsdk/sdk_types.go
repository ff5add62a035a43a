package syncsdk

import (
	"time"

	"github.com/openmined/peersync/internal/syncmsg"
)

type RegisterParams struct {
	PeerID   string `json:"peerId"`
	Name     string `json:"name"`
	SyncRoot string `json:"syncRoot"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type reconcileRequest struct {
	PeerID string                `json:"peerId"`
	Files  []*syncmsg.FileRecord `json:"files"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type PeerStatus struct {
	PeerID       string    `json:"peerId"`
	Name         string    `json:"name"`
	SyncRoot     string    `json:"syncRoot"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSyncAt   time.Time `json:"lastSyncAt"`
	Online       bool      `json:"online"`
	Addr         string    `json:"addr"`
	LastSeen     time.Time `json:"lastSeen"`
}

type peersResponse struct {
	Peers []*PeerStatus `json:"peers"`
}

type ConflictsResponse struct {
	Since     time.Time `json:"since"`
	Conflicts []string  `json:"conflicts"`
}

type historyResponse struct {
	History []*syncmsg.OpLogEntry `json:"history"`
}

type UploadParams struct {
	// Path is the root-relative path the content is stored under.
	Path string
	// FilePath is the local file read for the body.
	FilePath     string
	ModifiedTime time.Time
	Compress     bool
}

type DownloadResult struct {
	// Checksum as announced by the coordinator.
	Checksum string
	// Computed over the bytes actually received.
	Computed string
	Size     int64
}

type DeleteResponse struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}
