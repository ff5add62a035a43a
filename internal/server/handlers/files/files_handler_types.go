package files

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"

	HeaderChecksum = "X-Sync-Checksum"
)

type UploadRequest struct {
	Path         string `form:"path" binding:"required"`
	PeerID       string `form:"peerId" binding:"required"`
	ModifiedTime string `form:"modifiedTime"`
	Compression  string `form:"compression"`
}

type DeleteRequest struct {
	PeerID string `form:"peerId" binding:"required"`
}

type DeleteResponse struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

type HistoryRequest struct {
	Path  string `form:"path"`
	Limit int    `form:"limit"`
}
