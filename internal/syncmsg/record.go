package syncmsg

import "time"

// FileRecord is the identity and metadata snapshot of a path.
// Path is root-relative with forward slashes. Checksum is empty for directories.
type FileRecord struct {
	Path         string    `json:"path" msgpack:"path"`
	Size         int64     `json:"size" msgpack:"size"`
	Checksum     string    `json:"checksum" msgpack:"checksum"`
	ModifiedTime time.Time `json:"modifiedTime" msgpack:"modifiedTime"`
	IsDirectory  bool      `json:"isDirectory" msgpack:"isDirectory"`
}

// SameContent reports whether both records describe identical content.
// Timestamps are never consulted.
func (r *FileRecord) SameContent(other *FileRecord) bool {
	if r == nil || other == nil {
		return false
	}
	return r.IsDirectory == other.IsDirectory && r.Checksum == other.Checksum
}

// SyncPlan is the coordinator's answer to a reconciliation request.
type SyncPlan struct {
	FilesToPull []*FileRecord `json:"filesToPull"`
	Conflicts   []string      `json:"conflicts"`
	// FilesToPush lists paths the coordinator has never seen.
	FilesToPush []string `json:"filesToPush"`
}

func (p *SyncPlan) IsEmpty() bool {
	return len(p.FilesToPull) == 0 && len(p.Conflicts) == 0 && len(p.FilesToPush) == 0
}

// OpLogEntry is one immutable row of the coordinator's operation log.
type OpLogEntry struct {
	ID        int64     `json:"id"`
	FilePath  string    `json:"filePath"`
	Operation Operation `json:"operation"`
	PeerID    string    `json:"peerId"`
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
}
