package metastore

import (
	"time"

	"github.com/openmined/peersync/internal/syncmsg"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	modified_time INTEGER NOT NULL, -- unix nanoseconds, UTC
	is_directory INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_records_checksum ON file_records(checksum);

CREATE TABLE IF NOT EXISTS op_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	operation TEXT NOT NULL,
	peer_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL, -- unix nanoseconds, UTC
	checksum TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_op_log_path ON op_log(file_path);
CREATE INDEX IF NOT EXISTS idx_op_log_peer ON op_log(peer_id);
CREATE INDEX IF NOT EXISTS idx_op_log_timestamp ON op_log(timestamp);

CREATE TABLE IF NOT EXISTS peers (
	peer_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	sync_root TEXT NOT NULL DEFAULT '',
	registered_at INTEGER NOT NULL,
	last_sync_at INTEGER NOT NULL DEFAULT 0
);
`

const recordColumns = "path, size, checksum, modified_time, is_directory"

type dbFileRecord struct {
	Path         string `db:"path"`
	Size         int64  `db:"size"`
	Checksum     string `db:"checksum"`
	ModifiedTime int64  `db:"modified_time"`
	IsDirectory  bool   `db:"is_directory"`
	UpdatedAt    int64  `db:"updated_at"`
}

func toDBRecord(rec *syncmsg.FileRecord, now time.Time) *dbFileRecord {
	return &dbFileRecord{
		Path:         rec.Path,
		Size:         rec.Size,
		Checksum:     rec.Checksum,
		ModifiedTime: rec.ModifiedTime.UTC().UnixNano(),
		IsDirectory:  rec.IsDirectory,
		UpdatedAt:    now.UTC().UnixNano(),
	}
}

func (r *dbFileRecord) toRecord() *syncmsg.FileRecord {
	return &syncmsg.FileRecord{
		Path:         r.Path,
		Size:         r.Size,
		Checksum:     r.Checksum,
		ModifiedTime: time.Unix(0, r.ModifiedTime).UTC(),
		IsDirectory:  r.IsDirectory,
	}
}

type dbOpLogEntry struct {
	ID        int64  `db:"id"`
	FilePath  string `db:"file_path"`
	Operation string `db:"operation"`
	PeerID    string `db:"peer_id"`
	Timestamp int64  `db:"timestamp"`
	Checksum  string `db:"checksum"`
	Size      int64  `db:"size"`
}

func (e *dbOpLogEntry) toEntry() *syncmsg.OpLogEntry {
	return &syncmsg.OpLogEntry{
		ID:        e.ID,
		FilePath:  e.FilePath,
		Operation: syncmsg.Operation(e.Operation),
		PeerID:    e.PeerID,
		Timestamp: time.Unix(0, e.Timestamp).UTC(),
		Checksum:  e.Checksum,
		Size:      e.Size,
	}
}
