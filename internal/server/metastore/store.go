package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/peersync/internal/db"
	"github.com/openmined/peersync/internal/syncmsg"
)

const (
	cacheSize = 4096
	cacheTTL  = 5 * time.Minute
)

var (
	ErrRecordNotFound     = errors.New("metastore: record not found")
	ErrStorageUnavailable = errors.New("metastore: storage unavailable")
)

// Store is the coordinator's durable table of FileRecords plus the
// append-only operation log. It owns a single sqlite connection, so every
// mutation is serialized.
type Store struct {
	db    *sqlx.DB
	clock clockwork.Clock

	// cacheMu orders cache fills against invalidations. writes counts
	// committed record changes; a Get only caches what it read if no
	// write committed while it was reading.
	cacheMu sync.Mutex
	cache   *expirable.LRU[string, syncmsg.FileRecord]
	writes  uint64

	// afterRead runs between a Get's query and its cache fill. Tests only.
	afterRead func()
}

type Option func(*Store)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Open creates or opens the store at path. ":memory:" is accepted.
func Open(path string, opts ...Option) (*Store, error) {
	sqlDB, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	store, err := New(sqlDB, opts...)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection and initializes the schema.
func New(sqlDB *sqlx.DB, opts ...Option) (*Store, error) {
	if _, err := sqlDB.Exec(schema); err != nil {
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}

	s := &Store{
		db:    sqlDB,
		cache: expirable.NewLRU[string, syncmsg.FileRecord](cacheSize, nil, cacheTTL),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.cache.Purge()
	return s.db.Close()
}

// Ping reports ErrStorageUnavailable when the database cannot serve queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (*syncmsg.FileRecord, error) {
	if rec, ok := s.cache.Get(path); ok {
		return &rec, nil
	}

	s.cacheMu.Lock()
	seen := s.writes
	s.cacheMu.Unlock()

	var row dbFileRecord
	err := s.db.GetContext(ctx, &row, "SELECT "+recordColumns+", updated_at FROM file_records WHERE path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if s.afterRead != nil {
		s.afterRead()
	}

	rec := row.toRecord()
	s.cacheMu.Lock()
	if s.writes == seen {
		s.cache.Add(path, *rec)
	}
	s.cacheMu.Unlock()
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec *syncmsg.FileRecord) error {
	return s.PutMany(ctx, []*syncmsg.FileRecord{rec})
}

// PutMany upserts all records in one transaction.
func (s *Store) PutMany(ctx context.Context, recs []*syncmsg.FileRecord) error {
	if len(recs) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, rec := range recs {
			if err := s.upsert(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(recs))
	for _, rec := range recs {
		paths = append(paths, rec.Path)
	}
	s.invalidate(paths, false)
	return nil
}

// Remove deletes path and every record below it, returning the number of
// records removed.
func (s *Store) Remove(ctx context.Context, path string) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		removed, err = s.remove(ctx, tx, path)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.invalidate([]string{path}, true)
	return removed, nil
}

// Commit applies a peer's change to the record table and appends it to the
// operation log atomically. For OpDelete only rec.Path is read; deleting a
// path with no records is a no-op and leaves the log untouched.
func (s *Store) Commit(ctx context.Context, peerID string, op syncmsg.Operation, rec *syncmsg.FileRecord) error {
	if !op.Valid() {
		return fmt.Errorf("commit %s: invalid operation %q", rec.Path, op)
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if op == syncmsg.OpDelete {
			removed, err := s.remove(ctx, tx, rec.Path)
			if err != nil {
				return err
			}
			if removed == 0 {
				return nil
			}
		} else if err := s.upsert(ctx, tx, rec); err != nil {
			return err
		}

		return s.appendOp(ctx, tx, &syncmsg.OpLogEntry{
			FilePath:  rec.Path,
			Operation: op,
			PeerID:    peerID,
			Checksum:  rec.Checksum,
			Size:      rec.Size,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate([]string{rec.Path}, op == syncmsg.OpDelete)
	return nil
}

// List returns every record ordered by path.
func (s *Store) List(ctx context.Context) ([]*syncmsg.FileRecord, error) {
	var rows []dbFileRecord
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+recordColumns+", updated_at FROM file_records ORDER BY path"); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	recs := make([]*syncmsg.FileRecord, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].toRecord())
	}
	return recs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM file_records"); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// AppendOp adds an entry to the operation log. A zero Timestamp is set to now.
func (s *Store) AppendOp(ctx context.Context, entry *syncmsg.OpLogEntry) error {
	return s.appendOp(ctx, s.db, entry)
}

// History returns the most recent log entries, newest first. An empty path
// returns entries for all paths.
func (s *Store) History(ctx context.Context, path string, limit int) ([]*syncmsg.OpLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, file_path, operation, peer_id, timestamp, checksum, size FROM op_log"
	args := []any{}
	if path != "" {
		query += " WHERE file_path = ?"
		args = append(args, path)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var rows []dbOpLogEntry
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries := make([]*syncmsg.OpLogEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toEntry())
	}
	return entries, nil
}

// ContendedPaths returns paths that two or more distinct peers changed at or
// after since, ordered by path.
func (s *Store) ContendedPaths(ctx context.Context, since time.Time) ([]string, error) {
	var paths []string
	err := s.db.SelectContext(ctx, &paths, `
		SELECT file_path FROM op_log
		WHERE timestamp >= ?
		GROUP BY file_path
		HAVING COUNT(DISTINCT peer_id) > 1
		ORDER BY file_path`,
		since.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query contended paths: %w", err)
	}
	return paths, nil
}

// Now is the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func (s *Store) upsert(ctx context.Context, ext sqlx.ExtContext, rec *syncmsg.FileRecord) error {
	row := toDBRecord(rec, s.clock.Now())
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT OR REPLACE INTO file_records (path, size, checksum, modified_time, is_directory, updated_at)
		VALUES (:path, :size, :checksum, :modified_time, :is_directory, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Path, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, ext sqlx.ExtContext, path string) (int64, error) {
	res, err := ext.ExecContext(ctx,
		"DELETE FROM file_records WHERE path = ? OR substr(path, 1, ?) = ?",
		path, len(path)+1, path+"/",
	)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", path, err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// invalidate drops cached records for paths once their change is committed.
// With subtree set, records below each path go too.
func (s *Store) invalidate(paths []string, subtree bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.writes++
	for _, path := range paths {
		s.cache.Remove(path)
		if !subtree {
			continue
		}
		for _, key := range s.cache.Keys() {
			if strings.HasPrefix(key, path+"/") {
				s.cache.Remove(key)
			}
		}
	}
}

func (s *Store) appendOp(ctx context.Context, ext sqlx.ExtContext, entry *syncmsg.OpLogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	_, err := ext.ExecContext(ctx,
		"INSERT INTO op_log (file_path, operation, peer_id, timestamp, checksum, size) VALUES (?, ?, ?, ?, ?, ?)",
		entry.FilePath, string(entry.Operation), entry.PeerID, ts.UTC().UnixNano(), entry.Checksum, entry.Size,
	)
	if err != nil {
		return fmt.Errorf("append op %s %s: %w", entry.Operation, entry.FilePath, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("metastore rollback", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
