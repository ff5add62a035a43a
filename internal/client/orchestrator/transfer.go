package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/openmined/peersync/internal/client/syncsdk"
	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

// Transfers are serialized on transferMu and detached from cancellation:
// once started they finish or fail on their own.

func (o *Orchestrator) abs(rel string) (string, error) {
	return utils.SafeJoin(o.cfg.Root, rel)
}

// push uploads the local file at rel and returns the coordinator's record.
func (o *Orchestrator) push(ctx context.Context, rel string) (*syncmsg.FileRecord, error) {
	o.transferMu.Lock()
	defer o.transferMu.Unlock()
	ctx = context.WithoutCancel(ctx)

	abs, err := o.abs(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", rel)
	}

	rec, err := o.coord.Upload(ctx, &syncsdk.UploadParams{
		Path:         rel,
		FilePath:     abs,
		ModifiedTime: info.ModTime(),
		Compress:     o.cfg.Compress,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("sync pushed", "path", rec.Path, "size", humanize.IBytes(uint64(rec.Size)))
	return rec, nil
}

// pull downloads rec into the sync root unless the local copy already has
// its checksum. Content lands in the tmp dir first and is renamed into place
// only after the checksum verifies. Returns false when nothing was written.
func (o *Orchestrator) pull(ctx context.Context, rec *syncmsg.FileRecord) (bool, error) {
	o.transferMu.Lock()
	defer o.transferMu.Unlock()
	ctx = context.WithoutCancel(ctx)

	dest, err := o.abs(rec.Path)
	if err != nil {
		return false, err
	}

	if local, err := fingerprint.Fingerprint(o.cfg.Root, dest); err == nil && !local.IsDirectory && local.Checksum == rec.Checksum {
		slog.Debug("sync pull skipped, up to date", "path", rec.Path)
		return false, nil
	}

	tmp, err := os.CreateTemp(o.cfg.TmpDir, "pull-*")
	if err != nil {
		return false, fmt.Errorf("tmp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	res, err := o.coord.Download(ctx, rec.Path, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, err
	}

	want := res.Checksum
	if want == "" {
		want = rec.Checksum
	}
	if res.Computed != want {
		return false, fmt.Errorf("%w: %s want %s got %s", ErrChecksumMismatch, rec.Path, want, res.Computed)
	}

	if err := utils.EnsureParent(dest); err != nil {
		return false, err
	}

	o.watcher.IgnoreOnce(rec.Path)
	if err := os.Rename(tmpPath, dest); err != nil {
		return false, fmt.Errorf("place %s: %w", rec.Path, err)
	}
	if !rec.ModifiedTime.IsZero() {
		if err := os.Chtimes(dest, rec.ModifiedTime, rec.ModifiedTime); err != nil {
			slog.Warn("sync set mtime", "path", rec.Path, "error", err)
		}
	}

	slog.Info("sync pulled", "path", rec.Path, "size", humanize.IBytes(uint64(res.Size)))
	return true, nil
}

// removeLocal deletes rel and everything below it, suppressing the watch
// events the removal causes. A missing path is not an error.
func (o *Orchestrator) removeLocal(rel string) (bool, error) {
	o.transferMu.Lock()
	defer o.transferMu.Unlock()

	abs, err := o.abs(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if info.IsDir() {
		err := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				// unreadable entries still go with RemoveAll, their events are not suppressed
				slog.Warn("sync remove walk", "path", p, "error", err)
				return nil
			}
			if p == abs {
				return nil
			}
			childRel, err := utils.RelPath(o.cfg.Root, p)
			if err != nil {
				return err
			}
			o.watcher.IgnoreOnce(childRel)
			return nil
		})
		if err != nil {
			slog.Warn("sync remove walk", "path", rel, "error", err)
		}
	}
	o.watcher.IgnoreOnce(rel)

	if err := os.RemoveAll(abs); err != nil {
		return false, fmt.Errorf("remove %s: %w", rel, err)
	}
	slog.Info("sync removed", "path", rel)
	return true, nil
}
