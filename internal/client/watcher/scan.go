package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

// ListAll walks the sync root once and fingerprints every regular file that
// is not ignored. Files that vanish during the walk are skipped.
func (w *Watcher) ListAll(ctx context.Context) ([]*syncmsg.FileRecord, error) {
	var records []*syncmsg.FileRecord

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == w.root {
			return nil
		}

		rel, err := utils.RelPath(w.root, path)
		if err != nil {
			return err
		}
		if w.ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rec, err := fingerprint.Fingerprint(w.root, path)
		if err != nil {
			slog.Debug("scan skip", "path", rel, "error", err)
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("scan complete", "root", w.root, "files", len(records))
	return records, nil
}
