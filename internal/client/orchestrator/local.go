package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

// OnLocalChange pushes a stabilized local change to the coordinator and then
// announces it to the other peers.
func (o *Orchestrator) OnLocalChange(ctx context.Context, ev syncmsg.ChangeEvent) error {
	if ev.Record == nil || ev.Path() == "" {
		return nil
	}
	rel := ev.Path()

	switch ev.Operation {
	case syncmsg.OpCreate, syncmsg.OpUpdate:
		if ev.Record.IsDirectory {
			return nil
		}
		rec, err := o.push(ctx, rel)
		if err != nil {
			return err
		}
		return o.notify(ctx, ev.Operation, rec, "")

	case syncmsg.OpDelete:
		if err := o.deleteRemote(ctx, rel); err != nil {
			return err
		}
		return o.notify(ctx, syncmsg.OpDelete, &syncmsg.FileRecord{Path: rel, ModifiedTime: ev.Timestamp}, "")

	case syncmsg.OpMove:
		return o.move(ctx, ev)

	default:
		return fmt.Errorf("unknown operation %q", ev.Operation)
	}
}

// move is a delete of the old path followed by a full upload of the new one.
func (o *Orchestrator) move(ctx context.Context, ev syncmsg.ChangeEvent) error {
	if err := o.deleteRemote(ctx, ev.OldPath); err != nil {
		return err
	}

	if !ev.Record.IsDirectory {
		rec, err := o.push(ctx, ev.Path())
		if err != nil {
			return err
		}
		return o.notify(ctx, syncmsg.OpMove, rec, ev.OldPath)
	}

	// a moved directory carries its files along without events of their own
	if err := o.notify(ctx, syncmsg.OpDelete, &syncmsg.FileRecord{Path: ev.OldPath, IsDirectory: true}, ""); err != nil {
		return err
	}
	dir, err := o.abs(ev.Path())
	if err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		rel, err := utils.RelPath(o.cfg.Root, p)
		if err != nil || o.watcher.ShouldIgnore(rel) {
			return nil
		}
		rec, err := o.push(ctx, rel)
		if err != nil {
			slog.Warn("sync move upload", "path", rel, "error", err)
			return nil
		}
		return o.notify(ctx, syncmsg.OpCreate, rec, "")
	})
}

func (o *Orchestrator) deleteRemote(ctx context.Context, rel string) error {
	o.transferMu.Lock()
	defer o.transferMu.Unlock()

	resp, err := o.coord.Delete(context.WithoutCancel(ctx), rel)
	if err != nil {
		return err
	}
	slog.Info("sync deleted remote", "path", rel, "existed", resp.Deleted)
	return nil
}
