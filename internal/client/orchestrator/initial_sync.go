package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

type SyncSummary struct {
	Pulled    int
	Pushed    int
	Skipped   int
	Failed    int
	Conflicts []string
}

// PerformInitialSync reconciles inventory with the coordinator and applies
// the plan. Conflicts are logged and left alone. For a pull candidate whose
// local copy differs and is newer than the coordinator's, this peer is the
// newer side and pushes instead.
func (o *Orchestrator) PerformInitialSync(ctx context.Context, inventory []*syncmsg.FileRecord) (*SyncSummary, error) {
	start := time.Now()

	plan, err := o.coord.Reconcile(ctx, inventory)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	local := make(map[string]*syncmsg.FileRecord, len(inventory))
	for _, rec := range inventory {
		local[utils.NormalizePath(rec.Path)] = rec
	}

	summary := &SyncSummary{Conflicts: plan.Conflicts}
	conflicted := make(map[string]bool, len(plan.Conflicts))
	for _, path := range plan.Conflicts {
		conflicted[path] = true
		slog.Warn("sync conflict, resolve manually", "path", path)
	}

	for _, remote := range plan.FilesToPull {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		mine, have := local[remote.Path]
		switch {
		case have && mine.Checksum == remote.Checksum:
			summary.Skipped++

		case have && conflicted[remote.Path]:
			summary.Skipped++

		case have && mine.ModifiedTime.After(remote.ModifiedTime):
			if err := o.pushAndNotify(ctx, syncmsg.OpUpdate, remote.Path); err != nil {
				slog.Warn("sync push failed", "path", remote.Path, "error", err)
				summary.Failed++
				continue
			}
			summary.Pushed++

		default:
			pulled, err := o.pull(ctx, remote)
			if err != nil {
				slog.Warn("sync pull failed", "path", remote.Path, "error", err)
				summary.Failed++
				continue
			}
			if pulled {
				summary.Pulled++
			} else {
				summary.Skipped++
			}
		}
	}

	for _, path := range plan.FilesToPush {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if err := o.pushAndNotify(ctx, syncmsg.OpCreate, path); err != nil {
			slog.Warn("sync push failed", "path", path, "error", err)
			summary.Failed++
			continue
		}
		summary.Pushed++
	}

	slog.Info("sync initial complete",
		"pulled", summary.Pulled,
		"pushed", summary.Pushed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"conflicts", len(summary.Conflicts),
		"took", time.Since(start))
	return summary, nil
}

func (o *Orchestrator) pushAndNotify(ctx context.Context, op syncmsg.Operation, rel string) error {
	rec, err := o.push(ctx, rel)
	if err != nil {
		return err
	}
	if err := o.notify(ctx, op, rec, ""); err != nil {
		slog.Debug("sync notify skipped", "path", rel, "error", err)
	}
	return nil
}
