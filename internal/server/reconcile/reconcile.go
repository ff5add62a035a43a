// Package reconcile diffs a peer's inventory against the coordinator's and
// produces a SyncPlan.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

const DefaultConflictWindow = time.Hour

// Reconcile computes the plan for a peer. Both inventories are keyed by
// normalized path; directories are ignored.
//
//   - only on server: pull the server record
//   - only on peer: listed in FilesToPush, nothing else
//   - same checksum: nothing
//   - different checksum: pull candidate when the peer copy is strictly newer,
//     conflict otherwise (equal times included)
func Reconcile(peerFiles, serverFiles []*syncmsg.FileRecord) *syncmsg.SyncPlan {
	peer := index(peerFiles)
	server := index(serverFiles)

	plan := &syncmsg.SyncPlan{
		FilesToPull: []*syncmsg.FileRecord{},
		Conflicts:   []string{},
		FilesToPush: []string{},
	}
	conflicts := mapset.NewThreadUnsafeSet[string]()

	for path, srv := range server {
		local, ok := peer[path]
		switch {
		case !ok:
			plan.FilesToPull = append(plan.FilesToPull, srv)
		case local.Checksum == srv.Checksum:
		case local.ModifiedTime.After(srv.ModifiedTime):
			plan.FilesToPull = append(plan.FilesToPull, srv)
		default:
			conflicts.Add(path)
		}
	}

	for path := range peer {
		if _, ok := server[path]; !ok {
			plan.FilesToPush = append(plan.FilesToPush, path)
		}
	}

	slices.SortFunc(plan.FilesToPull, func(a, b *syncmsg.FileRecord) int {
		return strings.Compare(a.Path, b.Path)
	})
	slices.Sort(plan.FilesToPush)
	plan.Conflicts = sortedSet(conflicts)
	return plan
}

func index(recs []*syncmsg.FileRecord) map[string]*syncmsg.FileRecord {
	m := make(map[string]*syncmsg.FileRecord, len(recs))
	for _, rec := range recs {
		if rec == nil || rec.IsDirectory {
			continue
		}
		norm := *rec
		norm.Path = utils.NormalizePath(rec.Path)
		if norm.Path == "" {
			continue
		}
		m[norm.Path] = &norm
	}
	return m
}

func sortedSet(set mapset.Set[string]) []string {
	out := set.ToSlice()
	slices.Sort(out)
	return out
}

// Inventory is the coordinator state the Reconciler reads.
type Inventory interface {
	List(ctx context.Context) ([]*syncmsg.FileRecord, error)
	ContendedPaths(ctx context.Context, since time.Time) ([]string, error)
	Now() time.Time
}

// Reconciler adds the operation log signal on top of Reconcile.
type Reconciler struct {
	inv    Inventory
	window time.Duration
}

func NewReconciler(inv Inventory, window time.Duration) *Reconciler {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return &Reconciler{inv: inv, window: window}
}

// Plan reconciles peerFiles against the current server inventory. Paths that
// two or more peers touched within the window are reported as conflicts even
// when checksums currently agree.
func (r *Reconciler) Plan(ctx context.Context, peerID string, peerFiles []*syncmsg.FileRecord) (*syncmsg.SyncPlan, error) {
	serverFiles, err := r.inv.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load server inventory: %w", err)
	}

	plan := Reconcile(peerFiles, serverFiles)

	contended, err := r.inv.ContendedPaths(ctx, r.inv.Now().Add(-r.window))
	if err != nil {
		return nil, fmt.Errorf("load contended paths: %w", err)
	}
	if len(contended) > 0 {
		set := mapset.NewThreadUnsafeSet(plan.Conflicts...)
		set.Append(contended...)
		plan.Conflicts = sortedSet(set)
	}

	slog.Info("reconcile", "peerId", peerID, "peerFiles", len(peerFiles), "serverFiles", len(serverFiles),
		"pull", len(plan.FilesToPull), "push", len(plan.FilesToPush), "conflicts", len(plan.Conflicts))
	return plan, nil
}
