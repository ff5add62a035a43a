package reconcile

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func rec(path, checksum string, mtime time.Time) *syncmsg.FileRecord {
	return &syncmsg.FileRecord{Path: path, Checksum: checksum, Size: 1, ModifiedTime: mtime}
}

func paths(recs []*syncmsg.FileRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Path)
	}
	return out
}

func TestReconcile_EqualChecksumNeverSyncs(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 200 {
		skew := time.Duration(rng.Int64N(int64(48*time.Hour))) - 24*time.Hour
		path := fmt.Sprintf("f%d.bin", i)
		checksum := fmt.Sprintf("%x", rng.Uint64())

		plan := Reconcile(
			[]*syncmsg.FileRecord{rec(path, checksum, t0.Add(skew))},
			[]*syncmsg.FileRecord{rec(path, checksum, t0)},
		)

		require.Empty(t, plan.FilesToPull, "skew %s", skew)
		require.Empty(t, plan.Conflicts, "skew %s", skew)
		require.Empty(t, plan.FilesToPush)
	}
}

func TestReconcile_ServerOnlyPulledExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 50 {
		var server []*syncmsg.FileRecord
		var peer []*syncmsg.FileRecord
		serverOnly := map[string]*syncmsg.FileRecord{}

		for i := range rng.IntN(20) + 1 {
			r := rec(fmt.Sprintf("dir/%d.txt", i), fmt.Sprintf("c%d", i), t0)
			server = append(server, r)
			if rng.IntN(2) == 0 {
				peer = append(peer, rec(r.Path, r.Checksum, t0))
			} else {
				serverOnly[r.Path] = r
			}
		}

		plan := Reconcile(peer, server)
		require.Len(t, plan.FilesToPull, len(serverOnly))
		for _, pulled := range plan.FilesToPull {
			want, ok := serverOnly[pulled.Path]
			require.True(t, ok, "unexpected pull %s", pulled.Path)
			assert.Equal(t, want.Checksum, pulled.Checksum)
		}
	}
}

func TestReconcile_PeerOnlyProducesNoPull(t *testing.T) {
	plan := Reconcile([]*syncmsg.FileRecord{rec("mine.txt", "c", t0)}, nil)
	assert.Empty(t, plan.FilesToPull)
	assert.Empty(t, plan.Conflicts)
	assert.Equal(t, []string{"mine.txt"}, plan.FilesToPush)
}

func TestReconcile_ScenarioA_EmptyPeerPullsNotes(t *testing.T) {
	server := []*syncmsg.FileRecord{rec("notes.txt", "C1", t0)}

	plan := Reconcile(nil, server)

	require.Len(t, plan.FilesToPull, 1)
	assert.Equal(t, "notes.txt", plan.FilesToPull[0].Path)
	assert.Equal(t, "C1", plan.FilesToPull[0].Checksum)
	assert.Empty(t, plan.Conflicts)
}

func TestReconcile_ScenarioB_OlderPeerCopyConflicts(t *testing.T) {
	plan := Reconcile(
		[]*syncmsg.FileRecord{rec("report.pdf", "peer", t0.Add(-5*time.Second))},
		[]*syncmsg.FileRecord{rec("report.pdf", "server", t0)},
	)
	assert.Equal(t, []string{"report.pdf"}, plan.Conflicts)
	assert.Empty(t, plan.FilesToPull)
}

func TestReconcile_ScenarioC_NewerPeerCopyIsPullCandidate(t *testing.T) {
	plan := Reconcile(
		[]*syncmsg.FileRecord{rec("report.pdf", "peer", t0.Add(5*time.Second))},
		[]*syncmsg.FileRecord{rec("report.pdf", "server", t0)},
	)
	assert.Empty(t, plan.Conflicts)
	assert.Equal(t, []string{"report.pdf"}, paths(plan.FilesToPull))
}

func TestReconcile_TieIsConflict(t *testing.T) {
	plan := Reconcile(
		[]*syncmsg.FileRecord{rec("same.txt", "a", t0)},
		[]*syncmsg.FileRecord{rec("same.txt", "b", t0)},
	)
	assert.Equal(t, []string{"same.txt"}, plan.Conflicts)
}

func TestReconcile_NormalizesAndSkipsDirectories(t *testing.T) {
	peer := []*syncmsg.FileRecord{rec("./docs/a.txt", "x", t0), {Path: "docs", IsDirectory: true}}
	server := []*syncmsg.FileRecord{rec("docs/a.txt", "x", t0), {Path: "photos", IsDirectory: true}}

	plan := Reconcile(peer, server)
	assert.True(t, plan.IsEmpty())
}

func TestReconcile_Idempotent(t *testing.T) {
	server := []*syncmsg.FileRecord{rec("a.txt", "1", t0), rec("b/c.txt", "2", t0)}

	first := Reconcile(nil, server)
	require.Len(t, first.FilesToPull, 2)

	// after pulling, the peer inventory matches the server
	second := Reconcile(first.FilesToPull, server)
	assert.True(t, second.IsEmpty())
	third := Reconcile(first.FilesToPull, server)
	assert.Equal(t, second, third)
}

type fakeInventory struct {
	files     []*syncmsg.FileRecord
	contended []string
	since     time.Time
	now       time.Time
}

func (f *fakeInventory) List(context.Context) ([]*syncmsg.FileRecord, error) { return f.files, nil }
func (f *fakeInventory) Now() time.Time                                      { return f.now }
func (f *fakeInventory) ContendedPaths(_ context.Context, since time.Time) ([]string, error) {
	f.since = since
	return f.contended, nil
}

func TestReconciler_AddsContendedPaths(t *testing.T) {
	inv := &fakeInventory{
		files:     []*syncmsg.FileRecord{rec("shared.txt", "same", t0), rec("old.txt", "s", t0)},
		contended: []string{"shared.txt"},
		now:       t0.Add(3 * time.Hour),
	}
	r := NewReconciler(inv, 0)

	plan, err := r.Plan(t.Context(), "p1", []*syncmsg.FileRecord{
		rec("shared.txt", "same", t0),
		rec("old.txt", "p", t0.Add(-time.Minute)),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"old.txt", "shared.txt"}, plan.Conflicts)
	assert.Equal(t, inv.now.Add(-DefaultConflictWindow), inv.since)
}
