package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/peersync/internal/utils"
)

const (
	MetadataDir  = ".peersync"
	tmpDir       = "tmp"
	lockFile     = "peersync.lock"
	identityFile = "peer.json"

	peerIDTimeLayout = "20060102_150405"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrNoIdentity      = errors.New("workspace has no peer identity")
)

// Identity is the peer's persisted identity. It is created once per
// workspace and name and reused across restarts.
type Identity struct {
	PeerID    string    `json:"peerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Workspace struct {
	Root        string
	MetadataDir string
	TmpDir      string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, MetadataDir)
	return &Workspace{
		Root:        root,
		MetadataDir: metaDir,
		TmpDir:      filepath.Join(metaDir, tmpDir),
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}, nil
}

// Setup creates the workspace layout and takes the workspace lock.
// Leftovers from interrupted downloads are cleared.
func (w *Workspace) Setup() error {
	if err := utils.EnsureDir(w.Root); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.Root, err)
	}

	if err := w.Lock(); err != nil {
		return err
	}

	if err := os.RemoveAll(w.TmpDir); err != nil {
		slog.Warn("workspace tmp cleanup", "dir", w.TmpDir, "error", err)
	}
	if err := utils.EnsureDir(w.TmpDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.TmpDir, err)
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

func (w *Workspace) identityPath() string {
	return filepath.Join(w.MetadataDir, identityFile)
}

// LoadIdentity reads the persisted identity. ErrNoIdentity is returned when
// none was saved yet.
func (w *Workspace) LoadIdentity() (*Identity, error) {
	data, err := os.ReadFile(w.identityPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoIdentity
	} else if err != nil {
		return nil, err
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("identity %s: %w", w.identityPath(), err)
	}
	if id.PeerID == "" {
		return nil, ErrNoIdentity
	}
	return &id, nil
}

// Identity returns the persisted identity for name, creating one when the
// workspace has none or was last used under a different name.
func (w *Workspace) Identity(name string, now time.Time) (*Identity, error) {
	id, err := w.LoadIdentity()
	switch {
	case err == nil && id.Name == name:
		return id, nil
	case err == nil:
		slog.Warn("peer name changed, new identity", "old", id.Name, "new", name)
	case !errors.Is(err, ErrNoIdentity):
		slog.Warn("peer identity unreadable, new identity", "error", err)
	}

	id = &Identity{
		PeerID:    NewPeerID(name, now),
		Name:      name,
		CreatedAt: now.UTC(),
	}
	if err := w.saveIdentity(id); err != nil {
		return nil, err
	}
	slog.Info("peer identity created", "peerId", id.PeerID)
	return id, nil
}

func (w *Workspace) saveIdentity(id *Identity) error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}

	tmp := w.identityPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return os.Rename(tmp, w.identityPath())
}

// NewPeerID derives a peer id from the display name and a creation time,
// e.g. "alice_20250101_120000".
func NewPeerID(name string, t time.Time) string {
	return name + "_" + t.Format(peerIDTimeLayout)
}
