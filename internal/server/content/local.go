package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/peersync/internal/utils"
)

// LocalBackend keeps bodies as plain files under a root directory, so the
// coordinator's root is itself a browsable copy of the synced tree.
type LocalBackend struct {
	root   string
	tmpDir string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	tmpDir := filepath.Join(root, ReservedPrefix, "tmp")
	if err := utils.EnsureDir(tmpDir); err != nil {
		return nil, fmt.Errorf("content tmp dir: %w", err)
	}
	return &LocalBackend{root: root, tmpDir: tmpDir}, nil
}

func (b *LocalBackend) Root() string {
	return b.root
}

func (b *LocalBackend) Put(ctx context.Context, params *PutParams) (*PutResult, error) {
	dst, err := b.resolve(params.Key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(b.tmpDir, "upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	checksum, size, err := copyHashed(tmp, params.Body, params.MaxSize)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := utils.EnsureParent(dst); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, err
	}
	if !params.ModTime.IsZero() {
		if err := os.Chtimes(dst, params.ModTime, params.ModTime); err != nil {
			slog.Warn("content chtimes", "key", params.Key, "error", err)
		}
	}

	return &PutResult{Key: params.Key, Checksum: checksum, Size: size}, nil
}

func (b *LocalBackend) Get(_ context.Context, key string) (*Object, error) {
	p, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	} else if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, key)
	}

	return &Object{Body: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return err
	}
	utils.RemoveEmptyParents(b.root, p)
	return nil
}

func (b *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	return utils.FileExists(p), nil
}

func (b *LocalBackend) resolve(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return utils.SafeJoin(b.root, key)
}

var _ Backend = (*LocalBackend)(nil)
