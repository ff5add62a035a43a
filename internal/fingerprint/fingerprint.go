// Package fingerprint computes content identity and stat metadata for paths
// inside a sync root.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

// ChunkSize bounds the memory used while hashing, whatever the file size.
const ChunkSize = 64 * 1024

var ErrNotFound = errors.New("fingerprint: not found")

// Fingerprint returns the FileRecord for abs, which must live under root.
// Any I/O failure (missing file, permission, file vanishing mid read) is
// reported as ErrNotFound.
func Fingerprint(root, abs string) (*syncmsg.FileRecord, error) {
	rel, err := utils.RelPath(root, abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	rec := &syncmsg.FileRecord{
		Path:         rel,
		ModifiedTime: info.ModTime().UTC(),
		IsDirectory:  info.IsDir(),
	}
	if info.IsDir() {
		return rec, nil
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, rel)
	}

	checksum, size, err := HashFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	rec.Checksum = checksum
	rec.Size = size
	return rec, nil
}

// FingerprintRel is Fingerprint for a root-relative path.
func FingerprintRel(root, rel string) (*syncmsg.FileRecord, error) {
	return Fingerprint(root, filepath.Join(root, filepath.FromSlash(rel)))
}

func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader streams r through SHA-256 in ChunkSize pieces.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Hasher wraps a writer and fingerprints everything written through it.
type Hasher struct {
	w    io.Writer
	h    hashWriter
	size int64
}

type hashWriter interface {
	io.Writer
	Sum([]byte) []byte
}

func NewHasher(w io.Writer) *Hasher {
	return &Hasher{w: w, h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	h.h.Write(p[:n])
	h.size += int64(n)
	return n, err
}

func (h *Hasher) Checksum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

func (h *Hasher) Size() int64 {
	return h.size
}
