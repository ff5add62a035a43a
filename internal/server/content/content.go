// Package content stores file bodies for the coordinator, keyed by their
// normalized sync path.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openmined/peersync/internal/fingerprint"
)

// ReservedPrefix holds the coordinator's own bookkeeping and is never a valid key.
const ReservedPrefix = ".peersync"

var (
	ErrNotFound   = errors.New("content not found")
	ErrInvalidKey = errors.New("invalid key")
	ErrTooLarge   = errors.New("content exceeds size limit")
)

// Backend abstracts where file bodies live.
type Backend interface {
	// Put stores the body under key and returns its fingerprint.
	Put(ctx context.Context, params *PutParams) (*PutResult, error)

	// Get opens the body of key. Bodies that also implement io.ReadSeeker
	// support ranged reads.
	Get(ctx context.Context, key string) (*Object, error)

	// Delete removes key and anything stored beneath it. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)
}

type PutParams struct {
	Key     string
	Body    io.Reader
	ModTime time.Time
	MaxSize int64 // 0 disables the limit
}

type PutResult struct {
	Key      string
	Checksum string
	Size     int64
}

type Object struct {
	Body    io.ReadCloser
	Size    int64
	ModTime time.Time
}

// ValidateKey accepts normalized, relative, utf-8 keys outside the reserved prefix.
func ValidateKey(key string) error {
	switch {
	case key == "" || len(key) > 1024:
		return fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: not utf-8", ErrInvalidKey)
	case strings.HasPrefix(key, "/") || strings.Contains(key, "\\"):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if key == ReservedPrefix || strings.HasPrefix(key, ReservedPrefix+"/") {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKey, key)
	}
	return nil
}

// copyHashed copies src into dst, fingerprinting on the way and enforcing maxSize.
func copyHashed(dst io.Writer, src io.Reader, maxSize int64) (string, int64, error) {
	hasher := fingerprint.NewHasher(dst)
	if maxSize > 0 {
		src = io.LimitReader(src, maxSize+1)
	}

	buf := make([]byte, fingerprint.ChunkSize)
	if _, err := io.CopyBuffer(hasher, src, buf); err != nil {
		return "", hasher.Size(), err
	}
	if maxSize > 0 && hasher.Size() > maxSize {
		return "", hasher.Size(), fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return hasher.Checksum(), hasher.Size(), nil
}
