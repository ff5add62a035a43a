package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "relative path", input: "./test", wantError: false},
		{name: "absolute path", input: "/tmp/test", wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "a/b.txt", NormalizePath("./a/b.txt"))
	assert.Equal(t, "a/b.txt", NormalizePath("/a//b.txt"))
	assert.Equal(t, "a/b.txt", NormalizePath(`a\b.txt`))
	assert.Equal(t, "b.txt", NormalizePath("a/../b.txt"))
}

func TestRelPath(t *testing.T) {
	root := t.TempDir()

	rel, err := RelPath(root, filepath.Join(root, "docs", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "docs/notes.txt", rel)

	_, err = RelPath(root, filepath.Dir(root))
	assert.ErrorIs(t, err, ErrPathOutsideRoot)
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	p, err := SafeJoin(root, "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs", "notes.txt"), p)

	for _, bad := range []string{"", "../etc/passwd", "a/../../b", "/etc/passwd", `..\x`, "."} {
		_, err := SafeJoin(root, bad)
		assert.ErrorIs(t, err, ErrPathOutsideRoot, "input %q", bad)
	}
}

func TestRemoveEmptyParents(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a", "b", "c.txt")
	require.NoError(t, EnsureParent(file))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.NoError(t, os.Remove(file))

	RemoveEmptyParents(root, file)

	assert.NoDirExists(t, filepath.Join(root, "a"))
	assert.DirExists(t, root)
}
