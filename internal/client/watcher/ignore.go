package watcher

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/peersync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the sync root on Load.
const IgnoreFileName = ".syncignore"

// MetadataDir holds the peer's own state inside the sync root.
const MetadataDir = ".peersync"

var defaultIgnoreGlobs = []string{
	".git",
	"__pycache__",
	"*.tmp",
	MetadataDir,
}

// IgnoreList decides which root-relative paths are invisible to sync.
// Globs match any path component as well as the whole path; lines from the
// ignore file follow gitignore rules.
type IgnoreList struct {
	root  string
	globs []string

	mu     sync.RWMutex
	ignore *gitignore.GitIgnore
}

func NewIgnoreList(root string, extraGlobs ...string) *IgnoreList {
	globs := make([]string, 0, len(defaultIgnoreGlobs)+len(extraGlobs))
	globs = append(globs, defaultIgnoreGlobs...)
	for _, g := range extraGlobs {
		if g = strings.TrimSpace(g); g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			slog.Warn("ignore pattern invalid, skipping", "pattern", g)
			continue
		}
		globs = append(globs, g)
	}
	return &IgnoreList{root: root, globs: globs}
}

// Load (re)reads the ignore file. A missing file leaves only the globs.
func (l *IgnoreList) Load() {
	ignorePath := filepath.Join(l.root, IgnoreFileName)

	var lines []string
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("ignore file open", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				lines = append(lines, line)
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("ignore file read", "path", ignorePath, "error", err)
			} else {
				slog.Info("ignore file loaded", "path", ignorePath, "rules", len(lines))
			}
		}
	}

	var compiled *gitignore.GitIgnore
	if len(lines) > 0 {
		compiled = gitignore.CompileIgnoreLines(lines...)
	}

	l.mu.Lock()
	l.ignore = compiled
	l.mu.Unlock()
}

func (l *IgnoreList) ShouldIgnore(rel string) bool {
	rel = utils.NormalizePath(rel)
	if rel == "" || rel == "." {
		return false
	}

	parts := strings.Split(rel, "/")
	for _, pattern := range l.globs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		for _, part := range parts {
			if ok, _ := doublestar.Match(pattern, part); ok {
				return true
			}
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ignore != nil && l.ignore.MatchesPath(rel)
}
