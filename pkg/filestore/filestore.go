// Package filestore implements the File Store (C2): safe, size- and
// binary-guarded reads, atomic writes via a sibling temp file plus
// rename, and exclusion-aware recursive listing. Grounded on the
// teacher's pkg/filesystem (SaveFile/ReadFile/SafeResolvePath) but
// reworked around an explicit root set instead of the process cwd.
package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// DefaultMaxBytes is the size cap beyond which Read refuses a file, per
// spec §4.2 (suggested 2 MiB).
const DefaultMaxBytes = 2 << 20

// sniffWindow is how much of the file head is inspected for a NUL byte
// when deciding if a file is binary, per spec §4.2 (first 8 KiB).
const sniffWindow = 8 << 10

// Store performs guarded filesystem I/O.
type Store struct {
	MaxBytes int64
}

// New returns a Store with the default size cap.
func New() *Store {
	return &Store{MaxBytes: DefaultMaxBytes}
}

// Read returns the text content of path, rejecting binary or oversized
// files.
func (s *Store) Read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", taskerr.Wrap(taskerr.NotFound, "stat "+path, err)
	}
	max := s.MaxBytes
	if max == 0 {
		max = DefaultMaxBytes
	}
	if info.Size() > max {
		return "", taskerr.New(taskerr.BinaryOrTooLarge, fmt.Sprintf("%s exceeds %d bytes", path, max))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", taskerr.Wrap(taskerr.IO, "open "+path, err)
	}
	defer f.Close()

	head := make([]byte, sniffWindow)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return "", taskerr.New(taskerr.BinaryOrTooLarge, path+" looks binary")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", taskerr.Wrap(taskerr.IO, "read "+path, err)
	}
	return string(data), nil
}

// Write atomically replaces path's content: write to a sibling temp file,
// fsync, then rename over the destination.
func (s *Store) Write(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return taskerr.Wrap(taskerr.IO, "mkdir "+dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tl-tmp-*")
	if err != nil {
		return taskerr.Wrap(taskerr.IO, "create temp in "+dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return taskerr.Wrap(taskerr.IO, "write temp "+tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return taskerr.Wrap(taskerr.IO, "sync temp "+tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return taskerr.Wrap(taskerr.IO, "close temp "+tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return taskerr.Wrap(taskerr.IO, "rename into "+path, err)
	}
	return nil
}

// Append appends content to path, creating it (and its parent dirs) if
// necessary. Not required to be crash-atomic by spec; a plain append is
// sufficient since it is not part of the write/rename discipline that
// protects the todo file and edited sources.
func (s *Store) Append(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return taskerr.Wrap(taskerr.IO, "mkdir "+dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return taskerr.Wrap(taskerr.IO, "open for append "+path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return taskerr.Wrap(taskerr.IO, "append "+path, err)
	}
	return nil
}

// Rename moves oldPath to newPath, creating newPath's parent directory.
func (s *Store) Rename(oldPath, newPath string) error {
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return taskerr.Wrap(taskerr.IO, "mkdir "+filepath.Dir(newPath), err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return taskerr.Wrap(taskerr.IO, fmt.Sprintf("rename %s -> %s", oldPath, newPath), err)
	}
	return nil
}

// Delete removes path.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return taskerr.Wrap(taskerr.IO, "delete "+path, err)
	}
	return nil
}

// Checksum returns the SHA-256 hex digest of path's content.
func (s *Store) Checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", taskerr.Wrap(taskerr.IO, "checksum read "+path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// List walks root, skipping any directory whose basename appears in
// exclusions (as literal names) or matches a gitignore-style pattern in
// patterns, returning absolute file paths.
func (s *Store) List(root string, recursive bool, exclusions []string, patterns *ignore.GitIgnore) ([]string, error) {
	excl := make(map[string]bool, len(exclusions))
	for _, e := range exclusions {
		excl[e] = true
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if path != root && d.IsDir() {
			if excl[d.Name()] || (patterns != nil && patterns.MatchesPath(rel)) {
				return filepath.SkipDir
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if patterns != nil && patterns.MatchesPath(rel) {
				return nil
			}
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, taskerr.Wrap(taskerr.IO, "list "+root, err)
	}
	return out, nil
}
