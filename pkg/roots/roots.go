// Package roots implements the Path Resolver (C1): normalizing,
// root-confining, and fuzzy-resolving paths against a configured root
// set, grounded on the teacher's SafeResolvePath family in
// pkg/filesystem/filesystem.go but generalized to a list of roots
// instead of a single working directory.
package roots

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// Set is an ordered list of absolute directory paths bounding every file
// operation. Roots can be replaced at runtime by SET_ROOTS (spec §4.12),
// so every access goes through a lock (spec §5: "roots only mutated by
// SET_ROOTS through the dispatcher (under a lock that also blocks the
// watcher's next iteration)").
type Set struct {
	mu    sync.RWMutex
	roots []string
}

// canonicalize resolves each supplied directory into a cleaned absolute
// path, shared by NewSet and Replace.
func canonicalize(dirs []string) ([]string, error) {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.IO, "resolve root "+d, err)
		}
		out = append(out, filepath.Clean(abs))
	}
	return out, nil
}

// NewSet canonicalizes each supplied directory into an absolute path.
func NewSet(dirs []string) (*Set, error) {
	out, err := canonicalize(dirs)
	if err != nil {
		return nil, err
	}
	return &Set{roots: out}, nil
}

// Replace atomically swaps the root list for dirs, canonicalized the
// same way NewSet does. Every other Set method takes the same lock, so
// a caller holding a *Set (the engine, the include resolver, the
// watcher) observes the new roots on its very next access.
func (s *Set) Replace(dirs []string) error {
	out, err := canonicalize(dirs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.roots = out
	s.mu.Unlock()
	return nil
}

// Roots returns the ordered list of absolute root directories.
func (s *Set) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roots...)
}

// Resolved is the outcome of resolving a raw path reference.
type Resolved struct {
	Raw      string
	Resolved string // absolute, canonical path; for a bare new-file name with no roots configured, the bare name itself
	NewFile  bool   // true when raw did not match any existing file
}

// WithinRoots reports whether the given absolute path lies under any
// configured root.
func (s *Set) WithinRoots(absPath string) bool {
	for _, r := range s.Roots() {
		if isUnder(r, absPath) {
			return true
		}
	}
	return false
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// Resolve implements spec §3 "Path" resolution: (a) absolute-under-root,
// (b) relative-with-separator joined against baseDir, (c) bare filename
// fuzzy search across all roots. baseDir is used only for case (b) and
// for placement of a resulting "new file" sentinel.
func (s *Set) Resolve(raw, baseDir string) (Resolved, error) {
	if raw == "" {
		return Resolved{}, taskerr.New(taskerr.NotFound, "empty path")
	}

	// (a) absolute and under a root.
	if filepath.IsAbs(raw) {
		abs := filepath.Clean(raw)
		if s.WithinRoots(abs) {
			if fileExists(abs) {
				return Resolved{Raw: raw, Resolved: abs}, nil
			}
			return Resolved{Raw: raw, Resolved: abs, NewFile: true}, nil
		}
		return Resolved{}, taskerr.New(taskerr.OutOfRoots, "path outside configured roots: "+raw)
	}

	// (b) relative with a directory separator: join against base dir.
	if strings.ContainsRune(raw, '/') || strings.ContainsRune(raw, filepath.Separator) {
		roots := s.Roots()
		base := baseDir
		if base == "" && len(roots) > 0 {
			base = roots[0]
		}
		abs := filepath.Clean(filepath.Join(base, raw))
		if !s.WithinRoots(abs) {
			return Resolved{}, taskerr.New(taskerr.OutOfRoots, "path outside configured roots: "+raw)
		}
		if fileExists(abs) {
			return Resolved{Raw: raw, Resolved: abs}, nil
		}
		return Resolved{Raw: raw, Resolved: abs, NewFile: true}, nil
	}

	// (c) bare filename: case-insensitive recursive search across all roots.
	matches := s.findByBasename(raw)
	switch len(matches) {
	case 0:
		placement := s.proposeNewFilePlacement(raw, baseDir)
		return Resolved{Raw: raw, Resolved: placement, NewFile: true}, nil
	case 1:
		return Resolved{Raw: raw, Resolved: matches[0]}, nil
	default:
		return Resolved{}, taskerr.New(taskerr.Ambiguous, "multiple files match "+raw)
	}
}

// proposeNewFilePlacement implements the resolved Open Question: a new
// file created via a bare name is placed under base_dir if base_dir is
// itself inside a root, else under the first root.
func (s *Set) proposeNewFilePlacement(name, baseDir string) string {
	if baseDir != "" {
		abs, err := filepath.Abs(baseDir)
		if err == nil && s.WithinRoots(filepath.Clean(abs)) {
			return filepath.Join(abs, name)
		}
	}
	roots := s.Roots()
	if len(roots) == 0 {
		return name
	}
	return filepath.Join(roots[0], name)
}

func (s *Set) findByBasename(name string) []string {
	want := strings.ToLower(name)
	var matches []string
	seen := make(map[string]bool)
	for _, root := range s.Roots() {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if strings.ToLower(d.Name()) == want {
				abs := filepath.Clean(path)
				if !seen[abs] {
					seen[abs] = true
					matches = append(matches, abs)
				}
			}
			return nil
		})
	}
	return matches
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Enumerate walks root (optionally recursive), skipping directories whose
// basename appears in exclude, returning absolute file paths in
// lexicographic order.
func (s *Set) Enumerate(root string, recursive bool, exclude map[string]bool) ([]string, error) {
	var out []string
	if !s.WithinRoots(filepath.Clean(root)) {
		return nil, taskerr.New(taskerr.OutOfRoots, "enumerate root outside configured roots: "+root)
	}
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != root && d.IsDir() {
			if exclude[d.Name()] {
				return filepath.SkipDir
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			out = append(out, filepath.Clean(path))
		}
		return nil
	})
	if walkErr != nil {
		return nil, taskerr.Wrap(taskerr.IO, "enumerate "+root, walkErr)
	}
	return out, nil
}
