package include

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/brindlewood/taskloom/pkg/filestore"
	"github.com/brindlewood/taskloom/pkg/roots"
	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// bytesPerToken is the spec-standardized cheap upper-bound token
// estimator (spec §4.4 / DESIGN NOTES item on token counting).
const bytesPerToken = 4

// Resolver expands include specs into knowledge blobs.
type Resolver struct {
	Roots       *roots.Set
	Store       *filestore.Store
	Exclusions  []string
	Ignore      *ignore.GitIgnore
	TokenBudget int
}

// Blob is the assembled, prompt-ready knowledge text plus its metrics.
type Blob struct {
	Text          string
	Files         []string // paths actually included, in blob order
	ByteCount     int
	TokenEstimate int
	Dropped       []string // paths dropped to respect TokenBudget, in drop order
}

// Expand turns spec into a deterministic, deduplicated, ordered list of
// absolute file paths under the resolver's roots.
func (r *Resolver) Expand(spec Spec, baseDir string) ([]string, error) {
	switch spec.Kind {
	case KindAll:
		return r.expandAll()
	case KindFile:
		return r.expandFile(spec.File, baseDir)
	case KindPattern:
		return r.expandPatterns(spec.Patterns, spec.Recursive, r.Roots.Roots())
	case KindDir:
		return r.expandDir(spec, baseDir)
	default:
		return nil, taskerr.New(taskerr.ParseError, "unknown include spec kind")
	}
}

func (r *Resolver) excludeSet() map[string]bool {
	m := make(map[string]bool, len(r.Exclusions))
	for _, e := range r.Exclusions {
		m[e] = true
	}
	return m
}

func (r *Resolver) expandAll() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, root := range r.Roots.Roots() {
		paths, err := r.Store.List(root, true, r.Exclusions, r.Ignore)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (r *Resolver) expandFile(nameOrGlob, baseDir string) ([]string, error) {
	if strings.ContainsAny(nameOrGlob, "*?[") {
		return r.globAcrossRoots([]string{nameOrGlob}, false)
	}
	resolved, err := r.Roots.Resolve(nameOrGlob, baseDir)
	if err != nil {
		return nil, err
	}
	if resolved.NewFile {
		return nil, taskerr.New(taskerr.NotFound, "include file not found: "+nameOrGlob)
	}
	return []string{resolved.Resolved}, nil
}

func (r *Resolver) expandPatterns(globs []string, recursive bool, searchRoots []string) ([]string, error) {
	return r.globAcrossRootsIn(globs, recursive, searchRoots)
}

func (r *Resolver) expandDir(spec Spec, baseDir string) ([]string, error) {
	resolvedDir, err := r.resolveDir(spec.Dir, baseDir)
	if err != nil {
		return nil, err
	}
	pattern := "*"
	if len(spec.Patterns) > 0 && spec.Patterns[0] != "" {
		pattern = spec.Patterns[0]
	}
	return r.globAcrossRootsIn([]string{pattern}, spec.Recursive, []string{resolvedDir})
}

// resolveDir resolves a dir= reference to an existing directory under the
// roots. Unlike Roots.Resolve (which is file-oriented: its bare-name search
// skips directories), this matches directories for all three path shapes:
// absolute-under-root, relative-joined-to-baseDir, and bare-name fuzzy
// search across the roots.
func (r *Resolver) resolveDir(name, baseDir string) (string, error) {
	if name == "" {
		return "", taskerr.New(taskerr.NotFound, "empty include dir")
	}

	statDir := func(abs string) (string, error) {
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return "", taskerr.New(taskerr.NotFound, "include dir not found: "+name)
		}
		return abs, nil
	}

	if filepath.IsAbs(name) {
		abs := filepath.Clean(name)
		if !r.Roots.WithinRoots(abs) {
			return "", taskerr.New(taskerr.OutOfRoots, "path outside configured roots: "+name)
		}
		return statDir(abs)
	}

	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		base := baseDir
		if base == "" && len(r.Roots.Roots()) > 0 {
			base = r.Roots.Roots()[0]
		}
		abs := filepath.Clean(filepath.Join(base, name))
		if !r.Roots.WithinRoots(abs) {
			return "", taskerr.New(taskerr.OutOfRoots, "path outside configured roots: "+name)
		}
		return statDir(abs)
	}

	want := strings.ToLower(name)
	var matches []string
	seen := make(map[string]bool)
	for _, root := range r.Roots.Roots() {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() && strings.ToLower(d.Name()) == want {
				abs := filepath.Clean(path)
				if !seen[abs] {
					seen[abs] = true
					matches = append(matches, abs)
				}
			}
			return nil
		})
	}
	switch len(matches) {
	case 0:
		return "", taskerr.New(taskerr.NotFound, "include dir not found: "+name)
	case 1:
		return matches[0], nil
	default:
		return "", taskerr.New(taskerr.Ambiguous, "multiple directories match "+name)
	}
}

// globAcrossRoots is a convenience wrapper for non-dir-scoped globbing.
func (r *Resolver) globAcrossRoots(globs []string, recursive bool) ([]string, error) {
	return r.globAcrossRootsIn(globs, recursive, r.Roots.Roots())
}

// globAcrossRootsIn expands globs against the given search roots in
// spec order: "matches of first glob in lexicographic order, then
// matches of second glob, …", with later duplicates suppressed.
func (r *Resolver) globAcrossRootsIn(globs []string, recursive bool, searchRoots []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	excl := r.excludeSet()

	for _, g := range globs {
		var matches []string
		for _, root := range searchRoots {
			if recursive {
				found, err := r.walkMatch(root, g)
				if err != nil {
					return nil, err
				}
				matches = append(matches, found...)
			} else {
				found, err := filepath.Glob(filepath.Join(root, g))
				if err != nil {
					return nil, taskerr.Wrap(taskerr.ParseError, "bad glob "+g, err)
				}
				sort.Strings(found)
				matches = append(matches, found...)
			}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if excl[filepath.Base(filepath.Dir(m))] {
				continue
			}
			clean := filepath.Clean(m)
			if !seen[clean] {
				seen[clean] = true
				out = append(out, clean)
			}
		}
	}
	return out, nil
}

func (r *Resolver) walkMatch(root, glob string) ([]string, error) {
	excl := r.excludeSet()
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && excl[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if r.Ignore != nil {
			if rel, relErr := filepath.Rel(root, path); relErr == nil && r.Ignore.MatchesPath(rel) {
				return nil
			}
		}
		if ok, _ := filepath.Match(glob, d.Name()); ok {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, taskerr.Wrap(taskerr.IO, "walk "+root, err)
	}
	sort.Strings(out)
	return out, nil
}

// nearestRootRelative renders path relative to the nearest root it is
// under, for the "=== <path> ===" blob header.
func (r *Resolver) nearestRootRelative(path string) string {
	best := path
	bestLen := -1
	for _, root := range r.Roots.Roots() {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if len(root) > bestLen {
			bestLen = len(root)
			best = rel
		}
	}
	return filepath.ToSlash(best)
}

// Build reads every path in order through the Store and assembles the
// knowledge blob, dropping files from the tail when the token budget
// would be exceeded.
func (r *Resolver) Build(paths []string) (Blob, error) {
	type record struct {
		path string
		rel  string
		text string
	}
	records := make([]record, 0, len(paths))
	for _, p := range paths {
		text, err := r.Store.Read(p)
		if err != nil {
			if taskerr.KindOf(err) == taskerr.BinaryOrTooLarge {
				continue // silently skip binary/oversized files from context, per C2/C4 contract
			}
			return Blob{}, err
		}
		records = append(records, record{path: p, rel: r.nearestRootRelative(p), text: text})
	}

	budget := r.TokenBudget
	var dropped []string
	if budget > 0 {
		for {
			total := 0
			for _, rec := range records {
				total += (len(rec.text) + bytesPerToken - 1) / bytesPerToken
			}
			if total <= budget || len(records) == 0 {
				break
			}
			last := records[len(records)-1]
			dropped = append(dropped, last.path)
			records = records[:len(records)-1]
		}
	}

	var b strings.Builder
	var included []string
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n", rec.rel)
		b.WriteString(rec.text)
		included = append(included, rec.path)
	}

	text := b.String()
	return Blob{
		Text:          text,
		Files:         included,
		ByteCount:     len(text),
		TokenEstimate: (len(text) + bytesPerToken - 1) / bytesPerToken,
		Dropped:       dropped,
	}, nil
}
