// Package watcher implements the File Watcher (C3): a poll-based loop
// that rediscovers todo files under the configured roots and reports
// which ones changed since the last tick. Grounded on the teacher's
// pkg/config/layered/watcher.go, which also polls mtimes on an interval
// rather than relying on an OS-level notification API; reworked here
// around an explicit write-ignore window so the engine's own writes to
// a todo file never retrigger themselves.
package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is the default tick period, per spec §5 (1s).
const DefaultPollInterval = time.Second

// DefaultIgnoreTTL is how long a path stays in the write-ignore map
// after the engine records its own write, per spec §5 (>=5s).
const DefaultIgnoreTTL = 5 * time.Second

// TodoFileName is the bullet-list file every watched directory is
// scanned for, recursively, on every poll.
const TodoFileName = "todo.md"

// Event reports that path's content changed since the prior poll.
type Event struct {
	Path    string
	ModTime time.Time
}

// Watcher polls the configured roots for todo.md files and emits a
// TodoChanged event whenever a tracked file's mtime advances. RootsFn is
// called fresh on every tick rather than captured once, so a SET_ROOTS
// call that swaps the underlying roots.Set (spec §4.12) is picked up on
// the watcher's very next iteration instead of requiring a restart.
type Watcher struct {
	RootsFn      func() []string
	PollInterval time.Duration
	IgnoreTTL    time.Duration

	mu      sync.Mutex
	mtimes  map[string]time.Time
	ignored map[string]ignoreEntry
}

// ignoreEntry is the write-ignore map's value (spec §3 "Write-Ignore
// Entry"): the exact mtime the engine observed right after its own
// write, plus the TTL deadline past which the entry is discarded
// unmatched.
type ignoreEntry struct {
	mtime time.Time
	until time.Time
}

// New builds a Watcher over a fixed, static root list, with the given
// poll interval (DefaultPollInterval when zero). Use NewFunc instead
// when the roots can change at runtime.
func New(roots []string, pollInterval time.Duration) *Watcher {
	fixed := append([]string(nil), roots...)
	return NewFunc(func() []string { return fixed }, pollInterval)
}

// NewFunc builds a Watcher that re-resolves its root list by calling
// rootsFn on every tick (e.g. (*roots.Set).Roots), so it observes a
// SET_ROOTS change without needing to be rebuilt.
func NewFunc(rootsFn func() []string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{
		RootsFn:      rootsFn,
		PollInterval: pollInterval,
		IgnoreTTL:    DefaultIgnoreTTL,
		mtimes:       make(map[string]time.Time),
		ignored:      make(map[string]ignoreEntry),
	}
}

// IgnoreNextWrite records the mtime the engine observed immediately
// after its own write to path (spec §3 "Write-Ignore Entry"), so the
// next poll that sees that exact mtime is matched and discarded rather
// than reported as a TodoChanged event. The entry is consumed on match,
// not held for the whole TTL: a later edit that lands a different mtime
// within the same window still fires normally (spec §8 scenario 5). The
// engine calls this immediately after it rewrites a todo file.
func (w *Watcher) IgnoreNextWrite(path string) {
	clean := filepath.Clean(path)
	mtime, err := statModTime(clean)

	w.mu.Lock()
	defer w.mu.Unlock()
	entry := ignoreEntry{until: time.Now().Add(w.IgnoreTTL)}
	if err == nil {
		entry.mtime = mtime
	}
	w.ignored[clean] = entry
}

// Discover returns every todo.md file found recursively under the
// roots, in lexicographic order, honoring exclude as a set of
// directory basenames to prune.
func (w *Watcher) Discover(exclude map[string]bool) []string {
	var found []string
	for _, root := range w.RootsFn() {
		found = append(found, discoverIn(root, exclude)...)
	}
	sort.Strings(found)
	return found
}

func discoverIn(root string, exclude map[string]bool) []string {
	var out []string
	walk(root, exclude, &out)
	return out
}

// Run polls until ctx is cancelled, invoking onChange for every todo
// file whose mtime has advanced since the previous tick, except when the
// new mtime equals a pending write-ignore entry for that file (the entry
// is then consumed and no event fires). exclude is consulted
// on every tick so directories added later are also pruned.
func (w *Watcher) Run(ctx context.Context, exclude map[string]bool, onChange func(Event)) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(exclude, onChange)
		}
	}
}

func (w *Watcher) tick(exclude map[string]bool, onChange func(Event)) {
	paths := w.Discover(exclude)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		seen[p] = true
		info, err := statModTime(p)
		if err != nil {
			continue
		}
		prev, known := w.mtimes[p]
		w.mtimes[p] = info
		if !info.After(prev) && known {
			continue
		}
		if !known {
			continue
		}
		if entry, ignored := w.ignored[p]; ignored {
			if info.Equal(entry.mtime) {
				delete(w.ignored, p)
				continue
			}
			if now.After(entry.until) {
				delete(w.ignored, p)
			}
		}
		onChange(Event{Path: p, ModTime: info})
	}
	for p := range w.mtimes {
		if !seen[p] {
			delete(w.mtimes, p)
		}
	}
	for p, entry := range w.ignored {
		if now.After(entry.until) {
			delete(w.ignored, p)
		}
	}
}

func isTodoFile(name string) bool {
	return strings.EqualFold(name, TodoFileName)
}
