package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("- [ ][ ][ ] task\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestIsTodoFileCaseInsensitive(t *testing.T) {
	assert.True(t, isTodoFile("todo.md"))
	assert.True(t, isTodoFile("TODO.MD"))
	assert.True(t, isTodoFile("ToDo.Md"))
	assert.False(t, isTodoFile("notes.md"))
}

func TestDiscoverPrunesExcludedDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "todo.md"), time.Now())
	touch(t, filepath.Join(root, "sub", "todo.md"), time.Now())
	touch(t, filepath.Join(root, "vendor", "todo.md"), time.Now())

	w := New([]string{root}, time.Hour)
	got := w.Discover(map[string]bool{"vendor": true})

	require.Len(t, got, 2)
	assert.Equal(t, filepath.Join(root, "sub", "todo.md"), got[0])
	assert.Equal(t, filepath.Join(root, "todo.md"), got[1])
}

func TestTickSkipsBaselineThenReportsChange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "todo.md")
	base := time.Now().Add(-time.Hour)
	touch(t, path, base)

	w := New([]string{root}, time.Hour)

	var events []Event
	record := func(e Event) { events = append(events, e) }

	w.tick(nil, record) // baseline poll establishes mtime, must not fire
	assert.Empty(t, events)

	touch(t, path, base.Add(time.Minute))
	w.tick(nil, record)
	require.Len(t, events, 1)
	assert.Equal(t, path, events[0].Path)
}

func TestTickSwallowsOwnWriteWithinIgnoreWindow(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "todo.md")
	base := time.Now().Add(-time.Hour)
	touch(t, path, base)

	w := New([]string{root}, time.Hour)

	var events []Event
	record := func(e Event) { events = append(events, e) }

	w.tick(nil, record) // baseline

	// Mirrors the real call order: the engine writes the file first,
	// then records the write-ignore entry against the mtime that write
	// produced (spec §3 "Write-Ignore Entry").
	touch(t, path, base.Add(time.Minute))
	w.IgnoreNextWrite(path)
	w.tick(nil, record)
	assert.Empty(t, events, "the engine's own write must not be reported")

	// simulate the ignore TTL having elapsed without ever being matched
	w.mu.Lock()
	w.ignored[filepath.Clean(path)] = ignoreEntry{until: time.Now().Add(-time.Second)}
	w.mu.Unlock()

	touch(t, path, base.Add(2*time.Minute))
	w.tick(nil, record)
	require.Len(t, events, 1, "an edit after the ignore window expires must be reported")
}

// TestTickConsumesIgnoreEntryOnMatch is spec §8 scenario 5: once the
// watcher matches the engine's own write, the entry is discarded
// immediately rather than swallowing every further change until the
// TTL lapses, so a human edit landing moments later (well within the
// same TTL window) still fires exactly one event.
func TestTickConsumesIgnoreEntryOnMatch(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "todo.md")
	base := time.Now().Add(-time.Hour)
	touch(t, path, base)

	w := New([]string{root}, time.Hour) // IgnoreTTL is DefaultIgnoreTTL (5s): the entry would still be active if not consumed

	var events []Event
	record := func(e Event) { events = append(events, e) }

	w.tick(nil, record) // baseline

	touch(t, path, base.Add(time.Minute))
	w.IgnoreNextWrite(path)
	w.tick(nil, record)
	require.Empty(t, events, "the engine's own write must not be reported")

	w.mu.Lock()
	_, stillPresent := w.ignored[filepath.Clean(path)]
	w.mu.Unlock()
	assert.False(t, stillPresent, "a matched write-ignore entry must be consumed, not held for the full TTL")

	touch(t, path, base.Add(2*time.Minute))
	w.tick(nil, record)
	require.Len(t, events, 1, "a human edit shortly after the engine's own write must still be reported")
}

func TestDiscoverIsSortedAcrossRoots(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	touch(t, filepath.Join(rootA, "todo.md"), time.Now())
	touch(t, filepath.Join(rootB, "todo.md"), time.Now())

	w := New([]string{rootA, rootB}, time.Hour)
	got := w.Discover(nil)
	require.Len(t, got, 2)
	assert.True(t, got[0] < got[1] || got[0] == got[1])
}
