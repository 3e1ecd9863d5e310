package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlewood/taskloom/pkg/config"
	"github.com/brindlewood/taskloom/pkg/filestore"
	"github.com/brindlewood/taskloom/pkg/include"
	"github.com/brindlewood/taskloom/pkg/llmclient"
	"github.com/brindlewood/taskloom/pkg/logging"
	"github.com/brindlewood/taskloom/pkg/roots"
	"github.com/brindlewood/taskloom/pkg/todo"
)

// fakeChat returns a fixed reply (or an error) regardless of the prompt,
// standing in for a real ChatClient in these engine-level tests.
type fakeChat struct {
	reply string
	err   error
	calls int
}

func (f *fakeChat) Chat(ctx context.Context, messages []llmclient.Message, params llmclient.Params, onChunk llmclient.ChunkFunc) (string, error) {
	f.calls++
	return f.reply, f.err
}

// sequencedChat returns a different reply on each successive call,
// standing in for an LLM that fails once and then succeeds on retry.
type sequencedChat struct {
	replies []string
	calls   int
}

func (f *sequencedChat) Chat(ctx context.Context, messages []llmclient.Message, params llmclient.Params, onChunk llmclient.ChunkFunc) (string, error) {
	idx := f.calls
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	f.calls++
	return f.replies[idx], nil
}

type noopIgnorer struct{}

func (noopIgnorer) IgnoreNextWrite(string) {}

func newTestEngine(t *testing.T, root string, chat *fakeChat) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Roots = []string{root}
	cfg.RetryAttempts = 1
	cfg.RetryDelayS = 0

	rs, err := roots.NewSet(cfg.Roots)
	require.NoError(t, err)
	store := filestore.New()
	includer := &include.Resolver{Roots: rs, Store: store, Exclusions: cfg.ExcludeDirs, TokenBudget: cfg.TokenBudget}

	return New(cfg, rs, store, includer, chat, logging.Nop(), noopIgnorer{})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// Spec §8 scenario 1: happy path, new file.
func TestRunNextHappyPathNewFile(t *testing.T) {
	root := t.TempDir()
	todoPath := filepath.Join(root, "todo.md")
	writeFile(t, todoPath, "- [ ][ ][ ] Create greeting\n  out: hello.txt\n")

	chat := &fakeChat{reply: "# file: hello.txt\nHello, world!\n"}
	e := newTestEngine(t, root, chat)
	cfg := e.Config
	cfg.BackupRoot = filepath.Join(root, ".taskloom", "backups")

	result, err := e.RunNext(context.Background(), todoPath)
	require.NoError(t, err)
	require.False(t, result.NoPending)

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!\n", string(data))

	rewritten, err := os.ReadFile(todoPath)
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), "[x][x][ ]")
	assert.Contains(t, string(rewritten), "completed:")

	entries, err := os.ReadDir(cfg.BackupRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runDir := filepath.Join(cfg.BackupRoot, entries[0].Name())
	diffData, err := os.ReadFile(filepath.Join(runDir, "hello.txt.diff"))
	require.NoError(t, err)
	assert.Empty(t, string(diffData), "a brand-new file has no prior version, so its diff sidecar is empty")
}

// Spec §8 scenario 2: ambiguous bare name leaves the task fatally failed
// and writes nothing.
func TestRunNextAmbiguousFocusFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "x.py"), "a\n")
	writeFile(t, filepath.Join(root, "b", "x.py"), "b\n")
	todoPath := filepath.Join(root, "todo.md")
	writeFile(t, todoPath, "- [ ][ ][ ] Fix x\n  out: x.py\n")

	chat := &fakeChat{reply: "# file: x.py\nfixed\n"}
	e := newTestEngine(t, root, chat)

	_, err := e.RunNext(context.Background(), todoPath)
	require.NoError(t, err)

	assert.Equal(t, "a\n", readBack(t, filepath.Join(root, "a", "x.py")))
	assert.Equal(t, "b\n", readBack(t, filepath.Join(root, "b", "x.py")))

	rewritten := readBack(t, todoPath)
	assert.Contains(t, rewritten, "[!][ ][ ]")
	assert.Contains(t, rewritten, "error:")
}

// Spec §8 scenario 4: a partial rewrite whose context doesn't match
// anywhere well enough aborts without writing the target file.
func TestRunNextLowSimilarityAbortsWithoutWriting(t *testing.T) {
	root := t.TempDir()
	original := strings.Repeat("line\n", 50)
	writeFile(t, filepath.Join(root, "mod.py"), original)
	todoPath := filepath.Join(root, "todo.md")
	writeFile(t, todoPath, "- [ ][ ][ ] Tweak mod\n  out: mod.py\n")

	reply := "# file: mod.py\n# partial: true\ncompletely unrelated replacement content\nthat matches nothing in the original\n"
	chat := &fakeChat{reply: reply}
	e := newTestEngine(t, root, chat)

	_, err := e.RunNext(context.Background(), todoPath)
	require.NoError(t, err)

	assert.Equal(t, original, readBack(t, filepath.Join(root, "mod.py")))
	rewritten := readBack(t, todoPath)
	assert.Contains(t, rewritten, "[!][ ][ ]")
	assert.Contains(t, rewritten, "LowSimilarity")
}

// Spec §4.11: a first-occurrence LowSimilarity from Smart Merge (step 6)
// retries the whole call-LLM-through-apply-edits sequence, not just the
// bare chat call, so a second attempt that produces a clean rewrite
// still succeeds.
func TestRunNextRetriesWholeSequenceAfterLowSimilarity(t *testing.T) {
	root := t.TempDir()
	original := strings.Repeat("line\n", 50)
	writeFile(t, filepath.Join(root, "mod.py"), original)
	todoPath := filepath.Join(root, "todo.md")
	writeFile(t, todoPath, "- [ ][ ][ ] Tweak mod\n  out: mod.py\n")

	badReply := "# file: mod.py\n# partial: true\ncompletely unrelated replacement content\nthat matches nothing in the original\n"
	goodReply := "# file: mod.py\nreplaced in full on retry\n"
	chat := &sequencedChat{replies: []string{badReply, goodReply}}

	cfg := config.Default()
	cfg.Roots = []string{root}
	cfg.RetryAttempts = 2
	cfg.RetryDelayS = 0

	rs, err := roots.NewSet(cfg.Roots)
	require.NoError(t, err)
	store := filestore.New()
	includer := &include.Resolver{Roots: rs, Store: store, Exclusions: cfg.ExcludeDirs, TokenBudget: cfg.TokenBudget}
	e := New(cfg, rs, store, includer, chat, logging.Nop(), noopIgnorer{})

	result, err := e.RunNext(context.Background(), todoPath)
	require.NoError(t, err)
	assert.Equal(t, 2, chat.calls, "a LowSimilarity failure must re-enter the LLM call, not just bail out")
	assert.Equal(t, todo.OutcomeDone, result.Outcome)
	assert.Equal(t, "replaced in full on retry\n", readBack(t, filepath.Join(root, "mod.py")))
}

// Spec §4.11 step 5: zero parsed records from the LLM is a fatal,
// non-retryable EmptyOutput outcome.
func TestRunNextEmptyOutputFails(t *testing.T) {
	root := t.TempDir()
	todoPath := filepath.Join(root, "todo.md")
	writeFile(t, todoPath, "- [ ][ ][ ] Do nothing useful\n")

	chat := &fakeChat{reply: "   \n"}
	e := newTestEngine(t, root, chat)
	e.Config.RetryAttempts = 3 // room to retry, so a single call shows EmptyOutput is not retried

	_, err := e.RunNext(context.Background(), todoPath)
	require.NoError(t, err)
	assert.Equal(t, 1, chat.calls, "EmptyOutput is non-retryable")

	rewritten := readBack(t, todoPath)
	assert.Contains(t, rewritten, "[!][ ][ ]")
	assert.Contains(t, rewritten, "EmptyOutput")
}

// Idempotence (spec §8 invariants): no pending task leaves every file
// byte-identical.
func TestRunNextNoPendingLeavesFilesUntouched(t *testing.T) {
	root := t.TempDir()
	todoPath := filepath.Join(root, "todo.md")
	content := "- [x][x][x] Already done\n  - completed: 2026-01-01T00:00:00\n"
	writeFile(t, todoPath, content)

	chat := &fakeChat{reply: "# file: never.txt\nnope\n"}
	e := newTestEngine(t, root, chat)

	result, err := e.RunNext(context.Background(), todoPath)
	require.NoError(t, err)
	assert.True(t, result.NoPending)
	assert.Equal(t, 0, chat.calls)
	assert.Equal(t, content, readBack(t, todoPath))
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
