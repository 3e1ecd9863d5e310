package diffbackup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffIdenticalTextReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", Diff("file.txt", "same\ntext", "same\ntext"))
}

func TestDiffProducesUnifiedHunk(t *testing.T) {
	diff := Diff("file.txt", "a\nb\nc", "a\nB\nc")

	assert.Contains(t, diff, "--- file.txt\n")
	assert.Contains(t, diff, "+++ file.txt\n")
	assert.Contains(t, diff, "@@ -1,3 +1,3 @@\n")
	assert.Contains(t, diff, " a\n")
	assert.Contains(t, diff, "-b\n")
	assert.Contains(t, diff, "+B\n")
	assert.Contains(t, diff, " c\n")
}

func TestNewRunUsesOneTimestampForEveryFile(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	run := NewRun("/backups", ts)

	assert.Equal(t, "20260304-050607", run.Timestamp)
	assert.Equal(t, filepath.Join("/backups", "20260304-050607", "pkg/a.go"), run.BackupPath("pkg/a.go"))
	assert.Equal(t, filepath.Join("/backups", "20260304-050607", "pkg/a.go")+".diff", run.DiffPath("pkg/a.go"))
}

func TestBackupWritesSidecarDiffEvenWhenEmpty(t *testing.T) {
	root := t.TempDir()
	run := NewRun(root, time.Now())

	require.NoError(t, run.Backup("same.txt", "identical", "identical", true))

	diffContent, err := os.ReadFile(run.DiffPath("same.txt"))
	require.NoError(t, err)
	assert.Empty(t, string(diffContent))

	backupContent, err := os.ReadFile(run.BackupPath("same.txt"))
	require.NoError(t, err)
	assert.Equal(t, "identical", string(backupContent))
}

func TestBackupSkipsBackupFileForNewFile(t *testing.T) {
	root := t.TempDir()
	run := NewRun(root, time.Now())

	require.NoError(t, run.Backup("new.txt", "", "brand new content", false))

	_, err := os.Stat(run.BackupPath("new.txt"))
	assert.True(t, os.IsNotExist(err), "a file that didn't exist before must not get a backup copy")

	diffContent, err := os.ReadFile(run.DiffPath("new.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(diffContent), "+brand new content")
}
