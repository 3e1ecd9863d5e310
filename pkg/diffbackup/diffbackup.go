// Package diffbackup implements Diff & Backup (C10): a unified-diff
// renderer built on go-diff's line-level diffing primitive, and the
// timestamped backup-then-overwrite discipline every non-todo write
// follows. Grounded on the teacher's pkg/spec/change_integration.go
// changesToDiff (pure-Go unified-diff construction) and
// pkg/editor/threeway.go (diffmatchpatch usage); reworked to avoid the
// teacher's separate pkg/agent/diff.go, which shells out to Python.
package diffbackup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// ContextLines is the fixed amount of unchanged surrounding context a
// unified diff carries, per spec §4.10.
const ContextLines = 3

// TimestampLayout names one backup run's directory, per spec §6
// "Backup layout" (one timestamp per task, not per file).
const TimestampLayout = "20060102-150405"

// Diff renders a unified diff between old and new text. path is used
// only for the "---"/"+++" file headers.
func Diff(path, oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	dmp := diffmatchpatch.New()
	oldLines, newLines, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(oldLines, newLines, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	ops := mergeOps(diffs)
	return renderUnified(path, ops)
}

func splitKeepEmpty(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// mergeOps flattens the diffmatchpatch line-diff into one ordered
// operation stream carrying both the old- and new-file line numbers.
func mergeOps(diffs []diffmatchpatch.Diff) []hunkLine {
	var ops []hunkLine
	oldNo, newNo := 1, 1
	for _, d := range diffs {
		lines := splitKeepEmpty(d.Text)
		for _, l := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, hunkLine{kind: ' ', text: l, oldNo: oldNo, newNo: newNo})
				oldNo++
				newNo++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, hunkLine{kind: '-', text: l, oldNo: oldNo})
				oldNo++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, hunkLine{kind: '+', text: l, newNo: newNo})
				newNo++
			}
		}
	}
	return ops
}

type hunkLine struct {
	kind  byte
	text  string
	oldNo int
	newNo int
}

// renderUnified groups the flattened op stream into "@@" hunks with
// ContextLines of surrounding equal lines on each side.
func renderUnified(path string, ops []hunkLine) string {
	var changedIdx []int
	for i, op := range ops {
		if op.kind != ' ' {
			changedIdx = append(changedIdx, i)
		}
	}
	if len(changedIdx) == 0 {
		return ""
	}

	type span struct{ start, end int }
	var spans []span
	for _, i := range changedIdx {
		s, e := i-ContextLines, i+ContextLines+1
		if s < 0 {
			s = 0
		}
		if e > len(ops) {
			e = len(ops)
		}
		if len(spans) > 0 && s <= spans[len(spans)-1].end {
			if e > spans[len(spans)-1].end {
				spans[len(spans)-1].end = e
			}
			continue
		}
		spans = append(spans, span{s, e})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", path)
	fmt.Fprintf(&b, "+++ %s\n", path)
	for _, sp := range spans {
		oldStart, newStart := 0, 0
		oldCount, newCount := 0, 0
		for i := sp.start; i < sp.end; i++ {
			if ops[i].oldNo > 0 {
				if oldStart == 0 {
					oldStart = ops[i].oldNo
				}
				oldCount++
			}
			if ops[i].newNo > 0 {
				if newStart == 0 {
					newStart = ops[i].newNo
				}
				newCount++
			}
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		for i := sp.start; i < sp.end; i++ {
			b.WriteByte(ops[i].kind)
			b.WriteString(ops[i].text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Run represents one task's backup operation: every file touched during
// the run shares the same timestamp directory.
type Run struct {
	BackupRoot string
	Timestamp  string
}

// NewRun starts a backup run at t, per spec §6 (one timestamp per task).
func NewRun(backupRoot string, t time.Time) *Run {
	return &Run{BackupRoot: backupRoot, Timestamp: t.Format(TimestampLayout)}
}

// BackupPath returns the absolute backup path for a source file given
// its path relative to the root it lives under.
func (r *Run) BackupPath(relPath string) string {
	return filepath.Join(r.BackupRoot, r.Timestamp, relPath)
}

// DiffPath returns the sidecar diff path next to a backup entry.
func (r *Run) DiffPath(relPath string) string {
	return r.BackupPath(relPath) + ".diff"
}

// Backup copies oldContent to the run's backup path for relPath (only
// when existed is true, i.e. the file previously existed) and writes
// the diff sidecar, even when the diff is empty (spec scenario 1).
func (r *Run) Backup(relPath, oldContent, newContent string, existed bool) error {
	backupPath := r.BackupPath(relPath)
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return taskerr.Wrap(taskerr.IO, "mkdir backup dir", err)
	}
	if existed {
		if err := os.WriteFile(backupPath, []byte(oldContent), 0o644); err != nil {
			return taskerr.Wrap(taskerr.IO, "write backup "+backupPath, err)
		}
	}
	diffText := Diff(relPath, oldContent, newContent)
	if err := os.WriteFile(r.DiffPath(relPath), []byte(diffText), 0o644); err != nil {
		return taskerr.Wrap(taskerr.IO, "write diff "+r.DiffPath(relPath), err)
	}
	return nil
}
