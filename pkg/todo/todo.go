// Package todo implements the Task Parser (C5) and Task Manager (C6):
// reading a todo file into a structured task list and performing the
// two in-place mutations (begin/finish) that the engine is allowed to
// make, preserving every other line byte-for-byte. Grounded on the
// teacher's pkg/agent/todo_management.go line-oriented bullet rewriting,
// reworked around an explicit three-flag state machine instead of the
// teacher's single status string.
package todo

import (
	"regexp"
	"strings"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// Flag is one of the three per-task status characters.
type Flag byte

const (
	FlagPending  Flag = ' '
	FlagDisabled Flag = '-'
	FlagDoing    Flag = '~'
	FlagDone     Flag = 'x'
	FlagFatal    Flag = '!'
)

var bulletRE = regexp.MustCompile(`^- \[([ \-~x!])\]\[([ \-~x!])\]\[([ \-~x!])\] (.*)$`)
var summaryRE = regexp.MustCompile(`^(\s*)- (started:|completed:).*$`)
var includeAttrRE = regexp.MustCompile(`^\s{2,}include:\s*(.*)$`)
var focusAttrRE = regexp.MustCompile(`^\s{2,}(?:out|focus):\s*(.*)$`)
var fenceRE = regexp.MustCompile("^```")

// Task is one parsed bullet, per spec §3 "Task".
type Task struct {
	File         string
	LineIndex    int // index into File.Lines of the bullet line
	SummaryIndex int // index of the following summary line, or -1
	PlanFlag     Flag
	LLMFlag      Flag
	CommitFlag   Flag
	CleanDesc    string
	RawTrailer   string // the " | key: value …" suffix as last parsed, for reference only
	Metadata     Metadata
	IncludeSpec  string
	FocusSpec    string
	Knowledge    string
	BaseDir      string
}

// Enabled reports whether the task is runnable: flags exactly [ ][ ][ ].
func (t *Task) Enabled() bool {
	return t.PlanFlag == FlagPending && t.LLMFlag == FlagPending && t.CommitFlag == FlagPending
}

// File is a parsed todo file: the full line buffer plus the tasks found
// in it. Lines is the single source of truth for rendering; Tasks only
// index into it.
type File struct {
	Path           string
	Lines          []string
	TrailingNL     bool
	FrontMatterEnd int // index of line after the closing "---", or 0 if none
	BaseDir        string
	Tasks          []*Task
}

// Render reassembles the file's current line buffer into text.
func (f *File) Render() string {
	text := strings.Join(f.Lines, "\n")
	if f.TrailingNL {
		text += "\n"
	}
	return text
}

// Parse splits content into a File, extracting front matter, tasks, and
// their attribute/summary/knowledge lines. defaultBaseDir is used when
// no front-matter base directive is present.
func Parse(path, content, defaultBaseDir string) (*File, error) {
	trailingNL := strings.HasSuffix(content, "\n")
	body := content
	if trailingNL {
		body = body[:len(body)-1]
	}
	var lines []string
	if body == "" {
		lines = nil
	} else {
		lines = strings.Split(body, "\n")
	}

	f := &File{Path: path, Lines: lines, TrailingNL: trailingNL, BaseDir: defaultBaseDir}

	idx := 0
	if len(lines) >= 1 && strings.TrimSpace(lines[0]) == "---" {
		end := -1
		base := ""
		for i := 1; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "---" {
				end = i
				break
			}
			if b, ok := strings.CutPrefix(strings.TrimSpace(lines[i]), "base:"); ok {
				base = strings.TrimSpace(b)
			}
		}
		if end >= 0 {
			f.FrontMatterEnd = end + 1
			idx = end + 1
			if base != "" {
				f.BaseDir = base
			}
		}
	}

	for i := idx; i < len(lines); i++ {
		m := bulletRE.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		task := &Task{
			File:         path,
			LineIndex:    i,
			SummaryIndex: -1,
			PlanFlag:     Flag(m[1][0]),
			LLMFlag:      Flag(m[2][0]),
			CommitFlag:   Flag(m[3][0]),
			Metadata:     Metadata{},
			BaseDir:      f.BaseDir,
		}
		desc, trailer, md := splitDescAndMetadata(m[4])
		task.CleanDesc = desc
		task.RawTrailer = trailer
		task.Metadata = md

		j := i + 1
		for j < len(lines) {
			if m := includeAttrRE.FindStringSubmatch(lines[j]); m != nil {
				task.IncludeSpec = strings.TrimSpace(m[1])
				j++
				continue
			}
			if m := focusAttrRE.FindStringSubmatch(lines[j]); m != nil {
				task.FocusSpec = strings.TrimSpace(m[1])
				j++
				continue
			}
			break
		}

		if j < len(lines) && fenceRE.MatchString(strings.TrimSpace(lines[j])) {
			fenceStart := j + 1
			k := fenceStart
			for k < len(lines) && !fenceRE.MatchString(strings.TrimSpace(lines[k])) {
				k++
			}
			if k < len(lines) {
				task.Knowledge = strings.Join(lines[fenceStart:k], "\n")
				j = k + 1
			}
		}

		if j < len(lines) {
			if sm := summaryRE.FindStringSubmatch(lines[j]); sm != nil {
				task.SummaryIndex = j
				mergeSummaryMetadata(lines[j], task.Metadata)
			}
		}

		f.Tasks = append(f.Tasks, task)
	}

	return f, nil
}

// splitDescAndMetadata splits a bullet's text on the first " | ",
// returning the clean description, the raw trailer (for diagnostics),
// and any key/value pairs found in the trailer.
func splitDescAndMetadata(text string) (desc, trailer string, md Metadata) {
	md = Metadata{}
	parts := strings.SplitN(text, " | ", 2)
	desc = parts[0]
	if len(parts) == 1 {
		return desc, "", md
	}
	trailer = parts[1]
	for _, kv := range strings.Split(trailer, " | ") {
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			continue
		}
		md.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return desc, trailer, md
}

func mergeSummaryMetadata(line string, md Metadata) {
	idx := strings.Index(line, "- ")
	if idx < 0 {
		return
	}
	rest := line[idx+2:]
	for _, kv := range strings.Split(rest, " | ") {
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			continue
		}
		md.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
}

// FindEnabled returns the first task (in file order) whose flags are
// exactly [ ][ ][ ], or nil if none.
func (f *File) FindEnabled() *Task {
	for _, t := range f.Tasks {
		if t.Enabled() {
			return t
		}
	}
	return nil
}

// ErrNoPending is a sentinel for "no file has an enabled task", carrying
// taskerr.NotFound. The engine does not return it: RunNext and Peek
// report that condition through RunResult.NoPending instead.
var ErrNoPending = taskerr.New(taskerr.NotFound, "no pending task")
