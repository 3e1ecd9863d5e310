package todo

import (
	"fmt"
	"strconv"
	"time"
)

// isoLocal renders t as spec's "iso-local-timestamp": local time,
// second precision, RFC 3339 without the zone offset suffix ambiguity.
func isoLocal(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}

func renderBullet(t *Task) string {
	trailer := t.Metadata.Serialize()
	desc := t.CleanDesc
	if trailer != "" {
		desc = desc + " | " + trailer
	}
	return fmt.Sprintf("- [%c][%c][%c] %s", t.PlanFlag, t.LLMFlag, t.CommitFlag, desc)
}

func renderSummary(indent string, t *Task) string {
	trailer := t.Metadata.Serialize()
	if trailer == "" {
		return indent + "- "
	}
	return indent + "- " + trailer
}

// Begin implements Task Manager operation 1 (spec §4.6): flips the
// first flag to doing, stamps the bullet's trailing metadata, and
// writes (or inserts) the following summary line with the initial
// run metrics.
func Begin(f *File, t *Task, startedAt time.Time, knowledgeTokens, includeTokens, promptTokens int, curModel string) {
	t.PlanFlag = FlagDoing
	t.Metadata.Set("started", isoLocal(startedAt))
	t.Metadata.Set("knowledge", strconv.Itoa(knowledgeTokens))
	t.Metadata.Set("include", strconv.Itoa(includeTokens))
	t.Metadata.Set("prompt", strconv.Itoa(promptTokens))
	t.Metadata.Set("cur_model", curModel)

	f.Lines[t.LineIndex] = renderBullet(t)

	indent := "  "
	summary := renderSummary(indent, t)
	if t.SummaryIndex >= 0 {
		f.Lines[t.SummaryIndex] = summary
	} else {
		insertAt := t.LineIndex + 1
		f.Lines = insertLine(f.Lines, insertAt, summary)
		shiftFollowing(f, insertAt)
		t.SummaryIndex = insertAt
	}
}

// Outcome is the terminal state of one task run, per spec §3/§7.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeCommitDeferred
	OutcomeFatal
)

// Finish implements Task Manager operation 2 (spec §4.6): sets the
// terminal flag pattern, stamps completion metadata (and an error tag
// on fatal outcomes), and rewrites the summary line.
func Finish(f *File, t *Task, completedAt time.Time, outcome Outcome, planTokens int, errMsg string) {
	switch outcome {
	case OutcomeDone:
		t.PlanFlag, t.LLMFlag, t.CommitFlag = FlagDone, FlagDone, FlagPending
	case OutcomeCommitDeferred:
		t.PlanFlag, t.LLMFlag, t.CommitFlag = FlagDone, FlagDone, FlagDoing
	case OutcomeFatal:
		t.PlanFlag, t.LLMFlag, t.CommitFlag = FlagFatal, FlagPending, FlagPending
	}

	if outcome == OutcomeFatal {
		t.Metadata.Set("error", errMsg)
	} else {
		t.Metadata.Set("completed", isoLocal(completedAt))
		if planTokens > 0 {
			t.Metadata.Set("plan", strconv.Itoa(planTokens))
		}
	}

	f.Lines[t.LineIndex] = renderBullet(t)

	indent := "  "
	summary := renderSummary(indent, t)
	if t.SummaryIndex >= 0 {
		f.Lines[t.SummaryIndex] = summary
	} else {
		insertAt := t.LineIndex + 1
		f.Lines = insertLine(f.Lines, insertAt, summary)
		shiftFollowing(f, insertAt)
		t.SummaryIndex = insertAt
	}
}

func insertLine(lines []string, at int, line string) []string {
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, line)
	out = append(out, lines[at:]...)
	return out
}

// shiftFollowing bumps every recorded line index at or after the
// insertion point by one, since insertLine grows the buffer in place.
// Called before the inserting task's own SummaryIndex is set, so its new
// summary line (exactly at insertedAt) is never double-shifted.
func shiftFollowing(f *File, insertedAt int) {
	for _, other := range f.Tasks {
		if other.LineIndex >= insertedAt {
			other.LineIndex++
		}
		if other.SummaryIndex >= insertedAt {
			other.SummaryIndex++
		}
	}
}
