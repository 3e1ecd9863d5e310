// Package llmoutput implements the LLM Output Parser (C8): splitting a
// model's reply into per-file edit records and resolving each one
// against the Path Resolver. Grounded on the teacher's fenced
// code-block scanning in pkg/parser/parser.go, reworked around the
// "# file:"/"# partial:" marker contract instead of the teacher's
// language-fence-only detection.
package llmoutput

import (
	"strings"

	"github.com/brindlewood/taskloom/pkg/roots"
	"github.com/brindlewood/taskloom/pkg/taskerr"
)

const fileMarkerPrefix = "# file:"
const partialMarkerPrefix = "# partial:"

// Record is one parsed file section, per spec §3 "LLM Edit Record".
type Record struct {
	OriginalFilename string
	ResolvedPath     string
	NewFile          bool
	Partial          bool
	Content          string
}

// Split locates every "# file:" marker line (optionally fenced) and
// returns the content between consecutive markers, dropping any
// preamble before the first marker and any whitespace-only sections.
func Split(output string) []Record {
	lines := strings.Split(output, "\n")
	var records []Record
	var cur *Record
	var body []string

	flush := func() {
		if cur == nil {
			return
		}
		text := strings.Join(body, "\n")
		if strings.TrimSpace(text) != "" {
			cur.Content = text
			records = append(records, *cur)
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		bare := strings.TrimPrefix(trimmed, "```")
		if strings.HasPrefix(bare, fileMarkerPrefix) {
			flush()
			name := strings.TrimSpace(strings.TrimPrefix(bare, fileMarkerPrefix))
			cur = &Record{OriginalFilename: name}
			body = nil
			continue
		}
		if cur == nil {
			continue // preamble before the first marker is ignored
		}
		if strings.HasPrefix(bare, partialMarkerPrefix) && len(body) == 0 {
			val := strings.TrimSpace(strings.TrimPrefix(bare, partialMarkerPrefix))
			if val == "true" {
				cur.Partial = true
			}
			continue
		}
		if trimmed == "```" && len(body) == 0 {
			continue // opening fence of the section, not content
		}
		body = append(body, line)
	}
	flush()

	return trimClosingFences(records)
}

// trimClosingFences drops a single trailing ``` line left over when the
// model wrapped a section in a fence the marker scan didn't consume as
// an opening delimiter.
func trimClosingFences(records []Record) []Record {
	for i := range records {
		lines := strings.Split(records[i].Content, "\n")
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			records[i].Content = strings.Join(lines[:len(lines)-1], "\n")
		}
	}
	return records
}

// Resolve fills ResolvedPath/NewFile on every record using the Path
// Resolver against baseDir, per spec §4.8.
func Resolve(records []Record, rs *roots.Set, baseDir string) ([]Record, error) {
	out := make([]Record, len(records))
	for i, r := range records {
		resolved, err := rs.Resolve(r.OriginalFilename, baseDir)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.KindOf(err), "resolve "+r.OriginalFilename, err)
		}
		r.ResolvedPath = resolved.Resolved
		r.NewFile = resolved.NewFile
		out[i] = r
	}
	return out, nil
}

// EmptyOutput reports whether output produced zero records, the
// EmptyOutput fatal condition of spec §4.11 step 5.
func EmptyOutput(records []Record) bool {
	return len(records) == 0
}
