// Package prompt implements the Prompt Builder (C7): assembling the
// fixed-format LLM prompt from a task's description, inline and
// resolved knowledge, and the focus file's current contents. Grounded
// on the teacher's prompt-assembly helpers in pkg/agent, generalized
// around the explicit section list spec §4.7 names instead of the
// teacher's single freeform prompt string.
package prompt

import (
	"fmt"
	"strings"
)

const bytesPerToken = 4

const preamble = `You are editing files in a software project. Respond with one or more
sections in this exact format:

# file: <path>
# partial: true            (optional; only if you are emitting a partial diff)
<complete or partial file body>

Emit the complete contents of each file you change unless you are
explicitly authorized above to emit a partial rewrite. Put the path on
the first line as shown; do not add commentary outside these sections.`

// Sections holds the assembled prompt text plus per-section token
// counts, for the metrics the Task Manager stamps onto the bullet.
type Sections struct {
	Preamble        string
	Description     string
	InlineKnowledge string
	FocusFile       string
	IncludeBlob     string

	PreambleTokens    int
	DescriptionTokens int
	KnowledgeTokens   int
	FocusTokens       int
	IncludeTokens     int
}

// Build assembles the prompt per spec §4.7. The focus-file section is
// omitted when focusPath or focusContents is empty (focusContents is
// empty when the focus file does not yet exist).
func Build(description, inlineKnowledge, focusPath, focusContents, includeBlob string) Sections {
	s := Sections{
		Preamble:        preamble,
		Description:     description,
		InlineKnowledge: inlineKnowledge,
		IncludeBlob:     includeBlob,
	}
	if focusPath != "" && focusContents != "" {
		s.FocusFile = fmt.Sprintf("=== current file: %s ===\n%s", focusPath, focusContents)
	}
	s.PreambleTokens = tokenEstimate(s.Preamble)
	s.DescriptionTokens = tokenEstimate(s.Description)
	s.KnowledgeTokens = tokenEstimate(s.InlineKnowledge)
	s.FocusTokens = tokenEstimate(s.FocusFile)
	s.IncludeTokens = tokenEstimate(s.IncludeBlob)
	return s
}

// Text renders the final prompt string in section order.
func (s Sections) Text() string {
	var b strings.Builder
	b.WriteString(s.Preamble)
	b.WriteString("\n\n")
	b.WriteString(s.Description)
	if s.InlineKnowledge != "" {
		b.WriteString("\n\n")
		b.WriteString(s.InlineKnowledge)
	}
	if s.FocusFile != "" {
		b.WriteString("\n\n")
		b.WriteString(s.FocusFile)
	}
	if s.IncludeBlob != "" {
		b.WriteString("\n\n")
		b.WriteString(s.IncludeBlob)
	}
	return b.String()
}

// TotalTokens sums the per-section estimates.
func (s Sections) TotalTokens() int {
	return s.PreambleTokens + s.DescriptionTokens + s.KnowledgeTokens + s.FocusTokens + s.IncludeTokens
}

func tokenEstimate(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + bytesPerToken - 1) / bytesPerToken
}
