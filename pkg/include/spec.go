// Package include implements the Include Resolver (C4): parsing an
// include specification DSL, expanding it into a deterministic ordered
// path set, and assembling the knowledge blob from those files.
package include

import (
	"strings"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// Kind identifies which of the four include-spec shapes a Spec is.
type Kind string

const (
	KindAll     Kind = "all"
	KindFile    Kind = "file"
	KindPattern Kind = "pattern"
	KindDir     Kind = "dir"
)

// Spec is a parsed include specification, per spec §3 "Include Spec".
type Spec struct {
	Kind       Kind
	File       string   // for KindFile
	Patterns   []string // for KindPattern, or KindDir's scoped pattern (only the first entry is used)
	Dir        string   // for KindDir
	Recursive  bool
}

// ParseSpec parses the DSL described in spec §3/§6: "all", "file=<name>",
// "pattern=<glob>[|<glob>]…", or "dir=<path> [pattern=<glob>] [recursive]".
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, taskerr.New(taskerr.ParseError, "empty include spec")
	}

	fields := strings.Fields(raw)
	var spec Spec
	for _, tok := range fields {
		switch {
		case tok == "all":
			spec.Kind = KindAll
		case tok == "recursive":
			spec.Recursive = true
		case strings.HasPrefix(tok, "file="):
			spec.Kind = KindFile
			spec.File = strings.TrimPrefix(tok, "file=")
		case strings.HasPrefix(tok, "pattern="):
			spec.Patterns = strings.Split(strings.TrimPrefix(tok, "pattern="), "|")
			if spec.Kind != KindDir {
				spec.Kind = KindPattern
			}
		case strings.HasPrefix(tok, "dir="):
			spec.Kind = KindDir
			spec.Dir = strings.TrimPrefix(tok, "dir=")
		default:
			return Spec{}, taskerr.New(taskerr.ParseError, "unrecognized include token: "+tok)
		}
	}
	if spec.Kind == "" {
		return Spec{}, taskerr.New(taskerr.ParseError, "include spec missing a kind: "+raw)
	}
	if spec.Kind == KindDir && spec.Dir == "" {
		return Spec{}, taskerr.New(taskerr.ParseError, "dir include spec missing dir=")
	}
	return spec, nil
}
