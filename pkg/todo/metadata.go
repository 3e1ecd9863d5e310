package todo

import "strings"

// Metadata is a task's key/value metric set. Serialization order is
// fixed (spec §4.6 "deterministic, fixed key order"), independent of
// insertion order, so repeated begin/finish cycles never reorder or
// duplicate a key.
type Metadata map[string]string

// canonicalKeys is the fixed serialization order. Unrecognized keys
// (there should be none in practice) are appended afterward in
// lexicographic order so nothing is silently dropped.
var canonicalKeys = []string{
	"started", "completed", "error",
	"knowledge", "include", "prompt", "plan",
	"cur_model",
}

// Set replaces the value for key, never duplicating it.
func (m Metadata) Set(key, value string) {
	m[key] = value
}

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// orderedKeys returns every key present in m, canonical keys first in
// their fixed order, then any remaining keys sorted lexicographically.
func (m Metadata) orderedKeys() []string {
	out := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range canonicalKeys {
		if _, ok := m[k]; ok {
			out = append(out, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if rest[j] < rest[i] {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	return append(out, rest...)
}

// Serialize renders m as "key: value | key: value …" in canonical
// order, suitable for both the bullet trailer and the summary line.
func (m Metadata) Serialize() string {
	var parts []string
	for _, k := range m.orderedKeys() {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, " | ")
}
