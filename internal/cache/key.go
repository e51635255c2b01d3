package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Options are the tool parameters that influence a transform's output.
type Options map[string]string

// DeriveKey returns a deterministic cache key for a tool invocation.
// Option order does not matter; options are serialized sorted by name.
//
// The digest is xxhash64 and is not collision resistant. It must only be
// used for cache addressing, never for integrity checks.
//
// The '|' and '=' separators are not escaped, so an input that embeds them
// can serialize like a shorter input plus options: ("t", "a|k=v", nil) and
// ("t", "a", {k: v}) share a key. Callers consult the cache only for
// options drawn from a fixed set without separators, which keeps such
// inputs from matching a real option list.
func DeriveKey(tool, input string, opts Options) string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(len(tool) + len(input) + 16*len(names) + 2)
	b.WriteString(tool)
	b.WriteByte('|')
	b.WriteString(input)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(opts[name])
	}

	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}
