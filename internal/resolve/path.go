// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package resolve

import (
	"fmt"
	"strings"
)

// Segment is one member access of a bind path, with the indexers applied to
// the member.
type Segment struct {
	Name    string
	Indexes []string
}

func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, index := range s.Indexes {
		b.WriteString("[" + index + "]")
	}
	return b.String()
}

// FormatPath returns the canonical text of a path, without null-conditional
// markers.
func FormatPath(path []Segment) string {
	parts := make([]string, len(path))
	for i, s := range path {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// ParsePath splits a bind name such as "user?.Emails[0].Domain" into
// segments. The null-conditional markers "?." and "?[" are accepted and
// ignored. Indexers may nest brackets; their content is kept as text.
func ParsePath(path string) ([]Segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segments []Segment
	// cur is nil at the start and after a dot.
	var cur *Segment
	i := 0
	for i < len(path) {
		switch ch := path[i]; ch {
		case '?':
			if i+1 >= len(path) || (path[i+1] != '.' && path[i+1] != '[') {
				return nil, fmt.Errorf("unexpected %q at position %d in %q", ch, i, path)
			}
			i++
		case '.':
			if cur == nil {
				return nil, fmt.Errorf("empty member name at position %d in %q", i, path)
			}
			cur = nil
			i++
		case '[':
			if cur == nil {
				return nil, fmt.Errorf("indexer without member at position %d in %q", i, path)
			}
			end, ok := closingBracket(path, i)
			if !ok {
				return nil, fmt.Errorf("unbalanced brackets in %q", path)
			}
			cur.Indexes = append(cur.Indexes, strings.TrimSpace(path[i+1:end]))
			i = end + 1
		case ']':
			return nil, fmt.Errorf("unbalanced brackets in %q", path)
		default:
			if cur != nil {
				return nil, fmt.Errorf("unexpected %q at position %d in %q", ch, i, path)
			}
			start := i
			for i < len(path) && !strings.ContainsRune(".?[]", rune(path[i])) {
				i++
			}
			segments = append(segments, Segment{Name: strings.TrimSpace(path[start:i])})
			cur = &segments[len(segments)-1]
		}
	}
	if cur == nil {
		return nil, fmt.Errorf("path %q ends with a dot", path)
	}
	return segments, nil
}

// closingBracket finds the bracket closing the one at position open.
func closingBracket(s string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
