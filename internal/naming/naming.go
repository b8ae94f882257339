// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package naming implements the conventions used to derive column names from
// Go member and parameter names.
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Convention transforms a Go identifier into a column name.
type Convention int

const (
	// Unset defers to the next convention in order of precedence.
	Unset Convention = iota
	// Default leaves the name unchanged.
	Default
	// SnakeCase turns UserID into user_id.
	SnakeCase
	// LowerCase turns UserID into userid.
	LowerCase
	// UpperCase turns UserID into USERID.
	UpperCase
	// CamelCase turns UserID into userId.
	CamelCase
)

func (c Convention) String() string {
	switch c {
	case Unset:
		return "unset"
	case Default:
		return "default"
	case SnakeCase:
		return "snake_case"
	case LowerCase:
		return "lowercase"
	case UpperCase:
		return "UPPERCASE"
	case CamelCase:
		return "camelCase"
	}
	return "unknown"
}

// Apply returns the column name for a Go identifier.
func (c Convention) Apply(name string) string {
	// Casers carry state and are not shared between calls.
	lower := cases.Lower(language.Und)
	switch c {
	case SnakeCase:
		words := Words(name)
		for i, w := range words {
			words[i] = lower.String(w)
		}
		return strings.Join(words, "_")
	case LowerCase:
		return lower.String(name)
	case UpperCase:
		return cases.Upper(language.Und).String(name)
	case CamelCase:
		title := cases.Title(language.Und)
		words := Words(name)
		for i, w := range words {
			if i == 0 {
				words[i] = lower.String(w)
			} else {
				words[i] = title.String(w)
			}
		}
		return strings.Join(words, "")
	}
	return name
}

// Resolve returns the first convention that is not Unset, in the order
// given. Callers list conventions from the most to the least specific.
func Resolve(conventions ...Convention) Convention {
	for _, c := range conventions {
		if c != Unset {
			return c
		}
	}
	return Default
}

// Fold returns the case-folded form of a name. Column names are compared in
// folded form.
func Fold(name string) string {
	return cases.Fold().String(name)
}

// Equal reports whether two column names match, ignoring case.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Words splits an identifier into words at underscores, hyphens, spaces and
// case transitions. Runs of upper case letters are kept together, so
// HTTPServerID gives HTTP, Server and ID.
func Words(name string) []string {
	var words []string
	runes := []rune(name)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(runes[start:end]))
		}
		start = -1
	}
	for i, r := range runes {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush(i)
			start = i
		case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush(i)
			start = i
		}
	}
	flush(len(runes))
	return words
}
