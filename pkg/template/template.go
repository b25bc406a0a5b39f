package template

import (
	_ "embed"
	"sort"
	"strings"
)

// Delimiter marking both ends of a placeholder token.
const delim = "%%"

//go:embed sbatch.sh.tmpl
var defaultScript string

// Default returns the built-in sbatch script template. It references the
// full identifier contract, so rendering it against a complete substitution
// map always succeeds.
func Default() string {
	return defaultScript
}

// UnresolvedError reports placeholder identifiers that appear in a template
// but have no entry in the substitution map. Identifiers are sorted and
// contain no duplicates.
type UnresolvedError struct {
	Identifiers []string
}

func (e *UnresolvedError) Error() string {
	if len(e.Identifiers) == 1 {
		return "unresolved placeholder: " + e.Identifiers[0]
	}
	return "unresolved placeholders: " + strings.Join(e.Identifiers, ", ")
}

// Render substitutes every %%identifier%% token in text with its value from
// subs and returns the result.
//
// Matching is literal and case-sensitive. Tokens never span lines; within a
// line the shortest non-empty span between two delimiter pairs forms the
// identifier. An unpaired delimiter, or a pair with nothing between
// (%%%%), passes through as literal text. Substituted values are written
// verbatim and never re-scanned, so values may themselves contain
// delimiters. Empty string is a valid value.
//
// If any token has no entry in subs, Render returns an empty string and a
// *UnresolvedError listing every missing identifier. It never produces
// partial output.
func Render(text string, subs map[string]string) (string, error) {
	var out strings.Builder
	out.Grow(len(text))

	var missing []string
	seen := make(map[string]struct{})

	scan(text, func(literal, id string) {
		if id == "" {
			out.WriteString(literal)
			return
		}
		out.WriteString(literal)
		if v, ok := subs[id]; ok {
			out.WriteString(v)
			return
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			missing = append(missing, id)
		}
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &UnresolvedError{Identifiers: missing}
	}
	return out.String(), nil
}

// Identifiers returns the distinct placeholder identifiers referenced by
// text, in order of first appearance.
func Identifiers(text string) []string {
	var ids []string
	seen := make(map[string]struct{})

	scan(text, func(_, id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	})
	return ids
}

// scan walks text and calls emit for each segment: literal is the text
// preceding a token and id the token's identifier, or "" when the segment
// carries no token (end of line, unpaired or empty delimiters).
func scan(text string, emit func(literal, id string)) {
	for start := 0; start < len(text); {
		nl := strings.IndexByte(text[start:], '\n')
		var line string
		if nl < 0 {
			line = text[start:]
			start = len(text)
		} else {
			line = text[start : start+nl+1]
			start += nl + 1
		}
		scanLine(line, emit)
	}
}

func scanLine(line string, emit func(literal, id string)) {
	for {
		open := strings.Index(line, delim)
		if open < 0 {
			emit(line, "")
			return
		}
		rest := line[open+len(delim):]
		end := strings.Index(rest, delim)
		if end < 0 {
			// unpaired delimiter, the remainder is literal
			emit(line, "")
			return
		}
		if end == 0 {
			// %%%% holds no identifier, pass the first pair through
			emit(line[:open+len(delim)], "")
			line = rest
			continue
		}
		emit(line[:open], rest[:end])
		line = rest[end+len(delim):]
	}
}
