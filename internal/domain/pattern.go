package domain

import (
	"errors"
	"strings"
)

// segmentKind classifies one path-pattern segment.
type segmentKind int

const (
	segLiteral segmentKind = iota
	segVariable
	segWildcard // terminal "**"
)

type segment struct {
	kind    segmentKind
	literal string // for segLiteral
	name    string // for segVariable
}

// Pattern is a compiled endpoint path pattern: literal, "{var}", or a
// terminal "**" segment. Specificity ordering (most specific first):
// literal > variable > "**", ties broken by longer literal prefix.
type Pattern struct {
	raw      string
	segments []segment
	// specificity is a sortable score: higher sorts first.
	specificity int
}

// CompilePattern parses a path pattern like "/a/{id}/**" into a Pattern.
// "**" is only valid as the final segment.
func CompilePattern(raw string) (*Pattern, error) {
	trimmed := strings.Trim(raw, "/")
	var parts []string
	if trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}

	p := &Pattern{raw: raw}
	literalRun := 0
	for i, part := range parts {
		switch {
		case part == "**":
			if i != len(parts)-1 {
				return nil, errors.New("'**' is only valid as the terminal segment")
			}
			p.segments = append(p.segments, segment{kind: segWildcard})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2:
			name := part[1 : len(part)-1]
			p.segments = append(p.segments, segment{kind: segVariable, name: name})
		default:
			if part == "" {
				return nil, errors.New("empty path segment")
			}
			p.segments = append(p.segments, segment{kind: segLiteral, literal: part})
			literalRun++
		}
	}

	// Specificity: literal-only patterns rank highest, then patterns with
	// variables, then patterns ending in "**". Longer literal prefixes
	// break ties within the same class.
	class := 2
	for _, s := range p.segments {
		if s.kind == segWildcard {
			class = 0
		} else if s.kind == segVariable && class > 1 {
			class = 1
		}
	}
	p.specificity = class*1_000_000 + literalRun*1_000 + len(p.segments)
	return p, nil
}

// Raw returns the original pattern text.
func (p *Pattern) Raw() string { return p.raw }

// Specificity returns the sortable specificity score.
func (p *Pattern) Specificity() int { return p.specificity }

// Match attempts to match path against the pattern, returning extracted
// path variables on success. A "**" terminal segment requires at least one
// trailing path segment: "/a/{x}/**" matches "/a/1/b/c" but not "/a/1".
func (p *Pattern) Match(path string) (map[string]string, bool) {
	trimmed := strings.Trim(path, "/")
	var parts []string
	if trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}

	vars := map[string]string{}
	for i, seg := range p.segments {
		switch seg.kind {
		case segWildcard:
			if i >= len(parts) {
				return nil, false
			}
			vars["**"] = strings.Join(parts[i:], "/")
			return vars, true
		case segVariable:
			if i >= len(parts) || parts[i] == "" {
				return nil, false
			}
			vars[seg.name] = parts[i]
		default: // segLiteral
			if i >= len(parts) || parts[i] != seg.literal {
				return nil, false
			}
		}
	}
	if len(parts) != len(p.segments) {
		return nil, false
	}
	return vars, true
}

// MethodMatches reports whether methods (an endpoint's configured method
// set) permits the given HTTP method. A "*" entry matches any method.
func MethodMatches(methods []string, method string) bool {
	for _, m := range methods {
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
