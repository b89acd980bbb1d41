// Package resolve maps free-text queries onto registered components.
//
// Resolution is a tiered fallback search: structural matches (exact id,
// exact name) always beat textual ones (keyword or description
// containment). The ordering is a precision-over-recall policy, not an
// optimization; a loose containment hit must never shadow an exact one.
package resolve

import (
	"errors"
	"strings"

	"guidepost-server/internal/registry"
)

// ErrNoMatch is returned when no tier produces a descriptor.
var ErrNoMatch = errors.New("no component matches query")

// Normalize canonicalizes a query or descriptor field for comparison:
// lower-case, trim, collapse runs of '-', '_' and whitespace into a
// single space, and strip everything outside [a-z0-9 ].
func Normalize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			pendingSpace = true
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			// Stripped entirely; does not produce a separator.
		}
	}
	return b.String()
}

// Query resolves raw against the snapshot, returning the single best
// descriptor. Ties within a tier resolve to snapshot order, which is
// registry insertion order; that tie-break is part of the contract.
func Query(raw string, snapshot []registry.Descriptor) (registry.Descriptor, error) {
	norm := Normalize(raw)

	type tier func(registry.Descriptor) bool
	tiers := []tier{
		// 1. Exact normalized id.
		func(d registry.Descriptor) bool {
			return norm != "" && Normalize(d.ID) == norm
		},
		// 2. Exact normalized name.
		func(d registry.Descriptor) bool {
			return norm != "" && Normalize(d.Name) == norm
		},
		// 3. Verbatim id, for callers that pass exact ids pre-normalization.
		func(d registry.Descriptor) bool {
			return raw != "" && d.ID == raw
		},
		// 4. Name contains query.
		func(d registry.Descriptor) bool {
			return norm != "" && strings.Contains(Normalize(d.Name), norm)
		},
		// 5. Exact keyword.
		func(d registry.Descriptor) bool {
			if norm == "" {
				return false
			}
			for _, kw := range d.Keywords {
				if Normalize(kw) == norm {
					return true
				}
			}
			return false
		},
		// 6. Multi-word token match: every query token must be a substring
		// of, or a superstring of, some token from keywords+name+id.
		func(d registry.Descriptor) bool {
			return multiWordMatch(norm, d)
		},
		// 7. Keyword contains query.
		func(d registry.Descriptor) bool {
			if norm == "" {
				return false
			}
			for _, kw := range d.Keywords {
				if strings.Contains(Normalize(kw), norm) {
					return true
				}
			}
			return false
		},
		// 8. Description contains query.
		func(d registry.Descriptor) bool {
			return norm != "" && d.Description != "" &&
				strings.Contains(Normalize(d.Description), norm)
		},
	}

	for _, match := range tiers {
		for _, d := range snapshot {
			if match(d) {
				return d, nil
			}
		}
	}

	return registry.Descriptor{}, ErrNoMatch
}

// multiWordMatch implements tier 6. Only queries of two or more tokens
// qualify; every query token must find a partner (AND across tokens).
func multiWordMatch(norm string, d registry.Descriptor) bool {
	queryTokens := strings.Fields(norm)
	if len(queryTokens) < 2 {
		return false
	}

	var pool []string
	for _, kw := range d.Keywords {
		pool = append(pool, strings.Fields(Normalize(kw))...)
	}
	pool = append(pool, strings.Fields(Normalize(d.Name))...)
	pool = append(pool, strings.Fields(Normalize(d.ID))...)

	for _, qt := range queryTokens {
		found := false
		for _, pt := range pool {
			if strings.Contains(pt, qt) || strings.Contains(qt, pt) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
