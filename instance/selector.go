package instance

import (
	"sort"
	"strings"
)

// Selector is a label matcher: every key/value pair must be present on
// the instance's labels for it to match. An empty selector matches
// everything.
type Selector map[string]string

// Matches reports whether all selector pairs are present in labels.
func (s Selector) Matches(labels map[string]string) bool {
	for k, v := range s {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// Specificity returns the number of constrained keys. Retention policy
// resolution prefers the most specific matching selector.
func (s Selector) Specificity() int { return len(s) }

// String renders the selector in "k=v,k=v" form with sorted keys, for
// logging and for stores that index selectors textually.
func (s Selector) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s[k])
	}
	return b.String()
}

// ParseSelector parses a "k=v,k=v" string into a Selector. Malformed
// terms (no '=') are ignored rather than failing the whole selector.
func ParseSelector(s string) Selector {
	sel := make(Selector)
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		k, v, ok := strings.Cut(term, "=")
		if !ok {
			continue
		}
		sel[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return sel
}
