package browser

import (
	"regexp"
	"strings"
)

// Matcher selects the tabs codedrop attaches to. Patterns are URL globs
// where '*' matches any run of characters, slashes included.
type Matcher struct {
	res []*regexp.Regexp
}

// NewMatcher compiles patterns. Empty patterns are skipped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*") + "$"
		m.res = append(m.res, regexp.MustCompile(expr))
	}
	return m
}

// Match reports whether url matches any pattern.
func (m *Matcher) Match(url string) bool {
	for _, re := range m.res {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no pattern.
func (m *Matcher) Empty() bool { return len(m.res) == 0 }
