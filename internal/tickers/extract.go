package tickers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	DefaultMinLength = 3
	DefaultMaxLength = 4
)

// Extractor finds ticker candidates in free text. Candidates are either bare
// upper-case words or $-prefixed words of any case, both within [min, max] letters.
type Extractor struct {
	pattern *regexp.Regexp
}

// NewExtractor compiles the candidate pattern for the given token length range.
func NewExtractor(minLen, maxLen int) (*Extractor, error) {
	if minLen < 1 || maxLen < minLen {
		return nil, fmt.Errorf("invalid ticker length range [%d, %d]", minLen, maxLen)
	}
	expr := fmt.Sprintf(`(?:\b[A-Z]{%d,%d}\b|\$[a-zA-Z]{%d,%d}\b)`, minLen, maxLen, minLen, maxLen)
	return &Extractor{pattern: regexp.MustCompile(expr)}, nil
}

// Candidates returns the normalized, de-duplicated candidates found in text, sorted.
func (e *Extractor) Candidates(text string) []string {
	matches := e.pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		t := Normalize(m)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validated returns the candidates in text that are present in the allow-list, or nil.
func (e *Extractor) Validated(text string, allow *AllowList) []string {
	var out []string
	for _, c := range e.Candidates(text) {
		if allow.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Normalize strips a leading $ and upper-cases the symbol.
func Normalize(token string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(token), "$"))
}
