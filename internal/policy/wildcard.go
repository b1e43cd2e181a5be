package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const wildcard = ".*"

// ErrEmptyPattern is returned when a rule has nothing to match.
var ErrEmptyPattern = errors.New("empty pattern")

// WildcardToRegex converts a robots.txt style pattern into a regular
// expression. '*' matches anything, '^' and '$' are kept as anchors and every
// other character is literal. Patterns without an explicit anchor match as
// prefixes.
func WildcardToRegex(pattern string) (string, error) {
	if pattern == "" {
		return "", ErrEmptyPattern
	}
	var b strings.Builder
	hasAnchor := false
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString(wildcard)
		case '^', '$':
			b.WriteRune(ch)
			hasAnchor = true
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	out := b.String()
	if !hasAnchor && !strings.HasSuffix(out, wildcard) {
		out += wildcard
	}
	if !strings.HasPrefix(out, "^") {
		out = "^" + out
	}
	return out, nil
}

// CompileWildcard compiles a robots.txt style pattern.
func CompileWildcard(pattern string) (*regexp.Regexp, error) {
	expr, err := WildcardToRegex(pattern)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// DomainRegex matches any http(s) URL on domain. A '*' in the domain is a
// wildcard, so "*.example.com" covers every subdomain.
func DomainRegex(domain string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(domain)) {
		if ch == '*' {
			b.WriteString(wildcard)
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(ch)))
	}
	return "^(http://|https://)" + b.String() + "([/:?#].*)?$"
}

// PrefixRegex matches URLs starting with prefix. A trailing '$' makes the
// match exact.
func PrefixRegex(prefix string) string {
	if strings.HasSuffix(prefix, "$") {
		return "^" + regexp.QuoteMeta(strings.TrimSuffix(prefix, "$")) + "$"
	}
	return "^" + regexp.QuoteMeta(prefix) + wildcard
}
