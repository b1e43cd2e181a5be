package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// LensRuleKind tags the LensRule variants.
type LensRuleKind string

// Lens rule variants.
const (
	LimitURLDepthKind LensRuleKind = "LimitURLDepth"
	SkipURLKind       LensRuleKind = "SkipURL"
)

// LensRule is a declarative crawl restriction carried by a lens.
type LensRule struct {
	Kind     LensRuleKind `yaml:"kind" json:"kind"`
	Pattern  string       `yaml:"pattern" json:"pattern"`
	MaxDepth int          `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
}

// LimitURLDepth keeps crawling within max path segments below prefix.
func LimitURLDepth(prefix string, maxDepth int) LensRule {
	return LensRule{Kind: LimitURLDepthKind, Pattern: prefix, MaxDepth: maxDepth}
}

// SkipURL excludes every URL matching a robots.txt style pattern.
func SkipURL(pattern string) LensRule {
	return LensRule{Kind: SkipURLKind, Pattern: pattern}
}

func (r LensRule) String() string {
	switch r.Kind {
	case LimitURLDepthKind:
		return fmt.Sprintf("LimitURLDepth(%q, %d)", r.Pattern, r.MaxDepth)
	case SkipURLKind:
		return fmt.Sprintf("SkipURL(%q)", r.Pattern)
	default:
		return fmt.Sprintf("%s(%q)", r.Kind, r.Pattern)
	}
}

// Regex returns the regular expression the rule compiles to.
func (r LensRule) Regex() (string, error) {
	switch r.Kind {
	case LimitURLDepthKind:
		if r.Pattern == "" {
			return "", ErrEmptyPattern
		}
		if r.MaxDepth < 0 {
			return "", fmt.Errorf("negative depth %d", r.MaxDepth)
		}
		prefix := strings.TrimRight(r.Pattern, "/")
		return fmt.Sprintf("^%s/?(/[^/]+/?){0,%d}$", regexp.QuoteMeta(prefix), r.MaxDepth), nil
	case SkipURLKind:
		return WildcardToRegex(r.Pattern)
	default:
		return "", fmt.Errorf("unknown lens rule %q", r.Kind)
	}
}

// RuleSet is the compiled form of a lens' rules.
type RuleSet struct {
	skip     []*regexp.Regexp
	restrict []*regexp.Regexp
}

// CompileRules compiles every valid rule. Invalid rules are skipped and
// reported so the caller can log them; they never fail a lookup later.
func CompileRules(rules []LensRule) (*RuleSet, []error) {
	rs := &RuleSet{}
	var errs []error
	for _, rule := range rules {
		expr, err := rule.Regex()
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule, err))
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule, err))
			continue
		}
		switch rule.Kind {
		case SkipURLKind:
			rs.skip = append(rs.skip, re)
		case LimitURLDepthKind:
			rs.restrict = append(rs.restrict, re)
		}
	}
	return rs, errs
}

// Denies reports whether the lens rules exclude the URL. A SkipURL match
// denies; when depth limits exist the URL must satisfy at least one.
func (rs *RuleSet) Denies(rawURL string) bool {
	if rs == nil {
		return false
	}
	for _, re := range rs.skip {
		if re.MatchString(rawURL) {
			return true
		}
	}
	if len(rs.restrict) == 0 {
		return false
	}
	for _, re := range rs.restrict {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}

// Empty reports whether the set carries no rules.
func (rs *RuleSet) Empty() bool {
	return rs == nil || (len(rs.skip) == 0 && len(rs.restrict) == 0)
}
