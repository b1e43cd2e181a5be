// Package lens loads lens definitions: curated crawl policies naming the
// domains and URL prefixes that belong to a topic plus rules that narrow the
// crawl further.
package lens

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/lenscrawl/internal/policy"
)

// DefaultAuthor is used when a lens file does not name one.
const DefaultAuthor = "Unknown"

// ErrInvalidLens is returned for lens files without a usable name.
var ErrInvalidLens = errors.New("invalid lens")

// Config is the on-disk form of a lens.
type Config struct {
	Author      string   `yaml:"author" json:"author"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Domains     []string `yaml:"domains" json:"domains"`
	URLs        []string `yaml:"urls" json:"urls"`
	Version     string   `yaml:"version" json:"version"`
	IsEnabled   *bool    `yaml:"is_enabled,omitempty" json:"is_enabled,omitempty"`
	Rules       []Rule   `yaml:"rules" json:"rules"`
	Trigger     string   `yaml:"trigger" json:"trigger"`
}

// Enabled reports the is_enabled flag, which defaults to true.
func (c Config) Enabled() bool {
	return c.IsEnabled == nil || *c.IsEnabled
}

// Rule is one entry of a lens' rules list. Entries are either call strings
// such as SkipURL("...") or mappings with kind/pattern/max_depth.
type Rule struct {
	policy.LensRule
	Raw string
}

// UnmarshalYAML keeps scalar entries raw so a malformed rule never fails the
// whole file.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Raw = node.Value
		return nil
	}
	if err := node.Decode(&r.LensRule); err != nil {
		return fmt.Errorf("decode rule: %w", err)
	}
	return nil
}

var (
	skipURLCall       = regexp.MustCompile(`^\s*SkipURL\(\s*("(?:[^"\\]|\\.)*")\s*\)\s*$`)
	limitURLDepthCall = regexp.MustCompile(`^\s*LimitURLDepth\(\s*("(?:[^"\\]|\\.)*")\s*,\s*(\d+)\s*\)\s*$`)
)

// Resolve returns the typed rule, parsing the call string form when needed.
func (r Rule) Resolve() (policy.LensRule, error) {
	if r.Raw == "" {
		return r.LensRule, nil
	}
	return ParseRule(r.Raw)
}

// ParseRule parses the textual form produced by policy.LensRule.String.
func ParseRule(raw string) (policy.LensRule, error) {
	if m := skipURLCall.FindStringSubmatch(raw); m != nil {
		pattern, err := unquote(m[1])
		if err != nil {
			return policy.LensRule{}, fmt.Errorf("parse rule %q: %w", raw, err)
		}
		return policy.SkipURL(pattern), nil
	}
	if m := limitURLDepthCall.FindStringSubmatch(raw); m != nil {
		prefix, err := unquote(m[1])
		if err != nil {
			return policy.LensRule{}, fmt.Errorf("parse rule %q: %w", raw, err)
		}
		depth, err := strconv.Atoi(m[2])
		if err != nil {
			return policy.LensRule{}, fmt.Errorf("parse rule %q: %w", raw, err)
		}
		return policy.LimitURLDepth(prefix, depth), nil
	}
	return policy.LensRule{}, fmt.Errorf("parse rule %q: unrecognized form", raw)
}

func unquote(s string) (string, error) {
	out, err := strconv.Unquote(s)
	if err != nil {
		return "", fmt.Errorf("unquote %s: %w", s, err)
	}
	return out, nil
}

// Parse decodes a lens file and applies defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode lens: %w", err)
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return Config{}, fmt.Errorf("lens has no name: %w", ErrInvalidLens)
	}
	if strings.TrimSpace(cfg.Author) == "" {
		cfg.Author = DefaultAuthor
	}
	return cfg, nil
}

// Lens is a loaded lens with its rules and allow list compiled.
type Lens struct {
	Config

	rules *policy.RuleSet
	allow []*regexp.Regexp
}

// Compile builds a Lens. Malformed rules and allow-list entries are skipped
// and returned so the caller can log them.
func Compile(cfg Config) (*Lens, []error) {
	var errs []error
	rules := make([]policy.LensRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rule, err := r.Resolve()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	set, compileErrs := policy.CompileRules(rules)
	errs = append(errs, compileErrs...)

	l := &Lens{Config: cfg, rules: set}
	for _, d := range cfg.Domains {
		if strings.TrimSpace(d) == "" {
			continue
		}
		l.allow = append(l.allow, regexp.MustCompile(subdomainRegex(d)))
	}
	for _, prefix := range cfg.URLs {
		if strings.TrimSpace(prefix) == "" {
			continue
		}
		re, err := regexp.Compile(policy.PrefixRegex(prefix))
		if err != nil {
			errs = append(errs, fmt.Errorf("url %q: %w", prefix, err))
			continue
		}
		l.allow = append(l.allow, re)
	}
	return l, errs
}

// subdomainRegex matches the domain itself and any subdomain of it.
func subdomainRegex(domain string) string {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "*.")
	expr := policy.DomainRegex(domain)
	return strings.Replace(expr, "(http://|https://)", `(http://|https://)([^/:?#]+\.)?`, 1)
}

// Rules returns the compiled lens rules.
func (l *Lens) Rules() *policy.RuleSet {
	return l.rules
}

// Covers reports whether rawURL is on the lens' allow list.
func (l *Lens) Covers(rawURL string) bool {
	for _, re := range l.allow {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// Seeds returns the URLs that bootstrap a crawl of the lens.
func (l *Lens) Seeds() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		if _, err := url.Parse(raw); err != nil {
			return
		}
		if _, dup := seen[raw]; dup {
			return
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	for _, d := range l.Domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "*.")
		if d == "" || strings.Contains(d, "*") {
			continue
		}
		add("https://" + d + "/")
	}
	for _, prefix := range l.URLs {
		prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "$")
		if prefix == "" || strings.Contains(prefix, "*") {
			continue
		}
		add(prefix)
	}
	return out
}
