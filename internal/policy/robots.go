package policy

import (
	"bufio"
	"strings"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// ParseRobots turns a robots.txt body into resource rules for domain. Only
// groups addressed to "*" or to botName contribute. An empty Disallow line
// means everything is allowed.
func ParseRobots(domain, body, botName string) []crawler.ResourceRule {
	var (
		rules     []crawler.ResourceRule
		agents    []string
		inRules   bool
		seenPaths = map[string]int{}
	)
	botName = strings.ToLower(botName)

	add := func(path string, allow bool) {
		if idx, ok := seenPaths[path]; ok {
			// Conflicting duplicate lines resolve to disallow.
			rules[idx].AllowCrawl = rules[idx].AllowCrawl && allow
			return
		}
		seenPaths[path] = len(rules)
		rules = append(rules, crawler.ResourceRule{
			Domain:     domain,
			RulePath:   path,
			AllowCrawl: allow,
		})
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			// Consecutive user-agent lines share one group.
			if inRules {
				agents = agents[:0]
				inRules = false
			}
			agents = append(agents, strings.ToLower(value))
		case "allow", "disallow":
			inRules = true
			if !appliesTo(agents, botName) {
				continue
			}
			switch {
			case value != "":
				add(value, key == "allow")
			case key == "disallow":
				add("/", true)
			}
		default:
			// sitemap, crawl-delay, host and unknown directives
		}
	}
	return rules
}

func appliesTo(agents []string, botName string) bool {
	for _, a := range agents {
		if a == "*" || (botName != "" && a == botName) {
			return true
		}
	}
	return false
}

// AllowAll is stored for domains whose robots.txt is missing.
func AllowAll(domain string) []crawler.ResourceRule {
	return []crawler.ResourceRule{{Domain: domain, RulePath: "/", AllowCrawl: true}}
}
