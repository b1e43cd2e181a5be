package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const archiveHost = "web.archive.org"

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("parse url: missing scheme in %q", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Domain returns the lowercase host of a URL without its port.
func Domain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "file" {
		return "localhost", nil
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("parse url: no host in %q", rawURL)
	}
	return host, nil
}

// RootDomain returns the registrable domain (eTLD+1) of a host.
func RootDomain(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("root domain: %q is an IP address", host)
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("root domain: %w", err)
	}
	return root, nil
}

// NormalizeHref resolves a link found on page base. Absolute and
// scheme-relative links are forced to https; the fetcher falls back to http
// when needed.
func NormalizeHref(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	var target *url.URL
	switch {
	case strings.HasPrefix(href, "//"):
		target, err = url.Parse("https:" + href)
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		target, err = url.Parse(href)
		if err == nil && target.Scheme == "http" {
			target.Scheme = "https"
		}
	default:
		var rel *url.URL
		rel, err = url.Parse(href)
		if err == nil {
			target = baseURL.ResolveReference(rel)
		}
	}
	if err != nil || target == nil {
		return "", false
	}
	switch target.Scheme {
	case "http", "https", "file":
	default:
		return "", false
	}
	target.Fragment = ""
	return target.String(), true
}

// ArchiveURL points at the newest Internet Archive capture of rawURL on or
// before now. The id_ flag asks for the original bytes without the
// archive toolbar.
func ArchiveURL(rawURL string, now time.Time) string {
	return fmt.Sprintf("https://%s/web/%s000000id_/%s", archiveHost, now.UTC().Format("20060102"), rawURL)
}

// CanonicalURL chooses the URL a document is stored under. A canonical link
// extracted from the page only wins when it shares the root domain with the
// fetched URL, or when the page was fetched from the archive.
func CanonicalURL(original, extracted string) string {
	orig, err := url.Parse(original)
	if err != nil {
		return original
	}
	if extracted == "" {
		if orig.Hostname() == archiveHost {
			parts := strings.SplitN(orig.Path, "/", 4)
			if len(parts) == 4 {
				if inner, err := url.Parse(parts[3]); err == nil && inner.Scheme != "" && inner.Host != "" {
					return inner.String()
				}
			}
		}
		return original
	}
	ext, err := url.Parse(extracted)
	if err != nil || ext.Hostname() == "" || orig.Hostname() == "" {
		return original
	}
	origRoot, err := RootDomain(orig.Hostname())
	if err != nil {
		return original
	}
	extRoot, err := RootDomain(ext.Hostname())
	if err != nil {
		return original
	}
	if origRoot == "archive.org" || origRoot == extRoot {
		return ext.String()
	}
	return original
}
