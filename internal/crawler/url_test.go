package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM:443/a#frag", "https://example.com/a"},
		{"http://example.com:80/?b=2&a=1", "http://example.com/?a=1&b=2"},
		{"https://example.com/path", "https://example.com/path"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := NormalizeURL("no-scheme/path")
	require.Error(t, err)
}

func TestDomain(t *testing.T) {
	t.Parallel()

	d, err := Domain("https://Docs.Example.com:8443/x")
	require.NoError(t, err)
	require.Equal(t, "docs.example.com", d)

	d, err = Domain("file:///home/me/notes.md")
	require.NoError(t, err)
	require.Equal(t, "localhost", d)

	_, err = Domain("https://%zz")
	require.Error(t, err)
}

func TestNormalizeHref(t *testing.T) {
	t.Parallel()

	base := "https://example.com/docs/index.html"
	cases := []struct {
		href string
		want string
		ok   bool
	}{
		{"//cdn.example.org/a.js", "https://cdn.example.org/a.js", true},
		{"http://other.com/page", "https://other.com/page", true},
		{"/root", "https://example.com/root", true},
		{"child.html#top", "https://example.com/docs/child.html", true},
		{"mailto:me@example.com", "", false},
		{"#anchor", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeHref(base, tc.href)
		require.Equal(t, tc.ok, ok, tc.href)
		require.Equal(t, tc.want, got, tc.href)
	}
}

func TestArchiveURL(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	require.Equal(t,
		"https://web.archive.org/web/20240309000000id_/https://example.com/a",
		ArchiveURL("https://example.com/a", now),
	)
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://docs.rs/test/0.0.1/lib.rs.html",
		CanonicalURL("https://web.archive.org/web/20211209075429id_/https://docs.rs/test/0.0.1/lib.rs.html", ""),
	)
	require.Equal(t,
		"https://www.example.com/canonical",
		CanonicalURL("https://example.com/page?ref=1", "https://www.example.com/canonical"),
	)
	require.Equal(t,
		"https://example.com/page",
		CanonicalURL("https://example.com/page", "https://spam.net/page"),
	)
	require.Equal(t,
		"https://docs.rs/crate",
		CanonicalURL("https://web.archive.org/web/2021id_/https://docs.rs/crate", "https://docs.rs/crate"),
	)
}

func TestTagRoundTrip(t *testing.T) {
	t.Parallel()

	tag := LensTag("wiki")
	require.Equal(t, "lens:wiki", tag.String())
	parsed, ok := ParseTag(tag.String())
	require.True(t, ok)
	require.Equal(t, tag, parsed)

	_, ok = ParseTag("nolabel")
	require.False(t, ok)
}
