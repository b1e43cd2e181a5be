package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

var droppedElements = "script, style, noscript, template, iframe, svg"

// blockElements break words apart; every other element is inline and joins
// its text with the surrounding text.
var blockElements = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "body": {},
	"br": {}, "caption": {}, "dd": {}, "details": {}, "dialog": {}, "div": {},
	"dl": {}, "dt": {}, "fieldset": {}, "figcaption": {}, "figure": {},
	"footer": {}, "form": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {},
	"h6": {}, "header": {}, "hr": {}, "html": {}, "img": {}, "input": {},
	"li": {}, "main": {}, "nav": {}, "ol": {}, "option": {}, "p": {},
	"pre": {}, "section": {}, "select": {}, "summary": {}, "table": {},
	"tbody": {}, "td": {}, "textarea": {}, "tfoot": {}, "th": {}, "thead": {},
	"title": {}, "tr": {}, "ul": {},
}

// parseHTML decodes body from the charset declared by contentType or the
// document itself and extracts text, metadata and links.
func parseHTML(pageURL, contentType string, body []byte) (Result, error) {
	if !strings.Contains(contentType, "/") {
		contentType = "text/html"
	}
	decoded, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return Result{}, fmt.Errorf("decode html charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return Result{}, fmt.Errorf("read html: %w", err)
	}

	res := Result{
		Title: collapse(doc.Find("title").First().Text()),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		res.Description = collapse(desc)
	} else if desc, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		res.Description = collapse(desc)
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if canonical, ok := crawler.NormalizeHref(pageURL, href); ok {
			res.Canonical = canonical
		}
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, ok := crawler.NormalizeHref(pageURL, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		res.Links = append(res.Links, link)
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find(droppedElements).Remove()
	res.Content = blockText(root)
	return res, nil
}

// blockText renders the text of sel. Block elements are separated by a
// space; inline markup such as foo<b>bar</b> stays one word.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			name := goquery.NodeName(child)
			switch name {
			case "#text":
				b.WriteString(child.Text())
				return
			case "#comment":
				return
			}
			_, block := blockElements[name]
			if block {
				b.WriteByte(' ')
			}
			walk(child)
			if block {
				b.WriteByte(' ')
			}
		})
	}
	walk(sel)
	return collapse(b.String())
}
