package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
)

const maxZipEntry = 64 << 20

// parseDocx returns paragraph and table-cell text of word/document.xml in
// document order.
func parseDocx(body []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	doc, err := readZipXML(zr, "word/document.xml")
	if err != nil {
		return "", err
	}

	var parts []string
	walk(doc.Root(), func(el *etree.Element) bool {
		if el.Space == "w" && el.Tag == "p" {
			if text := runText(el); text != "" {
				parts = append(parts, text)
			}
			return false
		}
		return true
	})
	return collapse(strings.Join(parts, " ")), nil
}

// runText concatenates the w:t runs of a paragraph. Tabs and breaks become
// spaces.
func runText(p *etree.Element) string {
	var b strings.Builder
	walk(p, func(el *etree.Element) bool {
		if el.Space != "w" {
			return true
		}
		switch el.Tag {
		case "t":
			b.WriteString(el.Text())
		case "tab", "br", "cr":
			b.WriteByte(' ')
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

func readZipXML(zr *zip.Reader, name string) (*etree.Document, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(io.LimitReader(f, maxZipEntry)); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("empty %s", name)
	}
	return doc, nil
}

// walk visits el and its descendants depth first. Returning false from fn
// skips the children of the visited element.
func walk(el *etree.Element, fn func(*etree.Element) bool) {
	if el == nil || !fn(el) {
		return
	}
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}

// deepText returns all character data under el.
func deepText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			if t.Space == "text" && (t.Tag == "p" || t.Tag == "s" || t.Tag == "tab" || t.Tag == "line-break") {
				b.WriteByte(' ')
			}
			b.WriteString(deepText(t))
		}
	}
	return b.String()
}
