package parser

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// DescriptionWords bounds descriptions built from page text.
const DescriptionWords = 256

// Result is the extracted, markup-free view of a document.
type Result struct {
	Format      Format
	Title       string
	Description string
	Content     string
	Canonical   string
	Links       []string
}

// Parse extracts text from body. pageURL resolves relative links and names
// untitled files; hint is an extension, file name, or content type. A
// content type's charset parameter decides how HTML bytes are decoded.
func Parse(pageURL, hint string, body []byte) (Result, error) {
	format := Detect(hint, body)
	var (
		res Result
		err error
	)
	switch format {
	case HTML:
		res, err = parseHTML(pageURL, hint, body)
	case PlainText:
		res, err = parseText(body)
	case Docx:
		res.Content, err = parseDocx(body)
	case Spreadsheet:
		res.Content, err = parseSpreadsheet(body)
	default:
		return Result{}, fmt.Errorf("parse %s: %w", pageURL, ErrUnsupportedFormat)
	}
	if err != nil {
		return Result{}, fmt.Errorf("parse %s as %s: %w", pageURL, format, err)
	}
	res.Format = format
	if res.Title == "" {
		res.Title = titleFromURL(pageURL)
	}
	if res.Description == "" {
		res.Description = Describe(res.Content)
	}
	return res, nil
}

// Describe returns the first DescriptionWords words of text.
func Describe(text string) string {
	words := strings.Fields(text)
	if len(words) > DescriptionWords {
		words = words[:DescriptionWords]
	}
	return strings.Join(words, " ")
}

func parseText(body []byte) (Result, error) {
	if !utf8.Valid(body) {
		return Result{}, fmt.Errorf("text is not valid utf-8")
	}
	return Result{Content: collapse(string(body))}, nil
}

func titleFromURL(pageURL string) string {
	trimmed := strings.TrimRight(pageURL, "/")
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return path.Base(trimmed)
}

// collapse joins runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
