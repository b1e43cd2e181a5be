// Package parser turns fetched bytes into canonical plain text, a title, a
// description, and outbound links. Output never contains raw markup.
package parser

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
)

// ErrUnsupportedFormat is returned for content the parser cannot extract.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is the closed set of content kinds the parser understands.
type Format int

// Supported formats.
const (
	Unsupported Format = iota
	HTML
	PlainText
	Docx
	Spreadsheet
)

func (f Format) String() string {
	switch f {
	case HTML:
		return "html"
	case PlainText:
		return "text"
	case Docx:
		return "docx"
	case Spreadsheet:
		return "spreadsheet"
	default:
		return "unsupported"
	}
}

// DefaultExtensions lists the file extensions indexed from local folders.
var DefaultExtensions = []string{"docx", "html", "md", "txt", "ods", "xls", "xlsx"}

var extensionFormats = map[string]Format{
	"html": HTML,
	"htm":  HTML,
	"txt":  PlainText,
	"md":   PlainText,
	"docx": Docx,
	"xlsx": Spreadsheet,
	"xls":  Spreadsheet,
	"ods":  Spreadsheet,
}

var mimeFormats = map[string]Format{
	"text/html":             HTML,
	"application/xhtml+xml": HTML,
	"text/plain":            PlainText,
	"text/markdown":         PlainText,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": Docx,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       Spreadsheet,
	"application/vnd.ms-excel":                                                Spreadsheet,
	"application/vnd.oasis.opendocument.spreadsheet":                          Spreadsheet,
}

// Detect resolves the format from a file extension, a file name, or a
// content type, sniffing body when the hint is empty or generic.
func Detect(hint string, body []byte) Format {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if strings.Contains(hint, "/") {
		if mediaType, _, err := mime.ParseMediaType(hint); err == nil {
			if f, ok := mimeFormats[mediaType]; ok {
				return f
			}
			if mediaType != "application/octet-stream" {
				return Unsupported
			}
		}
	} else if hint != "" {
		ext := strings.TrimPrefix(path.Ext(hint), ".")
		if ext == "" {
			ext = hint
		}
		if f, ok := extensionFormats[ext]; ok {
			return f
		}
		return Unsupported
	}
	return sniff(body)
}

func sniff(body []byte) Format {
	if len(body) == 0 {
		return Unsupported
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	switch mediaType {
	case "text/html":
		return HTML
	case "text/plain":
		return PlainText
	default:
		return Unsupported
	}
}

// SupportedExtension reports whether a file name has a parseable extension.
func SupportedExtension(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	_, ok := extensionFormats[ext]
	return ok
}
