package parser

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hint string
		body string
		want Format
	}{
		{hint: "docx", want: Docx},
		{hint: "report.XLSX", want: Spreadsheet},
		{hint: "notes.md", want: PlainText},
		{hint: "text/html; charset=utf-8", want: HTML},
		{hint: "application/xhtml+xml", want: HTML},
		{hint: "application/pdf", want: Unsupported},
		{hint: "image.png", want: Unsupported},
		{hint: "", body: "<!DOCTYPE html><html><body>x</body></html>", want: HTML},
		{hint: "application/octet-stream", body: "just words", want: PlainText},
		{hint: "", body: "", want: Unsupported},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Detect(tt.hint, []byte(tt.body)), "hint=%q", tt.hint)
	}
}

func TestParseHTML(t *testing.T) {
	t.Parallel()

	page := `<html><head>
<title> Rust   Book </title>
<meta name="description" content="Learn Rust">
<link rel="canonical" href="/book/">
<style>.x{color:red}</style>
</head><body>
<script>var hidden = 1;</script>
<h1>Ownership</h1><p>Every value has an <a href="owner.html">owner</a>.</p>
<a href="//cdn.example.org/x">cdn</a>
<a href="http://other.example/y#frag">other</a>
<a href="owner.html">again</a>
<a href="mailto:me@example.com">mail</a>
<a href="#top">top</a>
</body></html>`

	res, err := Parse("https://doc.example.com/book/intro.html", "text/html", []byte(page))
	require.NoError(t, err)
	require.Equal(t, HTML, res.Format)
	require.Equal(t, "Rust Book", res.Title)
	require.Equal(t, "Learn Rust", res.Description)
	require.Equal(t, "https://doc.example.com/book/", res.Canonical)
	require.Equal(t, "Ownership Every value has an owner. cdn other again mail top", res.Content)
	require.NotContains(t, res.Content, "hidden")
	require.NotContains(t, res.Content, "<")
	require.Equal(t, []string{
		"https://doc.example.com/book/owner.html",
		"https://cdn.example.org/x",
		"https://other.example/y",
	}, res.Links)
}

func TestParseHTMLKeepsInlineMarkupTogether(t *testing.T) {
	t.Parallel()

	page := `<html><body><div>foo<b>bar</b> <em>ba</em><span>z</span></div><ul><li>one</li><li>two</li></ul>line<br>break</body></html>`
	res, err := Parse("https://example.com/", "text/html", []byte(page))
	require.NoError(t, err)
	require.Equal(t, "foobar baz one two line break", res.Content)
}

func TestParseHTMLDecodesDeclaredCharset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hint string
		body []byte
	}{
		{
			name: "content type parameter",
			hint: "text/html; charset=iso-8859-1",
			body: []byte("<html><head><title>Men\xfa</title></head><body><p>caf\xe9</p></body></html>"),
		},
		{
			name: "meta charset",
			hint: "html",
			body: []byte("<html><head><meta charset=\"windows-1252\"><title>Men\xfa</title></head><body><p>caf\xe9</p></body></html>"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Parse("https://example.com/menu", tt.hint, tt.body)
			require.NoError(t, err)
			require.Equal(t, "Menú", res.Title)
			require.Equal(t, "café", res.Content)
			require.True(t, utf8.ValidString(res.Content))
		})
	}
}

func TestParseDescriptionFallsBackToWords(t *testing.T) {
	t.Parallel()

	body := "<html><body><p>" + strings.Repeat("word ", 300) + "</p></body></html>"
	res, err := Parse("https://example.com/", "html", []byte(body))
	require.NoError(t, err)
	require.Len(t, strings.Fields(res.Description), DescriptionWords)
	require.Len(t, strings.Fields(res.Content), 300)
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()

	res, err := Parse("file:///home/me/notes/todo.md", "todo.md", []byte("# Todo\n\n- buy  milk\n"))
	require.NoError(t, err)
	require.Equal(t, PlainText, res.Format)
	require.Equal(t, "todo.md", res.Title)
	require.Equal(t, "# Todo - buy milk", res.Content)

	_, err = Parse("file:///bad.txt", "txt", []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
}

func TestParseDocx(t *testing.T) {
	t.Parallel()

	document := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p>
<w:tbl><w:tr>
<w:tc><w:p><w:r><w:t>cell one</w:t></w:r></w:p></w:tc>
<w:tc><w:p><w:r><w:t>cell</w:t><w:tab/><w:t>two</w:t></w:r></w:p></w:tc>
</w:tr></w:tbl>
<w:p><w:r><w:t>Closing.</w:t></w:r></w:p>
</w:body>
</w:document>`
	body := zipOf(t, map[string]string{"word/document.xml": document})

	res, err := Parse("file:///docs/q1.docx", "docx", body)
	require.NoError(t, err)
	require.Equal(t, Docx, res.Format)
	require.Equal(t, "q1.docx", res.Title)
	require.Equal(t, "Quarterly report cell one cell two Closing.", res.Content)
	require.Equal(t, res.Content, res.Description)
}

func TestParseDocxMissingDocument(t *testing.T) {
	t.Parallel()

	body := zipOf(t, map[string]string{"word/styles.xml": "<x/>"})
	_, err := Parse("file:///docs/broken.docx", "docx", body)
	require.Error(t, err)
}

func TestParseXLSX(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "apples"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	_, err := f.NewSheet("Second")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Second", "A1", "pears"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := Parse("file:///sheets/stock.xlsx", "xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, Spreadsheet, res.Format)
	require.Equal(t, "name qty apples 3 pears", res.Content)
}

func TestParseODS(t *testing.T) {
	t.Parallel()

	content := `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content
  xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0"
  xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
<office:body><office:spreadsheet>
<table:table table:name="One">
<table:table-row><table:table-cell><text:p>alpha</text:p></table:table-cell><table:table-cell/><table:table-cell><text:p>beta</text:p></table:table-cell></table:table-row>
</table:table>
<table:table table:name="Two">
<table:table-row><table:table-cell><text:p>gamma <text:span>delta</text:span></text:p></table:table-cell></table:table-row>
</table:table>
</office:spreadsheet></office:body>
</office:document-content>`
	body := zipOf(t, map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.spreadsheet",
		"content.xml": content,
	})

	res, err := Parse("file:///sheets/plan.ods", "ods", body)
	require.NoError(t, err)
	require.Equal(t, "alpha beta gamma delta", res.Content)
}

func TestParseXLSRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	body := append(append([]byte{}, oleMagic...), bytes.Repeat([]byte{0}, 64)...)
	_, err := Parse("file:///sheets/old.xls", "xls", body)
	require.Error(t, err)
}

func TestParseUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Parse("https://example.com/a.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
