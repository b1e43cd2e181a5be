package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// parseSpreadsheet joins every non-empty cell of every sheet in sheet, row,
// column order. The container decides between xls, xlsx and ods.
func parseSpreadsheet(body []byte) (string, error) {
	if bytes.HasPrefix(body, oleMagic) {
		return parseXLS(body)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	for _, f := range zr.File {
		if f.Name == "content.xml" {
			return parseODS(zr)
		}
	}
	return parseXLSX(body)
}

func parseXLSX(body []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var cells []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			cells = appendCells(cells, row...)
		}
	}
	return strings.Join(cells, " "), nil
}

// parseXLS recovers from panics raised by the xls decoder on malformed
// input.
func parseXLS(body []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("decode xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(body), "utf-8")
	if err != nil {
		return "", fmt.Errorf("open xls: %w", err)
	}

	var cells []string
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells = appendCells(cells, row.Col(c))
			}
		}
	}
	return strings.Join(cells, " "), nil
}

func parseODS(zr *zip.Reader) (string, error) {
	doc, err := readZipXML(zr, "content.xml")
	if err != nil {
		return "", err
	}
	var cells []string
	walk(doc.Root(), func(el *etree.Element) bool {
		if el.Space == "table" && el.Tag == "table-cell" {
			cells = appendCells(cells, deepText(el))
			return false
		}
		return true
	})
	return strings.Join(cells, " "), nil
}

func appendCells(dst []string, values ...string) []string {
	for _, v := range values {
		if v = collapse(v); v != "" {
			dst = append(dst, v)
		}
	}
	return dst
}
