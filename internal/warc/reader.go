// Package warc reads response records from WARC 1.0/1.1 archives, plain or
// gzip compressed.
package warc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingTargetURI is returned for a response record without a
// WARC-Target-URI header. The reader stays usable.
var ErrMissingTargetURI = errors.New("warc record has no WARC-Target-URI")

const maxRecordSize = 256 << 20

// Record is one response record.
type Record struct {
	ID        string
	TargetURI string
	Date      time.Time
	Header    textproto.MIMEHeader
	Payload   []byte
}

// Response decodes the HTTP response stored in the record payload. Payloads
// without a status line are returned as a 200 with no headers.
func (r *Record) Response() (int, http.Header, []byte, error) {
	if !bytes.HasPrefix(r.Payload, []byte("HTTP/")) {
		return http.StatusOK, http.Header{}, r.Payload, nil
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(r.Payload)), nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read archived response for %s: %w", r.TargetURI, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, nil, nil, fmt.Errorf("read archived body for %s: %w", r.TargetURI, err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// Reader iterates the response records of an archive.
type Reader struct {
	br     *bufio.Reader
	tp     *textproto.Reader
	closer io.Closer
	offset int
}

// NewReader wraps r, transparently decompressing gzip input.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip warc: %w", err)
		}
		br = bufio.NewReader(gz)
	}
	return &Reader{br: br, tp: textproto.NewReader(br)}, nil
}

// Open reads the archive at path. Close releases the file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open warc %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Close closes the underlying file when the reader was built by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next response record, skipping every other record type.
// It returns io.EOF at the end of the archive.
func (r *Reader) Next() (*Record, error) {
	for {
		rec, recordType, err := r.readRecord()
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(recordType, "response") {
			continue
		}
		if rec.TargetURI == "" {
			return nil, fmt.Errorf("record %d (%s): %w", r.offset, rec.ID, ErrMissingTargetURI)
		}
		return rec, nil
	}
}

func (r *Reader) readRecord() (*Record, string, error) {
	var version string
	for {
		line, err := r.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, "", io.EOF
			}
			return nil, "", fmt.Errorf("read warc version: %w", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			version = line
			break
		}
	}
	if !strings.HasPrefix(version, "WARC/") {
		return nil, "", fmt.Errorf("record %d: unexpected version line %q", r.offset+1, version)
	}
	r.offset++

	header, err := r.tp.ReadMIMEHeader()
	if err != nil {
		return nil, "", fmt.Errorf("record %d: read headers: %w", r.offset, err)
	}
	length, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil || length < 0 {
		return nil, "", fmt.Errorf("record %d: bad Content-Length %q", r.offset, header.Get("Content-Length"))
	}
	if length > maxRecordSize {
		return nil, "", fmt.Errorf("record %d: %d bytes exceeds limit", r.offset, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return nil, "", fmt.Errorf("record %d: read payload: %w", r.offset, err)
	}

	rec := &Record{
		ID:        header.Get("WARC-Record-ID"),
		TargetURI: strings.Trim(header.Get("WARC-Target-URI"), "<> "),
		Header:    header,
		Payload:   payload,
	}
	if date := header.Get("WARC-Date"); date != "" {
		if t, err := time.Parse(time.RFC3339, date); err == nil {
			rec.Date = t
		}
	}
	return rec, header.Get("WARC-Type"), nil
}
