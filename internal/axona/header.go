// Package axona reads and writes the files an Axona dacqUSB/Tint recording
// session is made of: the tetrode spike file (name.N), the cluster cut file
// (name_N.cut) and the position tracking file (name.pos).
//
// The binary files share a layout: a text header of "key value" lines,
// the literal marker data_start, fixed-size big-endian records, and a
// trailing "\r\ndata_end". Cut files are plain text.
package axona

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	dataStart = "data_start"
	dataEnd   = "\r\ndata_end"
)

var (
	// ErrNoDataStart is returned when a binary file has no data_start marker.
	ErrNoDataStart = errors.New("axona: data_start marker not found")
	// ErrTruncated is returned when the data section is shorter than the
	// header promises.
	ErrTruncated = errors.New("axona: data section truncated")
)

// HeaderField is one "key value" line of a file header.
type HeaderField struct {
	Key   string
	Value string
}

// Header holds header fields in file order.
type Header struct {
	Fields []HeaderField
}

// Set replaces the first field named key or appends a new one.
func (h *Header) Set(key, value string) {
	for i := range h.Fields {
		if h.Fields[i].Key == key {
			h.Fields[i].Value = value
			return
		}
	}
	h.Fields = append(h.Fields, HeaderField{Key: key, Value: value})
}

// String returns the raw value of the first field named key.
func (h *Header) String(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, f := range h.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Float parses the first token of a field, so "50.0 hz" reads as 50.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.String(key)
	if !ok {
		return 0, false
	}
	tok := strings.Fields(v)
	if len(tok) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(tok[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int parses the first token of a field as an integer.
func (h *Header) Int(key string) (int, bool) {
	f, ok := h.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// IntOr returns Int(key) or def when the field is absent or malformed.
func (h *Header) IntOr(key string, def int) int {
	if v, ok := h.Int(key); ok {
		return v
	}
	return def
}

// splitBinary separates the header text and the data section of a binary
// file. The data_end trailer is removed when present.
func splitBinary(r io.Reader) (*Header, []byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	idx := bytes.Index(raw, []byte(dataStart))
	if idx < 0 {
		return nil, nil, ErrNoDataStart
	}
	hdr := parseHeader(raw[:idx])
	body := raw[idx+len(dataStart):]
	if end := bytes.LastIndex(body, []byte(dataEnd)); end >= 0 {
		body = body[:end]
	}
	return hdr, body, nil
}

func parseHeader(b []byte) *Header {
	h := &Header{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		h.Fields = append(h.Fields, HeaderField{Key: key, Value: strings.TrimSpace(value)})
	}
	return h
}

func writeHeader(w io.Writer, h *Header) error {
	for _, f := range h.Fields {
		if _, err := fmt.Fprintf(w, "%s %s\r\n", f.Key, f.Value); err != nil {
			return err
		}
	}
	return nil
}

// requirePositive reads a numeric header field that must be > 0.
func requirePositive(h *Header, key string) (float64, error) {
	v, ok := h.Float(key)
	if !ok {
		return 0, fmt.Errorf("axona: header field %q missing", key)
	}
	if v <= 0 {
		return 0, fmt.Errorf("axona: header field %q must be positive, got %v", key, v)
	}
	return v, nil
}
