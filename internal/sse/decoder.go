package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/joss/lumina/internal/domain"
)

const maxRecord = 1024 * 1024

// Decoder reads chat events from an SSE stream. Records may arrive split
// across arbitrary reads; a record is only parsed once its terminating blank
// line has been seen. Records that are complete but malformed are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
	skipped int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxRecord)
	s.Split(scanRecords)
	return &Decoder{scanner: s}
}

// Next returns the next event. The [DONE] sentinel is reported once as a
// done event, after which Next returns io.EOF. If the input ends before the
// sentinel, Next returns io.ErrUnexpectedEOF.
func (d *Decoder) Next() (domain.Event, error) {
	if d.done {
		return domain.Event{}, io.EOF
	}
	for d.scanner.Scan() {
		payload, ok := recordData(d.scanner.Bytes())
		if !ok {
			continue
		}
		if payload == Done {
			d.done = true
			return domain.DoneEvent(), nil
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			d.skipped++
			continue
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{}, io.ErrUnexpectedEOF
}

// Skipped returns how many malformed records were dropped.
func (d *Decoder) Skipped() int { return d.skipped }

// recordData joins the data lines of a record. Comment and field lines other
// than data are ignored.
func recordData(record []byte) (string, bool) {
	var parts []string
	for _, line := range strings.Split(string(record), "\n") {
		line = strings.TrimRight(line, "\r")
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		parts = append(parts, strings.TrimSpace(data))
	}
	if len(parts) == 0 {
		return "", false
	}
	payload := strings.Join(parts, "\n")
	return payload, payload != ""
}

// recordEnd finds the first blank line in data, LF or CRLF framed. It
// returns the boundary offset and its length, or -1.
func recordEnd(data []byte) (int, int) {
	lf := bytes.Index(data, []byte("\n\n"))
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	case lf >= 0:
		return lf, 2
	}
	return -1, 0
}

// scanRecords is a bufio.SplitFunc that yields blank-line separated records.
func scanRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(bytes.TrimSpace(data)) == 0 {
		return len(data), nil, nil
	}
	if i, n := recordEnd(data); i >= 0 {
		return i + n, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
