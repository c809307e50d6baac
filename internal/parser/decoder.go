// Package parser turns the device's character stream into records:
// a Framer splits chunks into lines and a Decoder turns lines into
// Records.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrNotObject is returned for lines that do not look like a JSON
// object. They are rejected before any parsing is attempted.
var ErrNotObject = errors.New("line is not a JSON object")

// MalformedError reports a line that passed the shape check but failed
// to parse.
type MalformedError struct {
	Line string
	Err  error
}

func (e *MalformedError) Error() string {
	line := e.Line
	if len(line) > 64 {
		line = line[:64] + "…"
	}
	return fmt.Sprintf("malformed record %q: %v", line, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Stats counts what a Decoder has seen.
type Stats struct {
	Lines     int64
	Records   int64
	Rejected  int64
	Malformed int64
}

// Decoder parses framed lines into Records. Decode is called from a
// single reader loop; Stats may be read from any goroutine.
type Decoder struct {
	lines     atomic.Int64
	records   atomic.Int64
	rejected  atomic.Int64
	malformed atomic.Int64
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// LooksLikeObject reports whether the trimmed line starts with '{' and
// ends with '}'.
func LooksLikeObject(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 {
		return false
	}
	return trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}'
}

// Decode parses a single line. It returns ErrNotObject for lines that
// fail the shape check and a *MalformedError for lines that fail to
// parse.
func (d *Decoder) Decode(line string) (Record, error) {
	d.lines.Add(1)
	if !LooksLikeObject(line) {
		d.rejected.Add(1)
		return nil, ErrNotObject
	}

	var rec Record
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &rec); err != nil {
		d.malformed.Add(1)
		return nil, &MalformedError{Line: line, Err: err}
	}
	d.records.Add(1)
	return rec, nil
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Lines:     d.lines.Load(),
		Records:   d.records.Load(),
		Rejected:  d.rejected.Load(),
		Malformed: d.malformed.Load(),
	}
}
