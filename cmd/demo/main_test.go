package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/clarabennett2626/serialdash/internal/parser"
)

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestSimulateWritesDecodableRecords(t *testing.T) {
	var w countingWriter
	err := simulate(context.Background(), &w, options{count: 25, maxChunk: 5, seed: 1})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	framer := parser.NewFramer()
	lines := framer.Feed(w.String())
	if len(lines) != 25 {
		t.Fatalf("expected 25 lines, got %d", len(lines))
	}
	if framer.Buffered() != "" {
		t.Errorf("unterminated tail: %q", framer.Buffered())
	}
	if w.writes <= 25 {
		t.Errorf("expected records split across writes, got %d writes", w.writes)
	}

	dec := parser.NewDecoder()
	for _, line := range lines {
		rec, err := dec.Decode(line)
		if err != nil || rec == nil {
			t.Fatalf("line %q did not decode: %v", line, err)
		}
		pot, ok := rec.Pot()
		if !ok || pot < 0 || pot > 100 {
			t.Errorf("pot out of range in %q", line)
		}
		if _, ok := rec.Temp(); !ok {
			t.Errorf("missing temp in %q", line)
		}
	}
}

func TestSimulateNoise(t *testing.T) {
	var w bytes.Buffer
	if err := simulate(context.Background(), &w, options{count: 200, maxChunk: 64, noise: true, seed: 7}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(w.String(), "\r\n"), "\r\n")
	if len(lines) <= 200 {
		t.Fatalf("expected noise lines, got %d lines", len(lines))
	}

	dec := parser.NewDecoder()
	for _, line := range lines {
		dec.Decode(line)
	}
	if st := dec.Stats(); st.Records != 200 {
		t.Errorf("records = %d, want 200", st.Records)
	}
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var w bytes.Buffer
	err := simulate(ctx, &w, options{maxChunk: 4, seed: 1})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
