package parser

import (
	"reflect"
	"strings"
	"testing"
)

// --- Captured device output ---
var deviceStream = "" +
	`{"pot": 5, "btn": 1, "temp": 21.3}` + "\r\n" +
	`{"pot": 6, "btn": 0, "temp": 21.4}` + "\r\n" +
	"boot: sensor ready\r\n" +
	`{"pot": }` + "\r\n" +
	"\r\n" +
	`{"pot": 99, "btn": 0, "temp": 22.0, "uptime": 1200}` + "\r\n" +
	`{"pot":`

func feedAll(f *Framer, chunks ...string) []string {
	var lines []string
	for _, c := range chunks {
		lines = append(lines, f.Feed(c)...)
	}
	return lines
}

func TestFramer_SingleChunk(t *testing.T) {
	f := NewFramer()
	lines := f.Feed(deviceStream)

	want := []string{
		`{"pot": 5, "btn": 1, "temp": 21.3}`,
		`{"pot": 6, "btn": 0, "temp": 21.4}`,
		"boot: sensor ready",
		`{"pot": }`,
		"",
		`{"pot": 99, "btn": 0, "temp": 22.0, "uptime": 1200}`,
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("Feed() = %q, want %q", lines, want)
	}
	if f.Buffered() != `{"pot":` {
		t.Errorf("Buffered() = %q, want trailing partial", f.Buffered())
	}
}

func TestFramer_ChunkBoundaryIndependence(t *testing.T) {
	whole := NewFramer().Feed(deviceStream)

	// Every single split point.
	for i := 0; i <= len(deviceStream); i++ {
		f := NewFramer()
		got := feedAll(f, deviceStream[:i], deviceStream[i:])
		if !reflect.DeepEqual(got, whole) {
			t.Fatalf("split at %d: got %q, want %q", i, got, whole)
		}
		if f.Buffered() != `{"pot":` {
			t.Fatalf("split at %d: Buffered() = %q", i, f.Buffered())
		}
	}

	// Every pair of split points.
	for i := 0; i <= len(deviceStream); i++ {
		for j := i; j <= len(deviceStream); j++ {
			got := feedAll(NewFramer(), deviceStream[:i], deviceStream[i:j], deviceStream[j:])
			if !reflect.DeepEqual(got, whole) {
				t.Fatalf("split at %d,%d: got %q, want %q", i, j, got, whole)
			}
		}
	}
}

func TestFramer_ByteAtATime(t *testing.T) {
	whole := NewFramer().Feed(deviceStream)
	f := NewFramer()
	var got []string
	for i := 0; i < len(deviceStream); i++ {
		got = append(got, f.Feed(deviceStream[i:i+1])...)
	}
	if !reflect.DeepEqual(got, whole) {
		t.Fatalf("byte-at-a-time: got %q, want %q", got, whole)
	}
}

func TestFramer_Leftover(t *testing.T) {
	f := NewFramer()
	if lines := f.Feed("{"); len(lines) != 0 {
		t.Fatalf("expected no lines from partial chunk, got %q", lines)
	}
	if f.Buffered() != "{" {
		t.Fatalf("Buffered() = %q, want %q", f.Buffered(), "{")
	}
	lines := f.Feed(`"a":1}` + "\r\n")
	if len(lines) != 1 || lines[0] != `{"a":1}` {
		t.Fatalf("Feed() = %q, want one line {\"a\":1}", lines)
	}
	if f.Buffered() != "" {
		t.Errorf("Buffered() = %q, want empty after terminator", f.Buffered())
	}
}

func TestFramer_OrderAcrossChunks(t *testing.T) {
	f := NewFramer()
	got := feedAll(f, `{"a":1}`+"\r\n"+`{"b"`, `:2}`+"\r\n")
	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFramer_NoSeparatorGrowsBuffer(t *testing.T) {
	f := NewFramer()
	for _, c := range []string{"abc", "def", "\r"} {
		if lines := f.Feed(c); len(lines) != 0 {
			t.Fatalf("Feed(%q) emitted %q", c, lines)
		}
	}
	if f.Buffered() != "abcdef\r" {
		t.Fatalf("Buffered() = %q", f.Buffered())
	}
	// The separator completes across the chunk boundary.
	lines := f.Feed("\n")
	if len(lines) != 1 || lines[0] != "abcdef" {
		t.Fatalf("Feed(\\n) = %q, want [abcdef]", lines)
	}
}

func TestFramer_EmptyChunk(t *testing.T) {
	f := NewFramer()
	f.Feed("partial")
	if lines := f.Feed(""); lines != nil {
		t.Fatalf("empty chunk emitted %q", lines)
	}
	if f.Buffered() != "partial" {
		t.Errorf("Buffered() = %q", f.Buffered())
	}
}

func TestFramer_BareLFIsNotASeparator(t *testing.T) {
	f := NewFramer()
	lines := f.Feed("{\"a\":1}\n{\"b\":2}\r\n")
	if len(lines) != 1 || lines[0] != "{\"a\":1}\n{\"b\":2}" {
		t.Fatalf("got %q", lines)
	}
}

func TestFramer_CustomSeparator(t *testing.T) {
	f := NewFramer(WithSeparator("\n"))
	got := feedAll(f, "one\ntw", "o\n")
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Fatalf("got %q", got)
	}
	if f.Separator() != "\n" {
		t.Errorf("Separator() = %q", f.Separator())
	}
	if NewFramer(WithSeparator("")).Separator() != DefaultSeparator {
		t.Error("empty separator should keep the default")
	}
}

func TestFramer_ResetDiscardsPartial(t *testing.T) {
	f := NewFramer()
	f.Feed(`{"a":1}` + "\r\n" + `{"pot":`)
	if n := f.Reset(); n != len(`{"pot":`) {
		t.Errorf("Reset() = %d, want %d", n, len(`{"pot":`))
	}
	if f.Buffered() != "" {
		t.Errorf("Buffered() = %q after Reset", f.Buffered())
	}
	// The dropped partial never resurfaces.
	lines := f.Feed(`{"b":2}` + "\r\n")
	if len(lines) != 1 || lines[0] != `{"b":2}` {
		t.Fatalf("got %q after Reset", lines)
	}
}

func TestFramer_MaxBufferSkipsOversizedLine(t *testing.T) {
	f := NewFramer(WithMaxBuffer(16))
	if lines := f.Feed(strings.Repeat("x", 20)); len(lines) != 0 {
		t.Fatalf("oversized chunk emitted %q", lines)
	}
	if f.Overflowed() != 20 {
		t.Errorf("Overflowed() = %d, want 20", f.Overflowed())
	}
	// The tail of the oversized line is dropped with its separator.
	lines := f.Feed("yyy\r\n" + `{"a":1}` + "\r\n")
	if len(lines) != 1 || lines[0] != `{"a":1}` {
		t.Fatalf("got %q, want only the next full line", lines)
	}
}

func TestFramer_MaxBufferSeparatorSplitAcrossDrop(t *testing.T) {
	f := NewFramer(WithMaxBuffer(4))
	if lines := f.Feed("xxxxx\r"); len(lines) != 0 {
		t.Fatalf("oversized chunk emitted %q", lines)
	}
	if f.Overflowed() != 5 {
		t.Errorf("Overflowed() = %d, want 5", f.Overflowed())
	}
	lines := f.Feed("\n" + `{"a":1}` + "\r\n")
	if len(lines) != 1 || lines[0] != `{"a":1}` {
		t.Fatalf("got %q, want the line after the oversized one", lines)
	}
}

func TestFramer_MaxBufferKeptCRNotASeparator(t *testing.T) {
	f := NewFramer(WithMaxBuffer(4))
	f.Feed("xxxxx\r")
	// The CR was data: the oversized line continues to the next CR LF.
	lines := f.Feed("yy\r\n" + `{"b":2}` + "\r\n")
	if len(lines) != 1 || lines[0] != `{"b":2}` {
		t.Fatalf("got %q, want only the next full line", lines)
	}
}

func TestFramer_MaxBufferDisabled(t *testing.T) {
	f := NewFramer(WithMaxBuffer(0))
	f.Feed(strings.Repeat("x", 2*DefaultMaxBuffer))
	if len(f.Buffered()) != 2*DefaultMaxBuffer {
		t.Fatalf("Buffered() len = %d", len(f.Buffered()))
	}
	if f.Overflowed() != 0 {
		t.Errorf("Overflowed() = %d, want 0", f.Overflowed())
	}
}

// --- Benchmarks ---

func BenchmarkFramerSmallChunks(b *testing.B) {
	stream := strings.Repeat(`{"pot": 42, "btn": 0, "temp": 21.5}`+"\r\n", 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := NewFramer()
		for j := 0; j < len(stream); j += 7 {
			end := j + 7
			if end > len(stream) {
				end = len(stream)
			}
			f.Feed(stream[j:end])
		}
	}
}
