package parser

import "strings"

const (
	// DefaultSeparator terminates every record the device writes.
	DefaultSeparator = "\r\n"

	// DefaultMaxBuffer caps how much unterminated text a Framer holds
	// before it gives up on the current line (1 MB).
	DefaultMaxBuffer = 1024 * 1024
)

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithSeparator sets the record separator. An empty separator is ignored.
func WithSeparator(sep string) FramerOption {
	return func(f *Framer) {
		if sep != "" {
			f.sep = sep
		}
	}
}

// WithMaxBuffer sets the unterminated-line limit. Zero disables it.
func WithMaxBuffer(n int) FramerOption {
	return func(f *Framer) { f.max = n }
}

// Framer reassembles separator-terminated lines from arbitrarily split
// chunks of text. It is not safe for concurrent use; a single reader
// loop owns it.
type Framer struct {
	sep string
	max int

	// buf holds everything received after the last separator.
	buf string

	// skipping is set after an overflow: text is dropped up to and
	// including the next separator so the tail of the oversized line
	// is never emitted on its own.
	skipping   bool
	overflowed int
}

// NewFramer creates a Framer splitting on CR LF unless overridden.
func NewFramer(opts ...FramerOption) *Framer {
	f := &Framer{
		sep: DefaultSeparator,
		max: DefaultMaxBuffer,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Separator returns the configured record separator.
func (f *Framer) Separator() string { return f.sep }

// Feed appends chunk to the buffer and returns every line completed by
// it, in order, without separators. The trailing partial line is kept
// for the next call.
func (f *Framer) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}

	// Only the tail of the old buffer can combine with the new chunk
	// into a separator; everything before it was already searched.
	search := len(f.buf) - len(f.sep) + 1
	if search < 0 {
		search = 0
	}
	f.buf += chunk

	var lines []string
	from := 0
	for {
		i := strings.Index(f.buf[search:], f.sep)
		if i < 0 {
			break
		}
		end := search + i
		if f.skipping {
			f.skipping = false
		} else {
			lines = append(lines, f.buf[from:end])
		}
		from = end + len(f.sep)
		search = from
	}

	if from > 0 {
		f.buf = strings.Clone(f.buf[from:])
	}

	if f.max > 0 && len(f.buf) > f.max {
		// The tail may be the first half of the separator ending the
		// oversized line; keep it so the separator is still recognized.
		keep := sepPrefixSuffix(f.buf, f.sep)
		f.overflowed += len(f.buf) - keep
		f.buf = strings.Clone(f.buf[len(f.buf)-keep:])
		f.skipping = true
	}
	return lines
}

// sepPrefixSuffix returns the length of the longest suffix of s that is
// a proper prefix of sep.
func sepPrefixSuffix(s, sep string) int {
	for n := min(len(sep)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, sep[:n]) {
			return n
		}
	}
	return 0
}

// Buffered returns the retained partial line.
func (f *Framer) Buffered() string { return f.buf }

// Overflowed returns the number of bytes dropped by the buffer limit.
func (f *Framer) Overflowed() int { return f.overflowed }

// Reset discards the retained partial line, as happens at end of
// stream, and returns how many bytes were dropped. The partial line is
// never emitted.
func (f *Framer) Reset() int {
	n := len(f.buf)
	f.buf = ""
	f.skipping = false
	return n
}
