package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/source"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Run on a Reader that has already run. A
// closed reader accepts no further chunks.
var ErrClosed = errors.New("stream reader closed")

// State is the read loop's position.
type State int32

const (
	StateIdle State = iota
	StateFraming
	StateDecoding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFraming:
		return "framing"
	case StateDecoding:
		return "decoding"
	default:
		return "closed"
	}
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger for dropped lines and stream lifecycle.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// WithDecoder shares a decoder, e.g. one whose stats feed metrics.
func WithDecoder(d *parser.Decoder) Option {
	return func(r *Reader) {
		if d != nil {
			r.decoder = d
		}
	}
}

// WithFramerOptions configures the framer created for each stream.
func WithFramerOptions(opts ...parser.FramerOption) Option {
	return func(r *Reader) { r.framerOpts = append(r.framerOpts, opts...) }
}

// Reader drives one source through framing and decoding into a sink.
// Chunks are processed strictly one at a time in arrival order by the
// goroutine calling Run; framer buffers are never shared.
type Reader struct {
	src        source.Source
	sink       Sink
	decoder    *parser.Decoder
	framerOpts []parser.FramerOption
	log        zerolog.Logger

	// One framer per chunk Source, so files tailed together never
	// interleave into each other's lines.
	framers   map[string]*parser.Framer
	connected bool

	state atomic.Int32
	ran   atomic.Bool
}

// NewReader creates a Reader for src dispatching to sink.
func NewReader(src source.Source, sink Sink, opts ...Option) *Reader {
	r := &Reader{
		src:     src,
		sink:    sink,
		decoder: parser.NewDecoder(),
		log:     zerolog.Nop(),
		framers: make(map[string]*parser.Framer),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current loop state.
func (r *Reader) State() State { return State(r.state.Load()) }

// Stats returns the decoder counters.
func (r *Reader) Stats() parser.Stats { return r.decoder.Stats() }

// Run starts the source and processes its chunks until the stream ends
// or ctx is cancelled. A clean end of stream or cancellation returns
// nil; a transport failure is returned wrapped. Either way the pending
// partial line is discarded, already dispatched records stay valid, and
// the sink is told the stream is disconnected.
func (r *Reader) Run(ctx context.Context) error {
	if !r.ran.CompareAndSwap(false, true) {
		return ErrClosed
	}

	r.notify(StatusConnecting, nil)
	r.log.Info().Str("source", r.src.Name()).Msg("connecting")

	errCh := make(chan error, 1)
	go func() { errCh <- r.src.Start(ctx) }()
	go r.logSourceErrors()

	for c := range r.src.Chunks() {
		if ctx.Err() != nil {
			// Cancelled: drain without dispatching anything further.
			continue
		}
		r.process(c)
	}
	return r.finish(ctx, <-errCh)
}

func (r *Reader) process(c source.Chunk) {
	if !r.connected {
		r.connected = true
		r.log.Info().Str("source", r.src.Name()).Msg("connected")
		r.notify(StatusConnected, nil)
	}

	r.state.Store(int32(StateFraming))
	f := r.framerFor(c.Source)
	overflowed := f.Overflowed()
	lines := f.Feed(c.Text)
	if n := f.Overflowed() - overflowed; n > 0 {
		r.log.Warn().Str("source", c.Source).Int("bytes", n).Msg("discarding oversized line without separator")
	}

	for _, line := range lines {
		r.state.Store(int32(StateDecoding))
		rec, err := r.decoder.Decode(line)
		switch {
		case err == nil:
			r.sink.OnRecord(rec)
		case errors.Is(err, parser.ErrNotObject):
			if strings.TrimSpace(line) != "" {
				r.log.Debug().Str("source", c.Source).Str("line", line).Msg("ignoring non-record line")
			}
		default:
			r.log.Warn().Err(err).Str("source", c.Source).Msg("dropping malformed record")
		}
	}
	r.state.Store(int32(StateIdle))
}

func (r *Reader) framerFor(name string) *parser.Framer {
	f, ok := r.framers[name]
	if !ok {
		f = parser.NewFramer(r.framerOpts...)
		r.framers[name] = f
	}
	return f
}

func (r *Reader) finish(ctx context.Context, err error) error {
	for name, f := range r.framers {
		if n := f.Reset(); n > 0 {
			r.log.Debug().Str("source", name).Int("bytes", n).Msg("discarding unterminated line")
		}
	}
	r.state.Store(int32(StateClosed))

	// Cancellation, ours or a Stop on the source, is a graceful end.
	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		err = nil
	}
	r.notify(StatusDisconnected, err)

	stats := r.decoder.Stats()
	ev := r.log.Info()
	if err != nil {
		ev = r.log.Error().Err(err)
	}
	ev.Str("source", r.src.Name()).
		Int64("records", stats.Records).
		Int64("malformed", stats.Malformed).
		Int64("rejected", stats.Rejected).
		Msg("disconnected")

	if err != nil {
		return fmt.Errorf("stream ended: %w", err)
	}
	return nil
}

func (r *Reader) notify(status Status, err error) {
	if ss, ok := r.sink.(StatusSink); ok {
		ss.OnStatus(status, err)
	}
}

func (r *Reader) logSourceErrors() {
	for err := range r.src.Errors() {
		r.log.Debug().Err(err).Str("source", r.src.Name()).Msg("source error")
	}
}
