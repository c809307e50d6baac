package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

const (
	// DefaultBufferSize is the default capacity for the chunks channel.
	DefaultBufferSize = 64
	// DefaultReadSize is the largest chunk read from the transport at once.
	DefaultReadSize = 4096
)

// Opener opens the underlying stream when a source starts. If the
// returned reader is also an io.Closer it is closed when the source
// stops, which releases the device and unblocks a pending read.
type Opener func(ctx context.Context) (io.Reader, error)

// ReaderOption configures a ReaderSource.
type ReaderOption func(*ReaderSource)

// WithBufferSize sets the capacity of the chunks channel.
func WithBufferSize(n int) ReaderOption {
	return func(s *ReaderSource) { s.bufSize = n }
}

// WithReadSize sets the read buffer size.
func WithReadSize(n int) ReaderOption {
	return func(s *ReaderSource) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// WithReader overrides the stream with r (useful for testing).
func WithReader(r io.Reader) ReaderOption {
	return func(s *ReaderSource) {
		s.open = func(context.Context) (io.Reader, error) { return r, nil }
	}
}

// WithName sets the name reported in chunks and errors.
func WithName(name string) ReaderOption {
	return func(s *ReaderSource) { s.name = name }
}

// ReaderSource reads raw bytes from a stream and emits them as text
// chunks exactly as they arrive. It backs stdin, TCP and serial
// transports:
//
//	arduino-cli monitor -p /dev/ttyACM0 | serialdash
//	serialdash -transport tcp -address ser2net.local:3333
type ReaderSource struct {
	open     Opener
	name     string
	chunks   chan Chunk
	errs     chan error
	bufSize  int
	readSize int

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewReaderSource creates a source reading from whatever open returns.
func NewReaderSource(open Opener, opts ...ReaderOption) *ReaderSource {
	s := &ReaderSource{
		open:     open,
		name:     "stream",
		bufSize:  DefaultBufferSize,
		readSize: DefaultReadSize,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.chunks = make(chan Chunk, s.bufSize)
	s.errs = make(chan error, 1)
	return s
}

// NewStdinSource creates a source reading standard input.
func NewStdinSource(opts ...ReaderOption) *ReaderSource {
	opts = append([]ReaderOption{WithReader(os.Stdin), WithName("stdin")}, opts...)
	return NewReaderSource(nil, opts...)
}

// NewTCPSource creates a source reading from a TCP endpoint, such as a
// ser2net bridge in raw mode.
func NewTCPSource(addr string, opts ...ReaderOption) *ReaderSource {
	open := func(ctx context.Context) (io.Reader, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	opts = append([]ReaderOption{WithName("tcp://" + addr)}, opts...)
	return NewReaderSource(open, opts...)
}

// IsPipe reports whether stdin appears to be a pipe (not a terminal).
func IsPipe() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}

// Name returns the source name.
func (s *ReaderSource) Name() string { return s.name }

// Chunks returns the channel of text chunks.
func (s *ReaderSource) Chunks() <-chan Chunk { return s.chunks }

// Errors returns the channel of errors.
func (s *ReaderSource) Errors() <-chan error { return s.errs }

type readResult struct {
	data []byte
	err  error
}

// Start opens the stream and emits chunks until EOF, a read error,
// Stop or ctx cancellation. EOF ends the stream cleanly.
func (s *ReaderSource) Start(ctx context.Context) error {
	s.started.Store(true)
	defer close(s.done)
	defer close(s.errs)
	defer close(s.chunks)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.open == nil {
		return fmt.Errorf("%s: no stream configured", s.name)
	}
	r, err := s.open(ctx)
	if err != nil {
		err = fmt.Errorf("opening %s: %w", s.name, err)
		s.sendError(err)
		return err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	reads := make(chan readResult)
	go s.readLoop(r, reads)

	dec := newTextDecoder()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-reads:
			if text := dec.decode(res.data); text != "" {
				if !s.emit(ctx, Chunk{Text: text, Source: s.name}) {
					return ctx.Err()
				}
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				err := fmt.Errorf("%s read error: %w", s.name, res.err)
				s.sendError(err)
				return err
			}
		}
	}
}

// readLoop performs the blocking reads so Start can react to
// cancellation while a read is pending.
func (s *ReaderSource) readLoop(r io.Reader, out chan<- readResult) {
	for {
		buf := make([]byte, s.readSize)
		n, err := r.Read(buf)
		select {
		case out <- readResult{data: buf[:n], err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// emit sends a chunk, blocking until the consumer takes it. Chunks are
// never dropped: losing one would splice two partial lines together.
func (s *ReaderSource) emit(ctx context.Context, c Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ReaderSource) sendError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Stop cancels reading and waits for Start to return.
func (s *ReaderSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.started.Load() {
		return nil
	}
	<-s.done
	return nil
}
