package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileConfig holds configuration for a file source.
type FileConfig struct {
	// Patterns is a list of capture file paths or glob patterns.
	Patterns []string
	// TailLines is the number of lines to replay from the end on startup.
	// If 0 or negative, read from the beginning.
	TailLines int
	// Follow keeps tailing the files after reaching EOF, handling
	// truncation and rotation. Without it the source ends at EOF.
	Follow bool
}

// FileSource replays serial captures from one or more files, optionally
// following them as a logger (e.g. `cat /dev/ttyACM0 > capture.log`)
// keeps appending. Each file is its own stream: its chunks carry the
// file's path as Source.
type FileSource struct {
	config FileConfig
	chunks chan Chunk
	errs   chan error
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewFileSource creates a new file source from the given config.
func NewFileSource(cfg FileConfig) *FileSource {
	return &FileSource{
		config:  cfg,
		chunks:  make(chan Chunk, 256),
		errs:    make(chan error, 32),
		stopped: make(chan struct{}),
	}
}

func (fs *FileSource) Chunks() <-chan Chunk { return fs.chunks }
func (fs *FileSource) Errors() <-chan error { return fs.errs }

// Name returns the configured patterns.
func (fs *FileSource) Name() string {
	if len(fs.config.Patterns) == 1 {
		return fs.config.Patterns[0]
	}
	return fmt.Sprintf("%d files", len(fs.config.Patterns))
}

// Start resolves glob patterns and reads all matched files. It blocks
// until every file reached EOF (or, when following, until ctx is
// cancelled or Stop is called).
func (fs *FileSource) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	fs.mu.Lock()
	fs.cancel = cancel
	fs.mu.Unlock()
	defer close(fs.stopped)
	defer close(fs.errs)
	defer close(fs.chunks)
	defer cancel()

	paths, err := fs.resolvePatterns()
	if err != nil {
		return fmt.Errorf("resolving file patterns: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files matched patterns: %v", fs.config.Patterns)
	}

	var watcher *fsnotify.Watcher
	events := make(map[string]chan fsnotify.Event, len(paths))
	if fs.config.Follow {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer watcher.Close()

		// Watch the parent directories so rotation is seen too.
		dirs := map[string]struct{}{}
		for _, p := range paths {
			dirs[filepath.Dir(p)] = struct{}{}
			events[p] = make(chan fsnotify.Event, 16)
		}
		for d := range dirs {
			if err := watcher.Add(d); err != nil {
				fs.sendError(fmt.Errorf("watching directory %s: %w", d, err))
			}
		}
		go fs.dispatch(ctx, watcher, events)
	}

	for _, p := range paths {
		fs.wg.Add(1)
		go fs.readFile(ctx, p, events[p])
	}
	fs.wg.Wait()
	return ctx.Err()
}

// dispatch routes watcher events to the goroutine following each path.
// A follower that is busy misses the event and catches up on its next
// poll.
func (fs *FileSource) dispatch(ctx context.Context, w *fsnotify.Watcher, events map[string]chan fsnotify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			abs, _ := filepath.Abs(ev.Name)
			ch, ok := events[abs]
			if !ok {
				continue
			}
			select {
			case ch <- ev:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			fs.sendError(fmt.Errorf("watching files: %w", err))
		}
	}
}

// Stop cancels reading and waits for Start to return.
func (fs *FileSource) Stop() error {
	fs.mu.Lock()
	cancel := fs.cancel
	fs.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-fs.stopped
	return nil
}

// resolvePatterns expands glob patterns into unique absolute file paths.
func (fs *FileSource) resolvePatterns() ([]string, error) {
	seen := map[string]struct{}{}
	var result []string
	add := func(abs string) {
		if _, ok := seen[abs]; !ok {
			seen[abs] = struct{}{}
			result = append(result, abs)
		}
	}

	for _, pattern := range fs.config.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			// Treat as literal path.
			abs, err := filepath.Abs(pattern)
			if err != nil {
				return nil, err
			}
			if _, err := os.Stat(abs); err != nil {
				return nil, fmt.Errorf("file not found: %s", abs)
			}
			add(abs)
			continue
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, err
			}
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				add(abs)
			}
		}
	}
	return result, nil
}

// readFile replays a single file and, when events is non-nil, keeps
// following it.
func (fs *FileSource) readFile(ctx context.Context, path string, events <-chan fsnotify.Event) {
	defer fs.wg.Done()

	f, err := os.Open(path)
	if err != nil {
		fs.sendError(fmt.Errorf("opening %s: %w", path, err))
		return
	}
	t := &tailer{fs: fs, path: path, f: f, dec: newTextDecoder()}
	defer t.close()

	if fs.config.TailLines > 0 {
		if err := seekToLastN(f, fs.config.TailLines); err != nil {
			fs.sendError(fmt.Errorf("seeking in %s: %w", path, err))
		}
	}
	t.info, _ = f.Stat()
	if err := t.read(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fs.sendError(fmt.Errorf("initial read of %s: %w", path, err))
		}
		return
	}
	if events == nil {
		return
	}

	// Events can be missed; the ticker catches up regardless.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				err = t.rotate(ctx)
			} else if ev.Has(fsnotify.Write) {
				err = t.poll(ctx)
			}
		case <-ticker.C:
			err = t.poll(ctx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fs.sendError(err)
		}
	}
}

const (
	pollInterval  = time.Second
	reopenRetries = 5
	reopenDelay   = 100 * time.Millisecond
)

// tailer follows one open file across appends, truncation and rotation.
type tailer struct {
	fs     *FileSource
	path   string
	f      *os.File
	info   os.FileInfo
	dec    *textDecoder
	offset int64
}

func (t *tailer) close() {
	if t.f != nil {
		t.f.Close()
	}
}

// read emits everything from the current position to EOF.
func (t *tailer) read(ctx context.Context) error {
	off, err := t.fs.readChunks(ctx, t.f, t.path, t.dec)
	if err != nil {
		return err
	}
	t.offset = off
	return nil
}

// poll reads whatever was appended since the last read. A file that
// shrank was truncated and is read again from the top; a different file
// at path means it was rotated.
func (t *tailer) poll(ctx context.Context) error {
	stat, err := os.Stat(t.path)
	if err != nil || (t.info != nil && !os.SameFile(stat, t.info)) {
		return t.rotate(ctx)
	}
	if stat.Size() < t.offset {
		if _, err := t.f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek after truncation %s: %w", t.path, err)
		}
		t.offset = 0
		t.dec.reset()
	}
	return t.read(ctx)
}

// rotate switches to the file now at path, waiting briefly for it to
// appear. The new file is a new stream, so bytes held back from the old
// one are dropped.
func (t *tailer) rotate(ctx context.Context) error {
	for i := 0; i < reopenRetries; i++ {
		f, err := os.Open(t.path)
		if err == nil {
			info, err := f.Stat()
			if err == nil && t.info != nil && os.SameFile(info, t.info) {
				f.Close()
				return t.poll(ctx)
			}
			t.f.Close()
			t.f, t.info, t.offset = f, info, 0
			t.dec.reset()
			return t.read(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reopenDelay):
		}
	}
	return nil
}

// readChunks reads everything available from the current position,
// sends it as chunks, and returns the new offset.
func (fs *FileSource) readChunks(ctx context.Context, f *os.File, path string, dec *textDecoder) (int64, error) {
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if text := dec.decode(buf[:n]); text != "" {
				select {
				case fs.chunks <- Chunk{Text: text, Source: path}:
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	off, _ := f.Seek(0, io.SeekCurrent)
	return off, nil
}

// seekToLastN positions the file to read approximately the last n lines.
// It works by scanning backwards from the end.
func seekToLastN(f *os.File, n int) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size == 0 {
		return nil
	}

	// Read chunks from the end to find line ends.
	const chunkSize = 8192
	newlines := 0
	offset := size

	for offset > 0 && newlines <= n {
		readSize := int64(chunkSize)
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize

		buf := make([]byte, readSize)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return err
		}
		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				newlines++
				if newlines > n {
					offset += int64(i) + 1
					break
				}
			}
		}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return nil
}

func (fs *FileSource) sendError(err error) {
	select {
	case fs.errs <- err:
	default:
	}
}
