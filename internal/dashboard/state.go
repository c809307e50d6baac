// Package dashboard holds the single current record shown by every
// display surface, along with the connection status.
package dashboard

import (
	"sync"
	"time"

	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
)

// Snapshot is a copy of the dashboard state at one instant.
type Snapshot struct {
	Record  parser.Record
	Status  stream.Status
	Err     error
	Updated time.Time
	Records int64
	Source  string
}

// HasRecord reports whether any record has arrived yet.
func (s Snapshot) HasRecord() bool { return s.Record != nil }

// State is the current-record cell. The stream reader is its only
// writer; any number of goroutines may read or subscribe.
type State struct {
	mu     sync.RWMutex
	snap   Snapshot
	now    func() time.Time
	subs   map[int]chan Snapshot
	nextID int
}

// NewState creates an empty, disconnected State for the named source.
func NewState(source string) *State {
	return &State{
		snap: Snapshot{Source: source, Status: stream.StatusDisconnected},
		now:  time.Now,
		subs: make(map[int]chan Snapshot),
	}
}

// OnRecord replaces the current record. Fields missing from rec are
// not carried over from the previous one.
func (s *State) OnRecord(rec parser.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Record = rec
	s.snap.Updated = s.now()
	s.snap.Records++
	s.broadcast()
}

// OnStatus records a connection change. The last record stays on
// display after a disconnect.
func (s *State) OnStatus(status stream.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Status = status
	s.snap.Err = err
	s.broadcast()
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Subscribe returns a channel that receives the state after every
// change, and a func to cancel the subscription. A subscriber that falls
// behind only sees the latest snapshot; intermediate ones are dropped so
// the read loop never waits on a display.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// broadcast must be called with mu held.
func (s *State) broadcast() {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snap:
		default:
		}
	}
}
