// Package stream runs the read loop that turns a source's chunks into
// records and hands them to sinks.
package stream

import (
	"github.com/clarabennett2626/serialdash/internal/parser"
)

// Status is the connection state reported to sinks.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Sink receives decoded records in arrival order. OnRecord is called
// synchronously from the read loop; the next chunk is not read until it
// returns. A record replaces whatever the sink held before.
type Sink interface {
	OnRecord(rec parser.Record)
}

// StatusSink is implemented by sinks that also track the connection.
// err is the transport error that ended the stream, if any.
type StatusSink interface {
	OnStatus(status Status, err error)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(rec parser.Record)

func (f SinkFunc) OnRecord(rec parser.Record) { f(rec) }

// Fanout dispatches to several sinks in order. They share each record
// and must treat it as read-only.
type Fanout []Sink

func (fo Fanout) OnRecord(rec parser.Record) {
	for _, s := range fo {
		s.OnRecord(rec)
	}
}

func (fo Fanout) OnStatus(status Status, err error) {
	for _, s := range fo {
		if ss, ok := s.(StatusSink); ok {
			ss.OnStatus(status, err)
		}
	}
}
