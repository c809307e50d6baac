// Package forward republishes decoded records to a message broker.
package forward

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes every record as a JSON message. Status changes go
// to the same exchange under "<key>.status". Publish failures are logged
// and counted; they never stop the stream.
type AMQPSink struct {
	pub      Publisher
	exchange string
	key      string
	log      zerolog.Logger
	now      func() time.Time

	published atomic.Int64
	failures  atomic.Int64
	closers   []io.Closer
}

// NewAMQPSink creates a sink publishing through pub.
func NewAMQPSink(pub Publisher, exchange, key string, log zerolog.Logger) *AMQPSink {
	return &AMQPSink{
		pub:      pub,
		exchange: exchange,
		key:      key,
		log:      log,
		now:      time.Now,
	}
}

// DialAMQP connects to uri and returns a sink on a fresh channel. Close
// releases both.
func DialAMQP(uri, exchange, key string, log zerolog.Logger) (*AMQPSink, error) {
	log.Info().Str("exchange", exchange).Str("key", key).Msg("AMQP dialing")
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	go func() {
		if err := <-conn.NotifyClose(make(chan *amqp.Error, 1)); err != nil {
			log.Warn().Err(err).Msg("AMQP connection closed")
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	s := NewAMQPSink(ch, exchange, key, log)
	s.closers = []io.Closer{ch, conn}
	return s, nil
}

type statusMessage struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *AMQPSink) OnRecord(rec parser.Record) {
	s.publish(s.key, rec)
}

func (s *AMQPSink) OnStatus(status stream.Status, err error) {
	msg := statusMessage{Status: status.String()}
	if err != nil {
		msg.Error = err.Error()
	}
	s.publish(s.key+".status", msg)
}

func (s *AMQPSink) publish(key string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.failures.Add(1)
		s.log.Warn().Err(err).Msg("encoding message for AMQP")
		return
	}
	err = s.pub.Publish(s.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    s.now(),
		Body:         body,
	})
	if err != nil {
		s.failures.Add(1)
		s.log.Warn().Err(err).Str("key", key).Msg("AMQP publish failed")
		return
	}
	s.published.Add(1)
}

// Published returns how many messages were accepted by the broker client.
func (s *AMQPSink) Published() int64 { return s.published.Load() }

// Failures returns how many messages could not be published.
func (s *AMQPSink) Failures() int64 { return s.failures.Load() }

// Close closes the channel and connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
