package observability

import (
	"strconv"
	"time"

	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "serialdash"

// Metrics exports decoder counters, the latest numeric readings and
// HTTP request stats. It is a stream sink: wire it into the fanout.
type Metrics struct {
	connected   prometheus.Gauge
	disconnects *prometheus.CounterVec
	fields      *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Decoder counters are read
// from dec at scrape time.
func NewMetrics(reg prometheus.Registerer, dec *parser.Decoder) (*Metrics, error) {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the device stream is connected.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Stream ends, by whether a transport error caused them.",
		}, []string{"error"}),
		fields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "value",
			Help:      "Latest value of each device field (pot, btn, temp).",
		}, []string{"field"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	collectors := []prometheus.Collector{
		m.connected, m.disconnects, m.fields, m.httpRequests, m.httpDuration,
		decoderCounter(dec, "lines_total", "Framed lines seen by the decoder.",
			func(s parser.Stats) int64 { return s.Lines }),
		decoderCounter(dec, "records_total", "Records decoded and dispatched.",
			func(s parser.Stats) int64 { return s.Records }),
		decoderCounter(dec, "rejected_total", "Lines dropped by the object shape check.",
			func(s parser.Stats) int64 { return s.Rejected }),
		decoderCounter(dec, "malformed_total", "Object-shaped lines that failed to parse.",
			func(s parser.Stats) int64 { return s.Malformed }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decoderCounter(dec *parser.Decoder, name, help string, pick func(parser.Stats) int64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(pick(dec.Stats())) })
}

// gaugedFields are the device fields exported as record gauges. Other
// keys stay out of the label set so firmware noise cannot grow it.
var gaugedFields = []string{parser.FieldPot, parser.FieldButton, parser.FieldTemp}

// OnRecord replaces the exported readings with rec's. A field the record
// does not carry, or carries as a non-number, has no series until a later
// record brings it back.
func (m *Metrics) OnRecord(rec parser.Record) {
	for _, k := range gaugedFields {
		if v, ok := rec.Number(k); ok {
			m.fields.WithLabelValues(k).Set(v)
		} else {
			m.fields.DeleteLabelValues(k)
		}
	}
}

func (m *Metrics) OnStatus(status stream.Status, err error) {
	switch status {
	case stream.StatusConnected:
		m.connected.Set(1)
	case stream.StatusDisconnected:
		m.connected.Set(0)
		m.disconnects.WithLabelValues(strconv.FormatBool(err != nil)).Inc()
	}
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
