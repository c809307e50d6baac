package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func newMetrics(t *testing.T) (*Metrics, *parser.Decoder, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	dec := parser.NewDecoder()
	m, err := NewMetrics(reg, dec)
	assert.NilError(t, err)
	return m, dec, reg
}

func TestMetrics_DecoderCounters(t *testing.T) {
	_, dec, reg := newMetrics(t)
	dec.Decode(`{"pot":1}`)
	dec.Decode(`{"pot":}`)
	dec.Decode(`noise`)

	expected := `
# HELP serialdash_decoder_malformed_total Object-shaped lines that failed to parse.
# TYPE serialdash_decoder_malformed_total counter
serialdash_decoder_malformed_total 1
# HELP serialdash_decoder_records_total Records decoded and dispatched.
# TYPE serialdash_decoder_records_total counter
serialdash_decoder_records_total 1
# HELP serialdash_decoder_rejected_total Lines dropped by the object shape check.
# TYPE serialdash_decoder_rejected_total counter
serialdash_decoder_rejected_total 1
# HELP serialdash_decoder_lines_total Framed lines seen by the decoder.
# TYPE serialdash_decoder_lines_total counter
serialdash_decoder_lines_total 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"serialdash_decoder_lines_total", "serialdash_decoder_records_total",
		"serialdash_decoder_rejected_total", "serialdash_decoder_malformed_total")
	assert.NilError(t, err)
}

func TestMetrics_FieldGauges(t *testing.T) {
	m, _, _ := newMetrics(t)
	m.OnRecord(parser.Record{"pot": 42.0, "btn": true, "temp": "21.5", "name": "uno"})

	assert.Equal(t, testutil.ToFloat64(m.fields.WithLabelValues("pot")), 42.0)
	assert.Equal(t, testutil.ToFloat64(m.fields.WithLabelValues("btn")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.fields.WithLabelValues("temp")), 21.5)
	// Non-numeric fields are not exported.
	assert.Equal(t, testutil.CollectAndCount(m.fields), 3)
}

func TestMetrics_FieldGaugesReplacedPerRecord(t *testing.T) {
	m, _, reg := newMetrics(t)
	m.OnRecord(parser.Record{"pot": 5.0, "temp": 21.3})
	m.OnRecord(parser.Record{"pot": 7.0})

	expected := `
# HELP serialdash_record_value Latest value of each device field (pot, btn, temp).
# TYPE serialdash_record_value gauge
serialdash_record_value{field="pot"} 7
`
	assert.NilError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "serialdash_record_value"))

	m.OnRecord(parser.Record{"btn": 1.0, "temp": "n/a"})
	assert.Equal(t, testutil.CollectAndCount(m.fields), 1)
}

func TestMetrics_UnknownFieldsNotGauged(t *testing.T) {
	m, _, _ := newMetrics(t)
	m.OnRecord(parser.Record{"pot": 1.0, "adc0": 512.0, "adc1": 17.0, "uptime": 9000.0})
	assert.Equal(t, testutil.CollectAndCount(m.fields), 1)
}

func TestMetrics_Status(t *testing.T) {
	m, _, _ := newMetrics(t)
	m.OnStatus(stream.StatusConnecting, nil)
	assert.Equal(t, testutil.ToFloat64(m.connected), 0.0)

	m.OnStatus(stream.StatusConnected, nil)
	assert.Equal(t, testutil.ToFloat64(m.connected), 1.0)

	m.OnStatus(stream.StatusDisconnected, errors.New("unplugged"))
	assert.Equal(t, testutil.ToFloat64(m.connected), 0.0)
	assert.Equal(t, testutil.ToFloat64(m.disconnects.WithLabelValues("true")), 1.0)

	m.OnStatus(stream.StatusDisconnected, nil)
	assert.Equal(t, testutil.ToFloat64(m.disconnects.WithLabelValues("false")), 1.0)
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	dec := parser.NewDecoder()
	_, err := NewMetrics(reg, dec)
	assert.NilError(t, err)
	_, err = NewMetrics(reg, dec)
	assert.Assert(t, err != nil)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _, _ := newMetrics(t)
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware(m))
	r.GET("/api/record", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/api/record", "/nope"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/record", "200")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")), 1.0)
	assert.Assert(t, is.Contains(logs.String(), `"path":"/nope"`))
	assert.Assert(t, is.Contains(logs.String(), `"level":"warn"`))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARNING ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.raw)
		assert.Equal(t, got, tt.want, tt.raw)
		assert.Equal(t, ok, tt.ok, tt.raw)
	}
}

func TestInitLogger_Writer(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := InitLogger(LogConfig{App: "serialdash", Level: "warn", NoColor: true}, &buf)
	assert.NilError(t, err)
	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.Assert(t, !strings.Contains(buf.String(), "hidden"))
	assert.Assert(t, is.Contains(buf.String(), "shown"))
	assert.Assert(t, is.Contains(buf.String(), "app=serialdash"))
}

func TestInitLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serialdash.log")
	var stdout bytes.Buffer
	logger, closer, err := InitLogger(LogConfig{App: "serialdash", File: path}, &stdout)
	assert.NilError(t, err)

	logger.Info().Msg("to file")
	assert.NilError(t, closer.Close())

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(string(data), "to file"))
	assert.Equal(t, stdout.Len(), 0)
}

func TestInitLogger_BadFile(t *testing.T) {
	_, _, err := InitLogger(LogConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "opening log file")
}
