package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
)

var fixedNow = time.Date(2026, 2, 17, 20, 0, 0, 0, time.UTC)

func fixedTime() time.Time { return fixedNow }

func plainRenderer(opts ...func(*RenderConfig)) *Renderer {
	cfg := DefaultConfig()
	cfg.Now = fixedTime
	cfg.TerminalWidth = 200 // wide enough to avoid truncation
	cfg.GaugeWidth = 10
	for _, o := range opts {
		o(&cfg)
	}
	return NewRenderer(cfg)
}

func TestRenderGauge(t *testing.T) {
	r := plainRenderer()
	tests := []struct {
		pot  float64
		bar  string
		text string
	}{
		{0, "░░░░░░░░░░", "  0%"},
		{50, "█████░░░░░", " 50%"},
		{100, "██████████", "100%"},
		{62, "██████░░░░", " 62%"},
		// Out-of-range readings clamp the bar but show the real value.
		{130, "██████████", "130%"},
		{-5, "░░░░░░░░░░", " -5%"},
	}
	for _, tt := range tests {
		out := StripANSI(r.RenderGauge(tt.pot, true))
		if !strings.HasPrefix(out, tt.bar) || !strings.HasSuffix(out, tt.text) {
			t.Errorf("pot=%v: got %q, want bar %q and %q", tt.pot, out, tt.bar, tt.text)
		}
	}
	if out := StripANSI(r.RenderGauge(0, false)); out != Missing {
		t.Errorf("missing pot rendered %q", out)
	}
}

func TestRenderRecord_Widgets(t *testing.T) {
	r := plainRenderer()
	rows := r.RenderRecord(parser.Record{"pot": 85.0, "btn": 1.0, "temp": 21.26})
	if len(rows) != panelLines {
		t.Fatalf("got %d rows, want %d", len(rows), panelLines)
	}
	plain := make([]string, len(rows))
	for i, row := range rows {
		plain[i] = StripANSI(row)
	}
	if !strings.Contains(plain[0], " 85%") {
		t.Errorf("pot row = %q", plain[0])
	}
	if !strings.Contains(plain[1], "● pressed") {
		t.Errorf("button row = %q", plain[1])
	}
	if !strings.Contains(plain[2], "● pot > 80") {
		t.Errorf("alert row = %q", plain[2])
	}
	if !strings.Contains(plain[3], "21.3 °C") {
		t.Errorf("temp row = %q", plain[3])
	}
	if !strings.HasSuffix(plain[4], Missing) {
		t.Errorf("extras row = %q", plain[4])
	}
}

func TestRenderRecord_ButtonOnlyOneIsPressed(t *testing.T) {
	r := plainRenderer()
	for _, v := range []any{0.0, 2.0, "0"} {
		row := StripANSI(r.RenderRecord(parser.Record{"btn": v})[1])
		if !strings.Contains(row, "○ released") {
			t.Errorf("btn=%v: row = %q, want released", v, row)
		}
	}
	for _, v := range []any{1.0, true, "1"} {
		row := StripANSI(r.RenderRecord(parser.Record{"btn": v})[1])
		if !strings.Contains(row, "● pressed") {
			t.Errorf("btn=%v: row = %q, want pressed", v, row)
		}
	}
}

func TestRenderRecord_AlertThreshold(t *testing.T) {
	r := plainRenderer()
	if row := StripANSI(r.RenderRecord(parser.Record{"pot": 80.0})[2]); !strings.Contains(row, "○ ok") {
		t.Errorf("pot=80 should not alert: %q", row)
	}
	if row := StripANSI(r.RenderRecord(parser.Record{"pot": 80.5})[2]); !strings.Contains(row, "●") {
		t.Errorf("pot=80.5 should alert: %q", row)
	}
}

func TestRenderRecord_Missing(t *testing.T) {
	r := plainRenderer()
	for i, row := range r.RenderRecord(nil) {
		if !strings.HasSuffix(StripANSI(row), Missing) {
			t.Errorf("row %d = %q, want missing marker", i, StripANSI(row))
		}
	}
}

func TestRenderExtras(t *testing.T) {
	r := plainRenderer()
	rec := parser.Record{"pot": 1.0, "uptime": 12.0, "fw": "1.2.0", "cfg": map[string]any{}, "log": []any{1.0}, "z": nil}
	out := StripANSI(r.RenderExtras(rec))
	want := "cfg={…} fw=1.2.0 log=[…] uptime=12 z=null"
	if out != want {
		t.Errorf("RenderExtras = %q, want %q", out, want)
	}
}

func TestRenderRecordPlain(t *testing.T) {
	rec := parser.Record{"temp": 21.3, "extra": "\x1b[31mhot\x1b[0m", "pot": 5.0, "btn": 1.0}
	got := RenderRecordPlain(rec)
	want := "pot=5 btn=1 temp=21.3 extra=hot"
	if got != want {
		t.Errorf("RenderRecordPlain = %q, want %q", got, want)
	}
}

func TestRenderStatus(t *testing.T) {
	r := plainRenderer()
	tests := map[stream.Status]string{
		stream.StatusConnected:    "● connected",
		stream.StatusConnecting:   "◌ connecting",
		stream.StatusDisconnected: "○ disconnected",
	}
	for status, want := range tests {
		if got := StripANSI(r.RenderStatus(status)); got != want {
			t.Errorf("RenderStatus(%v) = %q, want %q", status, got, want)
		}
	}
}

func TestRenderUpdated_Relative(t *testing.T) {
	r := plainRenderer(func(c *RenderConfig) { c.TimestampFormat = TimestampRelative })
	tests := []struct {
		offset   time.Duration
		contains string
	}{
		{0, "just now"},
		{30 * time.Second, "30s ago"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2d ago"},
		{-10 * time.Second, "10s from now"},
	}
	for _, tt := range tests {
		out := StripANSI(r.RenderUpdated(fixedNow.Add(-tt.offset)))
		if out != tt.contains {
			t.Errorf("offset=%v: got %q, want %q", tt.offset, out, tt.contains)
		}
	}
	if out := StripANSI(r.RenderUpdated(time.Time{})); out != "never" {
		t.Errorf("zero time rendered %q", out)
	}
}

func TestRenderUpdated_Formats(t *testing.T) {
	ts := time.Date(2026, 2, 17, 15, 30, 45, 0, time.UTC)
	iso := plainRenderer(func(c *RenderConfig) { c.TimestampFormat = TimestampISO })
	if out := StripANSI(iso.RenderUpdated(ts)); out != "2026-02-17T15:30:45Z" {
		t.Errorf("ISO = %q", out)
	}
	local := plainRenderer(func(c *RenderConfig) { c.TimestampFormat = TimestampLocal })
	if out := StripANSI(local.RenderUpdated(ts)); out != "15:30:45" {
		t.Errorf("local = %q", out)
	}
}

func TestStripANSI(t *testing.T) {
	input := "\x1b[31mERROR\x1b[0m something failed"
	got := StripANSI(input)
	if got != "ERROR something failed" {
		t.Errorf("StripANSI=%q, want %q", got, "ERROR something failed")
	}
}

func TestTruncation(t *testing.T) {
	r := plainRenderer(func(c *RenderConfig) { c.TerminalWidth = 20 })
	rec := parser.Record{"note": "a very long firmware note that does not fit"}
	plain := StripANSI(r.RenderRecord(rec)[4])
	visible := len([]rune(plain))
	if visible > 20 {
		t.Errorf("expected truncated output <=20 runes, got %d: %q", visible, plain)
	}
	if !strings.HasSuffix(plain, "…") {
		t.Errorf("truncated output should end with ellipsis: %q", plain)
	}
}

func TestThemes(t *testing.T) {
	for _, theme := range []Theme{ThemeDark, ThemeLight} {
		r := NewRenderer(RenderConfig{Theme: theme, Now: fixedTime})
		out := StripANSI(r.RenderTemp(21.34, true))
		if out != "21.3 °C" {
			t.Errorf("theme %d: RenderTemp = %q", theme, out)
		}
	}
	if ParseTheme("Light") != ThemeLight || ParseTheme("dark") != ThemeDark || ParseTheme("") != ThemeDark {
		t.Error("ParseTheme")
	}
}

func TestNewRendererDefaults(t *testing.T) {
	r := NewRenderer(RenderConfig{})
	if r.config.Now == nil || r.config.TerminalWidth != 80 || r.config.GaugeWidth != 30 {
		t.Errorf("defaults not applied: %+v", r.config)
	}
}
