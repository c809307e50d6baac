// Package tui provides the terminal dashboard for serialdash.
package tui

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/clarabennett2626/serialdash/internal/dashboard"
	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
)

// TimestampFormat controls how the last-update time is displayed.
type TimestampFormat int

const (
	// TimestampRelative shows "2s ago", "3m ago", etc.
	TimestampRelative TimestampFormat = iota
	// TimestampISO shows ISO 8601 format.
	TimestampISO
	// TimestampLocal shows local time format.
	TimestampLocal
)

// Theme represents terminal color theme.
type Theme int

const (
	ThemeDark Theme = iota
	ThemeLight
)

// ParseTheme maps a config value to a Theme. Unknown names are dark.
func ParseTheme(name string) Theme {
	if strings.EqualFold(strings.TrimSpace(name), "light") {
		return ThemeLight
	}
	return ThemeDark
}

// Missing is shown for fields absent from the current record.
const Missing = "—"

// RenderConfig holds rendering configuration.
type RenderConfig struct {
	TimestampFormat TimestampFormat
	Theme           Theme
	TerminalWidth   int
	GaugeWidth      int
	Now             func() time.Time // for testing; defaults to time.Now
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() RenderConfig {
	return RenderConfig{
		TimestampFormat: TimestampRelative,
		Theme:           ThemeDark,
		TerminalWidth:   80,
		GaugeWidth:      30,
		Now:             time.Now,
	}
}

// Renderer renders records as dashboard widgets.
type Renderer struct {
	config RenderConfig
	styles themeStyles
}

type themeStyles struct {
	label      lipgloss.Style
	gaugeFill  lipgloss.Style
	gaugeEmpty lipgloss.Style
	ledOn      lipgloss.Style
	ledOff     lipgloss.Style
	alertOn    lipgloss.Style
	value      lipgloss.Style
	missing    lipgloss.Style
	timestamp  lipgloss.Style
	fieldKey   lipgloss.Style
	fieldVal   lipgloss.Style
	connected  lipgloss.Style
	connecting lipgloss.Style
	offline    lipgloss.Style
}

func darkStyles() themeStyles {
	return themeStyles{
		label:      lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Bold(true), // light blue
		gaugeFill:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),             // blue
		gaugeEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),            // dark gray
		ledOn:      lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),  // green
		ledOff:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		alertOn:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true), // red
		value:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),            // white
		missing:    lipgloss.NewStyle().Foreground(lipgloss.Color("243")),            // dim gray
		timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		fieldKey:   lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
		fieldVal:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")), // light gray
		connected:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		connecting: lipgloss.NewStyle().Foreground(lipgloss.Color("220")), // yellow
		offline:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func lightStyles() themeStyles {
	return themeStyles{
		label:      lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		gaugeFill:  lipgloss.NewStyle().Foreground(lipgloss.Color("27")),
		gaugeEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		ledOn:      lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
		ledOff:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		alertOn:    lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		value:      lipgloss.NewStyle().Foreground(lipgloss.Color("0")),
		missing:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		fieldKey:   lipgloss.NewStyle().Foreground(lipgloss.Color("25")),
		fieldVal:   lipgloss.NewStyle().Foreground(lipgloss.Color("237")),
		connected:  lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		connecting: lipgloss.NewStyle().Foreground(lipgloss.Color("172")),
		offline:    lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
	}
}

// NewRenderer creates a new Renderer with the given config.
func NewRenderer(config RenderConfig) *Renderer {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.TerminalWidth <= 0 {
		config.TerminalWidth = 80
	}
	if config.GaugeWidth <= 0 {
		config.GaugeWidth = 30
	}
	var styles themeStyles
	if config.Theme == ThemeLight {
		styles = lightStyles()
	} else {
		styles = darkStyles()
	}
	return &Renderer{config: config, styles: styles}
}

// Config returns the renderer's configuration.
func (r *Renderer) Config() RenderConfig { return r.config }

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// RenderRecord renders the widget panel for rec, one widget per line.
// A nil record renders every widget as missing.
func (r *Renderer) RenderRecord(rec parser.Record) []string {
	w := dashboard.WidgetsFor(rec)
	return []string{
		r.row("Pot", r.RenderGauge(deref(w.Pot), w.Pot != nil)),
		r.row("Button", r.RenderLED(deref(w.Button), w.Button != nil, r.styles.ledOn, "pressed", "released")),
		r.row("Alert", r.RenderLED(deref(w.Alert), w.Alert != nil, r.styles.alertOn,
			fmt.Sprintf("pot > %d", dashboard.AlertThreshold), "ok")),
		r.row("Temp", r.RenderTemp(deref(w.Temp), w.Temp != nil)),
		r.row("Other", r.RenderExtras(rec)),
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r *Renderer) row(label, widget string) string {
	return r.applyWidth(r.styles.label.Render(fmt.Sprintf("%-7s", label)) + " " + widget)
}

// RenderGauge renders the 0-100 analog reading as a bar with a percent.
// Readings outside the range are clamped for the bar only.
func (r *Renderer) RenderGauge(pot float64, ok bool) string {
	if !ok {
		return r.styles.missing.Render(Missing)
	}
	width := r.config.GaugeWidth
	filled := int(math.Round(clamp(pot, 0, 100) / 100 * float64(width)))
	bar := r.styles.gaugeFill.Render(strings.Repeat("█", filled)) +
		r.styles.gaugeEmpty.Render(strings.Repeat("░", width-filled))
	return bar + " " + r.styles.value.Render(fmt.Sprintf("%3.0f%%", pot))
}

// RenderLED renders an indicator: a lit dot with onText, a dim dot with
// offText, or the missing marker.
func (r *Renderer) RenderLED(on, ok bool, lit lipgloss.Style, onText, offText string) string {
	switch {
	case !ok:
		return r.styles.missing.Render(Missing)
	case on:
		return lit.Render("●") + " " + r.styles.value.Render(onText)
	default:
		return r.styles.ledOff.Render("○") + " " + r.styles.value.Render(offText)
	}
}

// RenderTemp renders the temperature with one decimal.
func (r *Renderer) RenderTemp(temp float64, ok bool) string {
	if !ok {
		return r.styles.missing.Render(Missing)
	}
	return r.styles.value.Render(fmt.Sprintf("%.1f °C", temp))
}

// RenderExtras renders fields beyond the device's known three.
func (r *Renderer) RenderExtras(rec parser.Record) string {
	var parts []string
	for _, k := range extraKeys(rec) {
		parts = append(parts, r.styles.fieldKey.Render(k)+"="+r.styles.fieldVal.Render(fieldText(rec, k)))
	}
	if len(parts) == 0 {
		return r.styles.missing.Render(Missing)
	}
	return strings.Join(parts, " ")
}

// RenderStatus renders the connection badge.
func (r *Renderer) RenderStatus(status stream.Status) string {
	switch status {
	case stream.StatusConnected:
		return r.styles.connected.Render("● " + status.String())
	case stream.StatusConnecting:
		return r.styles.connecting.Render("◌ " + status.String())
	default:
		return r.styles.offline.Render("○ " + status.String())
	}
}

// RenderUpdated renders the time of the last record.
func (r *Renderer) RenderUpdated(t time.Time) string {
	if t.IsZero() {
		return r.styles.missing.Render("never")
	}
	return r.styles.timestamp.Render(r.formatTimestamp(t))
}

// RenderRecordPlain renders rec as one unstyled key=value line, device
// fields first. Used when output is piped.
func RenderRecordPlain(rec parser.Record) string {
	keys := rec.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fieldText(rec, k))
	}
	return strings.Join(parts, " ")
}

func extraKeys(rec parser.Record) []string {
	var out []string
	for _, k := range rec.Keys() {
		switch k {
		case parser.FieldPot, parser.FieldButton, parser.FieldTemp:
			continue
		}
		out = append(out, k)
	}
	return out
}

// fieldText renders scalar fields directly and anything nested as a
// compact placeholder.
func fieldText(rec parser.Record, key string) string {
	if s, ok := rec.Text(key); ok {
		return StripANSI(s)
	}
	switch rec[key].(type) {
	case nil:
		return "null"
	case []any:
		return "[…]"
	default:
		return "{…}"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func (r *Renderer) formatTimestamp(t time.Time) string {
	switch r.config.TimestampFormat {
	case TimestampRelative:
		return relativeTime(t, r.config.Now())
	case TimestampISO:
		return t.Format(time.RFC3339)
	case TimestampLocal:
		return t.Format("15:04:05")
	default:
		return t.Format(time.RFC3339)
	}
}

func relativeTime(t time.Time, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = -d
		return formatDuration(d) + " from now"
	}
	if d < time.Second {
		return "just now"
	}
	return formatDuration(d) + " ago"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func (r *Renderer) applyWidth(line string) string {
	if utf8.RuneCountInString(StripANSI(line)) > r.config.TerminalWidth {
		return truncateToWidth(line, r.config.TerminalWidth-1) + "…"
	}
	return line
}

// truncateToWidth truncates a string with ANSI codes to fit a visible
// width, counting runes rather than bytes.
func truncateToWidth(s string, width int) string {
	visible := 0
	inEscape := false
	var result strings.Builder
	for _, c := range s {
		if c == '\x1b' {
			inEscape = true
			result.WriteRune(c)
			continue
		}
		if inEscape {
			result.WriteRune(c)
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				inEscape = false
			}
			continue
		}
		if visible >= width {
			break
		}
		result.WriteRune(c)
		visible++
	}
	return result.String()
}
