package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/stream"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Background(lipgloss.Color("#333333")).
			Bold(true).
			Padding(0, 1)
)

// panelLines is the number of widget rows RenderRecord produces.
const panelLines = 5

// maxEvents bounds the event log.
const maxEvents = 500

// RecordMsg carries a new current record into the TUI.
type RecordMsg struct {
	Record parser.Record
	At     time.Time
}

// StatusMsg carries a connection change into the TUI.
type StatusMsg struct {
	Status stream.Status
	Err    error
}

// ErrMsg carries a stream error into the TUI.
type ErrMsg struct {
	Err error
}

// Model is the dashboard TUI model. The top panel shows the current
// record; below it a scrollable log lists connection events.
type Model struct {
	width  int
	height int
	ready  bool

	renderer *Renderer

	record  parser.Record
	status  stream.Status
	updated time.Time
	records int64

	// Event log with virtual scrolling.
	events     []string
	offset     int  // index of the first visible event
	autoScroll bool // stick to bottom when new events arrive

	sourceName string
}

// NewModel creates a dashboard model for the named source.
func NewModel(sourceName string, cfg RenderConfig) Model {
	return Model{
		renderer:   NewRenderer(cfg),
		autoScroll: true,
		sourceName: sourceName,
	}
}

// viewHeight returns the number of lines available for the event log
// (title, panel, log header and status bar are fixed).
func (m Model) viewHeight() int {
	h := m.height - panelLines - 3
	if h < 1 {
		return 1
	}
	return h
}

// maxOffset returns the maximum valid scroll offset.
func (m Model) maxOffset() int {
	max := len(m.events) - m.viewHeight()
	if max < 0 {
		return 0
	}
	return max
}

// clampOffset ensures offset is within valid bounds.
func (m *Model) clampOffset() {
	if m.offset < 0 {
		m.offset = 0
	}
	if max := m.maxOffset(); m.offset > max {
		m.offset = max
	}
}

// isAtBottom returns true if the viewport is scrolled to the bottom.
func (m Model) isAtBottom() bool {
	return m.offset >= m.maxOffset()
}

func (m *Model) addEvent(text string) {
	stamp := m.renderer.config.Now().Format("15:04:05")
	m.events = append(m.events, stamp+"  "+text)
	if over := len(m.events) - maxEvents; over > 0 {
		m.events = m.events[over:]
		if !m.autoScroll {
			m.offset -= over
		}
	}
	if m.autoScroll {
		m.offset = m.maxOffset()
	}
	m.clampOffset()
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "t":
			cfg := m.renderer.config
			if cfg.Theme == ThemeDark {
				cfg.Theme = ThemeLight
			} else {
				cfg.Theme = ThemeDark
			}
			m.renderer = NewRenderer(cfg)
		case "j", "down":
			m.autoScroll = false
			m.offset++
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "k", "up":
			m.autoScroll = false
			m.offset--
			m.clampOffset()
		case "g", "home":
			m.autoScroll = false
			m.offset = 0
		case "G", "end":
			m.offset = m.maxOffset()
			m.autoScroll = true
		case "pgdown", "f", "ctrl+f":
			m.autoScroll = false
			m.offset += m.viewHeight()
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "pgup", "b", "ctrl+b":
			m.autoScroll = false
			m.offset -= m.viewHeight()
			m.clampOffset()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.renderer.config.TerminalWidth = msg.Width
		if m.autoScroll {
			m.offset = m.maxOffset()
		}
		m.clampOffset()

	case RecordMsg:
		m.record = msg.Record
		m.updated = msg.At
		m.records++

	case StatusMsg:
		m.status = msg.Status
		text := msg.Status.String()
		if msg.Err != nil {
			text += ": " + msg.Err.Error()
		}
		m.addEvent(text)

	case ErrMsg:
		m.addEvent(fmt.Sprintf("ERROR: %v", msg.Err))
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("serialdash"))
	b.WriteByte(' ')
	b.WriteString(m.renderer.RenderStatus(m.status))
	b.WriteByte('\n')

	for _, line := range m.renderer.RenderRecord(m.record) {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString(sectionStyle.Render("Events"))
	b.WriteByte('\n')

	// Only the visible slice of the event log is rendered.
	vh := m.viewHeight()
	if len(m.events) == 0 {
		b.WriteString("  Waiting for device...")
		b.WriteByte('\n')
		for i := 1; i < vh; i++ {
			b.WriteByte('\n')
		}
	} else {
		start := m.offset
		if start < 0 {
			start = 0
		}
		end := start + vh
		if end > len(m.events) {
			end = len(m.events)
		}
		rendered := 0
		for i := start; i < end; i++ {
			b.WriteString(m.renderer.applyWidth(m.events[i]))
			b.WriteByte('\n')
			rendered++
		}
		for i := rendered; i < vh; i++ {
			b.WriteByte('\n')
		}
	}

	src := m.sourceName
	if src == "" {
		src = "stdin"
	}

	left := statusKeyStyle.Render("Records:") + statusBarStyle.Render(fmt.Sprintf(" %d ", m.records))
	srcInfo := statusKeyStyle.Render("Src:") + statusBarStyle.Render(fmt.Sprintf(" %s ", src))
	right := statusKeyStyle.Render("Updated:") + statusBarStyle.Render(" "+StripANSI(m.renderer.RenderUpdated(m.updated))+" ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - lipgloss.Width(srcInfo)
	if gap < 0 {
		gap = 0
	}
	statusLine := left + srcInfo + strings.Repeat(" ", gap) + right
	b.WriteString(statusBarStyle.Render(statusLine))

	return b.String()
}

// Sender is the part of *tea.Program a ProgramSink needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramSink forwards records and status changes into a running
// program. Send blocks until the program's event loop accepts the
// message, so the stream stays in step with the display.
type ProgramSink struct {
	prog Sender
	now  func() time.Time
}

// NewProgramSink wires a stream to prog. A *tea.Program satisfies prog.
func NewProgramSink(prog Sender) *ProgramSink {
	return &ProgramSink{prog: prog, now: time.Now}
}

func (s *ProgramSink) OnRecord(rec parser.Record) {
	s.prog.Send(RecordMsg{Record: rec, At: s.now()})
}

func (s *ProgramSink) OnStatus(status stream.Status, err error) {
	s.prog.Send(StatusMsg{Status: status, Err: err})
}
