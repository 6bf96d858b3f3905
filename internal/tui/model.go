package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ent0n29/campusvoice/internal/call"

	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the call surface the screen drives.
type Controller interface {
	StartCall(ctx context.Context) error
	EndCall() bool
	ToggleMute() bool
	StartPTT() bool
	StopPTT(ctx context.Context) bool
	SetCaptions(enabled bool)
	SetAutoTTS(enabled bool)
	Snapshot() call.Snapshot
}

// DeviceCycler moves the input selection to the next device.
type DeviceCycler interface {
	CycleInput() string
	SelectedInput() string
	InputLabel(id string) string
}

// Gesture unlocks held playback on the first key press.
type Gesture interface {
	Unlock()
}

// Model is the root bubbletea model for the call screen.
type Model struct {
	ctrl    Controller
	devices DeviceCycler
	gesture Gesture
	events  <-chan call.Event

	snap        call.Snapshot
	deviceLabel string
	pttPending  bool

	notice    string
	noticeSeq int

	width  int
	height int
}

// New creates a Model. events is usually the channel of a controller
// subscription.
func New(ctrl Controller, devices DeviceCycler, gesture Gesture, events <-chan call.Event) Model {
	m := Model{
		ctrl:    ctrl,
		devices: devices,
		gesture: gesture,
		events:  events,
		snap:    ctrl.Snapshot(),
	}
	if devices != nil {
		m.deviceLabel = devices.InputLabel(devices.SelectedInput())
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return waitEventCmd(m.events)
}

func waitEventCmd(events <-chan call.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return CallEventMsg{Event: ev}
	}
}

func startCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return StartResultMsg{Err: ctrl.StartCall(context.Background())}
	}
}

func stopPTTCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.StopPTT(ctx)
		return PTTStoppedMsg{}
	}
}

func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{seq: seq}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case CallEventMsg:
		m.snap = msg.Event.Snapshot
		var cmd tea.Cmd
		if msg.Event.Type == call.EventNotice {
			cmd = m.setNotice(msg.Event.Detail)
		}
		return m, tea.Batch(cmd, waitEventCmd(m.events))

	case EventsClosedMsg:
		m.events = nil
		return m, nil

	case StartResultMsg:
		m.snap = m.ctrl.Snapshot()
		if msg.Err != nil {
			return m, m.setNotice("Could not start call: " + msg.Err.Error())
		}
		return m, nil

	case PTTStoppedMsg:
		m.pttPending = false
		m.snap = m.ctrl.Snapshot()
		return m, nil

	case DeviceSelectedMsg:
		m.deviceLabel = msg.Label
		return m, m.setNotice("Input: " + msg.Label)

	case ClearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) setNotice(text string) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	return clearNoticeCmd(m.noticeSeq)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.gesture != nil && key != KeyQuit && key != KeyCtrlC {
		m.gesture.Unlock()
	}

	switch key {
	case KeyQuit, KeyCtrlC:
		m.ctrl.EndCall()
		return m, tea.Quit

	case KeyStart:
		if m.snap.State.Active() {
			return m, nil
		}
		return m, startCmd(m.ctrl)

	case KeyEnd:
		m.ctrl.EndCall()
		m.pttPending = false

	case KeySpace, KeySpaceName:
		// Terminals report no key-up, so space toggles push-to-talk.
		if m.pttPending {
			return m, nil
		}
		if m.snap.PTTActive {
			m.pttPending = true
			return m, stopPTTCmd(m.ctrl)
		}
		m.ctrl.StartPTT()

	case KeyMute:
		m.ctrl.ToggleMute()

	case KeyCaptions:
		m.ctrl.SetCaptions(!m.snap.CaptionsEnabled)

	case KeyAutoTTS:
		m.ctrl.SetAutoTTS(!m.snap.AutoTTS)

	case KeyCycleDevice:
		if m.devices == nil {
			return m, nil
		}
		if m.snap.State.Active() {
			return m, m.setNotice("Switch input devices between calls")
		}
		label := m.devices.InputLabel(m.devices.CycleInput())
		return m, func() tea.Msg { return DeviceSelectedMsg{Label: label} }
	}

	m.snap = m.ctrl.Snapshot()
	return m, nil
}

// View renders the call screen.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Campus Helpdesk - Voice Call"))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(DividerStyle.Render(strings.Repeat("─", width)))
	b.WriteString("\n")

	if m.snap.CaptionsEnabled {
		b.WriteString(PanelTitleStyle.Render("Captions"))
		b.WriteString("\n")
		b.WriteString(m.renderCaptions(width))
	} else {
		b.WriteString(DimStyle.Render("Captions off"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(PanelTitleStyle.Render("Recent"))
	b.WriteString("\n")
	if len(m.snap.History) == 0 {
		b.WriteString(DimStyle.Render("  nothing yet"))
		b.WriteString("\n")
	}
	for _, h := range m.snap.History {
		b.WriteString("  ")
		b.WriteString(senderLabel(h.Sender))
		b.WriteString(" ")
		b.WriteString(truncate(h.Text, width-10))
		b.WriteString("\n")
	}

	if m.snap.LastError != "" {
		b.WriteString("\n")
		b.WriteString(ErrorTextStyle.Render("! " + m.snap.LastError))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(NoticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString(DividerStyle.Render(strings.Repeat("─", width)))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderStatus() string {
	parts := []string{stateBadge(m.snap.State)}
	if m.snap.State == call.StateLive {
		parts = append(parts, FormatDuration(m.snap.Duration))
	}
	parts = append(parts, "latency "+formatLatency(m.snap.Latency))
	if m.snap.Muted {
		parts = append(parts, MutedStyle.Render("muted"))
	}
	if m.snap.PTTActive {
		parts = append(parts, RecordingDotStyle.Render("● talking"))
		if !m.snap.Muted {
			parts = append(parts, MeterStyle.Render(levelMeter(m.snap.Level, meterCells)))
		}
	} else if m.pttPending || m.snap.Processing {
		parts = append(parts, StatusStyle.Render("sending..."))
	}
	if m.deviceLabel != "" {
		parts = append(parts, StatusStyle.Render("mic "+m.deviceLabel))
	}
	return strings.Join(parts, StatusStyle.Render("  │  "))
}

func (m Model) renderCaptions(width int) string {
	caps := m.snap.Captions
	if len(caps) == 0 {
		return DimStyle.Render("  waiting for speech") + "\n"
	}
	// Leave room for the header, history and footer.
	if limit := m.height - 16; limit > 0 && len(caps) > limit {
		caps = caps[len(caps)-limit:]
	}
	var b strings.Builder
	for _, c := range caps {
		b.WriteString("  ")
		b.WriteString(TimestampStyle.Render(c.Timestamp.Local().Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(senderLabel(c.Sender))
		b.WriteString(" ")
		text := lipgloss.NewStyle().Width(max(width-22, 20)).Render(c.Text)
		if c.Partial {
			text = DimStyle.Render(text)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"s", "start"},
		{"space", "talk"},
		{"m", "mute"},
		{"c", "captions"},
		{"t", "auto-speak " + onOff(m.snap.AutoTTS)},
		{"i", "input"},
		{"esc", "end"},
		{"q", "quit"},
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, FooterKeyStyle.Render(k.key)+" "+FooterDescStyle.Render(k.desc))
	}
	return strings.Join(out, "  ")
}

func stateBadge(s call.State) string {
	switch s {
	case call.StateLive:
		return LiveBadgeStyle.Render("● LIVE")
	case call.StateConnecting:
		return ConnectingBadgeStyle.Render("◌ connecting")
	case call.StateEnding:
		return ConnectingBadgeStyle.Render("◌ ending")
	case call.StateEnded:
		return IdleBadgeStyle.Render("○ call ended")
	default:
		return IdleBadgeStyle.Render("○ idle")
	}
}

func senderLabel(s call.Sender) string {
	if s == call.SenderUser {
		return UserLabelStyle.Render("you")
	}
	return BotLabelStyle.Render("bot")
}

// FormatDuration renders a call timer as m:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

const meterCells = 10

// levelMeter draws level, a value in [0,1], as a bar of cells.
func levelMeter(level float64, cells int) string {
	filled := int(math.Round(min(max(level, 0), 1) * float64(cells)))
	return strings.Repeat("█", filled) + strings.Repeat("░", cells-filled)
}

func formatLatency(l *time.Duration) string {
	if l == nil {
		return "--"
	}
	return fmt.Sprintf("%dms", l.Milliseconds())
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func truncate(s string, n int) string {
	if n <= 3 {
		n = 3
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
