package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ent0n29/campusvoice/internal/call"
)

type fakeController struct {
	snap     call.Snapshot
	starts   int
	ends     int
	mutes    int
	pttStart int
	pttStop  int
	startErr error
}

func (f *fakeController) StartCall(context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.snap.State = call.StateConnecting
	return nil
}

func (f *fakeController) EndCall() bool {
	f.ends++
	f.snap.State = call.StateEnding
	return true
}

func (f *fakeController) ToggleMute() bool {
	f.mutes++
	f.snap.Muted = !f.snap.Muted
	return true
}

func (f *fakeController) StartPTT() bool {
	f.pttStart++
	f.snap.PTTActive = true
	return true
}

func (f *fakeController) StopPTT(context.Context) bool {
	f.pttStop++
	f.snap.PTTActive = false
	return true
}

func (f *fakeController) SetCaptions(enabled bool) { f.snap.CaptionsEnabled = enabled }
func (f *fakeController) SetAutoTTS(enabled bool)  { f.snap.AutoTTS = enabled }
func (f *fakeController) Snapshot() call.Snapshot  { return f.snap }

type fakeDevices struct {
	ids    []string
	labels map[string]string
	idx    int
}

func (d *fakeDevices) CycleInput() string {
	d.idx = (d.idx + 1) % len(d.ids)
	return d.ids[d.idx]
}

func (d *fakeDevices) SelectedInput() string       { return d.ids[d.idx] }
func (d *fakeDevices) InputLabel(id string) string { return d.labels[id] }

type countingGesture struct{ n int }

func (g *countingGesture) Unlock() { g.n++ }

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case KeyCtrlC:
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case KeyEnd:
		return tea.KeyMsg{Type: tea.KeyEsc}
	case KeySpace:
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, key string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(keyMsg(key))
	return next.(Model), cmd
}

func TestStartKeyRunsStartCommand(t *testing.T) {
	ctrl := &fakeController{}
	g := &countingGesture{}
	m := New(ctrl, nil, g, nil)

	m, cmd := press(t, m, KeyStart)
	if cmd == nil {
		t.Fatalf("start key returned no command")
	}
	msg := cmd()
	if _, ok := msg.(StartResultMsg); !ok {
		t.Fatalf("command produced %T, want StartResultMsg", msg)
	}
	if ctrl.starts != 1 {
		t.Fatalf("StartCall called %d times, want 1", ctrl.starts)
	}
	if g.n != 1 {
		t.Fatalf("Unlock called %d times, want 1", g.n)
	}

	next, _ := m.Update(msg)
	m = next.(Model)
	if m.snap.State != call.StateConnecting {
		t.Fatalf("state = %q, want connecting", m.snap.State)
	}

	// A second press while connecting is ignored.
	if _, cmd := press(t, m, KeyStart); cmd != nil {
		t.Fatalf("start key during active call returned a command")
	}
}

func TestStartFailureShowsNotice(t *testing.T) {
	ctrl := &fakeController{startErr: call.ErrCallActive}
	m := New(ctrl, nil, nil, nil)

	next, cmd := m.Update(StartResultMsg{Err: ctrl.StartCall(context.Background())})
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("expected notice clear command")
	}
	if !strings.Contains(m.View(), "Could not start call") {
		t.Fatalf("View() missing start failure notice")
	}
}

func TestSpaceTogglesPushToTalk(t *testing.T) {
	ctrl := &fakeController{snap: call.Snapshot{State: call.StateLive}}
	m := New(ctrl, nil, nil, nil)

	m, cmd := press(t, m, KeySpace)
	if cmd != nil || ctrl.pttStart != 1 || !m.snap.PTTActive {
		t.Fatalf("first space: pttStart=%d active=%v cmd=%v", ctrl.pttStart, m.snap.PTTActive, cmd)
	}

	m, cmd = press(t, m, KeySpace)
	if cmd == nil || !m.pttPending {
		t.Fatalf("second space should schedule StopPTT")
	}
	// Presses while the segment is finalizing are ignored.
	if _, again := press(t, m, KeySpace); again != nil {
		t.Fatalf("space while pending returned a command")
	}

	msg := cmd()
	if _, ok := msg.(PTTStoppedMsg); !ok {
		t.Fatalf("command produced %T, want PTTStoppedMsg", msg)
	}
	next, _ := m.Update(msg)
	m = next.(Model)
	if m.pttPending || m.snap.PTTActive || ctrl.pttStop != 1 {
		t.Fatalf("after stop: pending=%v active=%v stops=%d", m.pttPending, m.snap.PTTActive, ctrl.pttStop)
	}
}

func TestToggleKeys(t *testing.T) {
	ctrl := &fakeController{snap: call.Snapshot{State: call.StateLive, CaptionsEnabled: true, AutoTTS: true}}
	m := New(ctrl, nil, nil, nil)

	m, _ = press(t, m, KeyMute)
	m, _ = press(t, m, KeyCaptions)
	m, _ = press(t, m, KeyAutoTTS)

	if !m.snap.Muted || m.snap.CaptionsEnabled || m.snap.AutoTTS {
		t.Fatalf("snapshot after toggles = %+v", m.snap)
	}
	if !strings.Contains(m.View(), "Captions off") {
		t.Fatalf("View() should show captions off")
	}
}

func TestQuitEndsCall(t *testing.T) {
	ctrl := &fakeController{snap: call.Snapshot{State: call.StateLive}}
	g := &countingGesture{}
	m := New(ctrl, nil, g, nil)

	_, cmd := press(t, m, KeyQuit)
	if cmd == nil {
		t.Fatalf("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("quit command did not produce QuitMsg")
	}
	if ctrl.ends != 1 {
		t.Fatalf("EndCall called %d times, want 1", ctrl.ends)
	}
	if g.n != 0 {
		t.Fatalf("quit should not unlock playback")
	}
}

func TestCycleDeviceOnlyBetweenCalls(t *testing.T) {
	ctrl := &fakeController{}
	dev := &fakeDevices{
		ids:    []string{"pa:0", "pa:3"},
		labels: map[string]string{"pa:0": "Built-in Mic", "pa:3": "USB Headset"},
	}
	m := New(ctrl, dev, nil, nil)
	if m.deviceLabel != "Built-in Mic" {
		t.Fatalf("deviceLabel = %q", m.deviceLabel)
	}

	m, cmd := press(t, m, KeyCycleDevice)
	if cmd == nil {
		t.Fatalf("cycle returned no command")
	}
	next, _ := m.Update(cmd())
	m = next.(Model)
	if m.deviceLabel != "USB Headset" {
		t.Fatalf("deviceLabel = %q, want USB Headset", m.deviceLabel)
	}

	ctrl.snap.State = call.StateLive
	m.snap.State = call.StateLive
	m, _ = press(t, m, KeyCycleDevice)
	if dev.idx != 1 {
		t.Fatalf("device cycled during a live call")
	}
	if !strings.Contains(m.View(), "between calls") {
		t.Fatalf("View() missing device notice")
	}
}

func TestCallEventsUpdateView(t *testing.T) {
	events := make(chan call.Event, 1)
	ctrl := &fakeController{}
	m := New(ctrl, nil, nil, events)

	latency := 42 * time.Millisecond
	events <- call.Event{
		Type: call.EventCaption,
		Snapshot: call.Snapshot{
			State:           call.StateLive,
			Duration:        75 * time.Second,
			Latency:         &latency,
			CaptionsEnabled: true,
			Captions: []call.Caption{
				{Text: "where is the library", Sender: call.SenderUser, Timestamp: time.Now()},
			},
			History: []call.HistoryItem{
				{Text: "where is the library", Sender: call.SenderUser, Timestamp: time.Now()},
			},
		},
	}

	cmd := m.Init()
	if cmd == nil {
		t.Fatalf("Init() returned no command")
	}
	next, follow := m.Update(cmd())
	m = next.(Model)
	if follow == nil {
		t.Fatalf("event handling did not re-arm the subscription")
	}

	view := m.View()
	for _, want := range []string{"LIVE", "1:15", "42ms", "where is the library"} {
		if !strings.Contains(view, want) {
			t.Fatalf("View() missing %q", want)
		}
	}

	close(events)
	if msg := waitEventCmd(events)(); msg != (EventsClosedMsg{}) {
		t.Fatalf("closed channel produced %T", msg)
	}
}

func TestClearNoticeIgnoresStaleSeq(t *testing.T) {
	m := New(&fakeController{}, nil, nil, nil)
	m.setNotice("first")
	m.setNotice("second")

	next, _ := m.Update(ClearNoticeMsg{seq: 1})
	m = next.(Model)
	if m.notice != "second" {
		t.Fatalf("stale clear removed notice, got %q", m.notice)
	}
	next, _ = m.Update(ClearNoticeMsg{seq: 2})
	m = next.(Model)
	if m.notice != "" {
		t.Fatalf("notice = %q, want cleared", m.notice)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{9 * time.Second, "0:09"},
		{61 * time.Second, "1:01"},
		{10*time.Minute + 5*time.Second, "10:05"},
		{-time.Second, "0:00"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestLevelMeter(t *testing.T) {
	cases := []struct {
		level float64
		want  string
	}{
		{0, "░░░░"},
		{0.5, "██░░"},
		{1, "████"},
		{3, "████"},
		{-1, "░░░░"},
	}
	for _, tc := range cases {
		if got := levelMeter(tc.level, 4); got != tc.want {
			t.Fatalf("levelMeter(%v) = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestStatusShowsMeterWhileTalking(t *testing.T) {
	m := New(&fakeController{}, nil, nil, nil)
	m.snap = call.Snapshot{State: call.StateLive, PTTActive: true, Level: 1}
	full := strings.Repeat("█", meterCells)
	if !strings.Contains(m.View(), full) {
		t.Fatalf("View() missing level meter while talking")
	}

	m.snap.Muted = true
	if strings.Contains(m.View(), "█") {
		t.Fatalf("View() shows a level meter while muted")
	}
	m.snap.Muted = false
	m.snap.PTTActive = false
	if strings.Contains(m.View(), "█") {
		t.Fatalf("View() shows a level meter while not talking")
	}
}
