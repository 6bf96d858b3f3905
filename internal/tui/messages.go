package tui

import "github.com/ent0n29/campusvoice/internal/call"

// CallEventMsg wraps one controller event.
type CallEventMsg struct {
	Event call.Event
}

// EventsClosedMsg is sent when the controller subscription ends.
type EventsClosedMsg struct{}

// StartResultMsg carries the outcome of StartCall.
type StartResultMsg struct {
	Err error
}

// PTTStoppedMsg is sent once the push-to-talk segment has been finalized.
type PTTStoppedMsg struct{}

// DeviceSelectedMsg reports the input device chosen with the cycle key.
type DeviceSelectedMsg struct {
	Label string
}

// ClearNoticeMsg clears a transient notice after a timeout.
type ClearNoticeMsg struct {
	seq int
}
