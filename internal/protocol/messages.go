package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl  MessageType = "client_control"
	TypeSnapshot       MessageType = "snapshot"
	TypeStateChanged   MessageType = "state_changed"
	TypeCaptionAdded   MessageType = "caption_added"
	TypeSessionChanged MessageType = "session_changed"
	TypeNotice         MessageType = "notice"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions accepted from websocket clients.
const (
	ActionStart    = "start"
	ActionEnd      = "end"
	ActionMute     = "mute"
	ActionPTTStart = "ptt_start"
	ActionPTTStop  = "ptt_stop"
	ActionCaptions = "captions"
	ActionAutoTTS  = "auto_tts"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrUnknownAction   = errors.New("unknown control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	Enabled *bool       `json:"enabled,omitempty"`
	TSMs    int64       `json:"ts_ms,omitempty"`
}

// CallEvent carries one controller event to a websocket client. Snapshot is
// the controller snapshot at the time of the event.
type CallEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Detail    string      `json:"detail,omitempty"`
	Snapshot  any         `json:"snapshot,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStart, ActionEnd, ActionMute, ActionPTTStart, ActionPTTStop:
		case ActionCaptions, ActionAutoTTS:
			if msg.Enabled == nil {
				return nil, fmt.Errorf("client_control %s: missing enabled", msg.Action)
			}
		case "":
			return nil, errors.New("invalid client_control")
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
