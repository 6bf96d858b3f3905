package call

import (
	"errors"
	"slices"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
)

// Active reports whether a call occupies the controller in this state.
func (s State) Active() bool {
	return s == StateConnecting || s == StateLive || s == StateEnding
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

var (
	ErrCallActive = errors.New("a call is already in progress")
	ErrNotLive    = errors.New("call is not live")
	ErrClosed     = errors.New("call controller closed")
)

// ErrorKind classifies user-visible failures.
type ErrorKind string

const (
	KindPermission ErrorKind = "permission"
	KindDevice     ErrorKind = "device"
	KindTransport  ErrorKind = "transport"
	KindEmptyInput ErrorKind = "empty_input"
	KindCapture    ErrorKind = "capture"
)

const (
	CaptionLimit = 20
	HistoryLimit = 5
)

type Caption struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Partial   bool      `json:"partial,omitempty"`
}

const (
	captionPending       = "Processing..."
	captionUntranscribed = "Unable to transcribe"
	captionFailed        = "Failed to process audio"
)

type HistoryItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the call, safe to hand to renderers.
type Snapshot struct {
	SessionID       string         `json:"session_id"`
	State           State          `json:"state"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	Duration        time.Duration  `json:"-"`
	DurationSeconds int64          `json:"duration_seconds"`
	Latency         *time.Duration `json:"-"`
	LatencyMS       *int64         `json:"latency_ms"`
	Muted           bool           `json:"muted"`
	PTTActive       bool           `json:"ptt_active"`
	Recording       bool           `json:"recording"`
	Processing      bool           `json:"processing"`
	Level           float64        `json:"level"`
	CaptionsEnabled bool           `json:"captions_enabled"`
	AutoTTS         bool           `json:"auto_tts"`
	Captions        []Caption      `json:"captions"`
	History         []HistoryItem  `json:"history"`
	LastError       string         `json:"last_error,omitempty"`
}

// Log is an append-only list that keeps the newest limit entries.
// It is not safe for concurrent use.
type Log[T any] struct {
	items []T
	limit int
}

func NewLog[T any](limit int) *Log[T] {
	if limit <= 0 {
		limit = 1
	}
	return &Log[T]{items: make([]T, 0, limit), limit: limit}
}

func (l *Log[T]) Append(v T) {
	if len(l.items) == l.limit {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, v)
}

// Update applies fn to the first entry matching match. It reports false
// when nothing matched, for example after the entry was evicted.
func (l *Log[T]) Update(match func(T) bool, fn func(*T)) bool {
	i := slices.IndexFunc(l.items, match)
	if i < 0 {
		return false
	}
	fn(&l.items[i])
	return true
}

// InsertAfter places v right after the first entry matching match, or at the
// end when nothing matches. The oldest entry is evicted when the log is full.
func (l *Log[T]) InsertAfter(match func(T) bool, v T) {
	i := slices.IndexFunc(l.items, match)
	if i < 0 || i == len(l.items)-1 {
		l.Append(v)
		return
	}
	l.items = slices.Insert(l.items, i+1, v)
	if len(l.items) > l.limit {
		l.items = slices.Delete(l.items, 0, 1)
	}
}

func (l *Log[T]) DeleteFunc(del func(T) bool) {
	l.items = slices.DeleteFunc(l.items, del)
}

func (l *Log[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Log[T]) Len() int   { return len(l.items) }
func (l *Log[T]) Limit() int { return l.limit }

func (l *Log[T]) Reset() { l.items = l.items[:0] }
