package call

import "sync"

type EventType string

const (
	EventState     EventType = "state_changed"
	EventTick      EventType = "tick"
	EventLatency   EventType = "latency"
	EventCaption   EventType = "caption_added"
	EventSession   EventType = "session_changed"
	EventError     EventType = "error"
	EventNotice    EventType = "notice"
	EventSettings  EventType = "settings_changed"
	EventActivity  EventType = "activity"
	EventLevel     EventType = "level"
	eventBufferLen           = 64
)

type Event struct {
	Type     EventType
	Snapshot Snapshot
	Detail   string
	Kind     ErrorKind
	// Caption is the entry that was added or settled by an EventCaption.
	Caption  *Caption
}

// Subscription delivers controller events until Close. Events are dropped
// for a subscriber whose buffer is full.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	once  sync.Once
	unsub func(*Subscription)
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.unsub != nil {
			s.unsub(s)
		}
	})
}

type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func (h *hub) subscribe() *Subscription {
	ch := make(chan Event, eventBufferLen)
	s := &Subscription{C: ch, ch: ch}
	s.unsub = h.remove

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*Subscription]struct{})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}
