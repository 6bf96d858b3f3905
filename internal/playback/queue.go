package playback

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrEmptyRef = errors.New("empty audio reference")

// Player renders one clip. Play blocks until the clip ends, fails, or ctx
// is cancelled.
type Player interface {
	Play(ctx context.Context, ref string) error
}

// Handle tracks one outstanding playback.
type Handle struct {
	ID  string
	Ref string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Stop cancels the playback. It is safe to call more than once.
func (h *Handle) Stop() { h.cancel() }

// Done is closed once the playback has ended for any reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the playback error after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		h.cancel()
		close(h.done)
	})
}

type Options struct {
	AutoPlay bool
	// RequireGesture holds clips until Unlock is called, the way browsers
	// hold autoplay until the first click or key press.
	RequireGesture bool
	OnPlayed       func(ref string, err error)
}

// Queue plays reply audio and keeps every in-flight handle so a call can
// stop them all at once.
type Queue struct {
	player Player
	onDone func(ref string, err error)

	mu       sync.Mutex
	active   map[*Handle]struct{}
	pending  []*Handle
	autoPlay bool
	unlocked bool
}

func NewQueue(player Player, opts Options) *Queue {
	return &Queue{
		player:   player,
		onDone:   opts.OnPlayed,
		active:   make(map[*Handle]struct{}),
		autoPlay: opts.AutoPlay,
		unlocked: !opts.RequireGesture,
	}
}

func (q *Queue) AutoPlay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.autoPlay
}

func (q *Queue) SetAutoPlay(enabled bool) {
	q.mu.Lock()
	q.autoPlay = enabled
	q.mu.Unlock()
}

// Enqueue starts playing ref and returns its handle. With auto-play off it
// does nothing and returns a nil handle.
func (q *Queue) Enqueue(ctx context.Context, ref string) (*Handle, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyRef
	}

	q.mu.Lock()
	if !q.autoPlay {
		q.mu.Unlock()
		return nil, nil
	}
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{ID: uuid.NewString(), Ref: ref, ctx: hctx, cancel: cancel, done: make(chan struct{})}
	if !q.unlocked {
		q.pending = append(q.pending, h)
		q.mu.Unlock()
		log.Printf("playback: clip queued until first user interaction")
		return h, nil
	}
	q.active[h] = struct{}{}
	q.mu.Unlock()

	go q.run(h)
	return h, nil
}

// Unlock records the first user gesture and starts any held clips.
func (q *Queue) Unlock() {
	q.mu.Lock()
	if q.unlocked {
		q.mu.Unlock()
		return
	}
	q.unlocked = true
	held := q.pending
	q.pending = nil
	for _, h := range held {
		q.active[h] = struct{}{}
	}
	q.mu.Unlock()

	for _, h := range held {
		go q.run(h)
	}
}

// Unlocked reports whether playback has been released by a user gesture.
func (q *Queue) Unlocked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unlocked
}

// Active counts playing and held clips.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active) + len(q.pending)
}

// StopAll cancels every tracked clip. Calling it with nothing tracked is fine.
func (q *Queue) StopAll() {
	q.mu.Lock()
	handles := make([]*Handle, 0, len(q.active)+len(q.pending))
	for h := range q.active {
		handles = append(handles, h)
	}
	handles = append(handles, q.pending...)
	q.active = make(map[*Handle]struct{})
	q.pending = nil
	q.mu.Unlock()

	for _, h := range handles {
		h.Stop()
		// Held clips never reach run, so finish them here.
		h.finish(context.Canceled)
	}
}

func (q *Queue) run(h *Handle) {
	if h.ctx.Err() != nil {
		q.remove(h)
		h.finish(h.ctx.Err())
		return
	}
	err := q.player.Play(h.ctx, h.Ref)
	if err != nil && h.ctx.Err() == nil {
		log.Printf("playback: %s dropped: %v", h.Ref, err)
	}
	q.remove(h)
	h.finish(err)
	if q.onDone != nil {
		q.onDone(h.Ref, err)
	}
}

func (q *Queue) remove(h *Handle) {
	q.mu.Lock()
	delete(q.active, h)
	q.mu.Unlock()
}
