package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/campusvoice/internal/archive"
	"github.com/ent0n29/campusvoice/internal/audio"
	"github.com/ent0n29/campusvoice/internal/capture"
	"github.com/ent0n29/campusvoice/internal/observability"
	"github.com/ent0n29/campusvoice/internal/playback"
	"github.com/ent0n29/campusvoice/internal/policy"
	"github.com/ent0n29/campusvoice/internal/remote"
)

const callStartedCaption = "Call started - speak naturally or use push-to-talk"

// Recorder is the microphone side of a call.
type Recorder interface {
	Open(ctx context.Context, deviceID string) error
	Start() error
	Stop(ctx context.Context) (audio.Segment, bool, error)
	Discard()
	SetMuted(muted bool)
	Capturing() bool
	Level() float64
	Close() error
}

type Transport interface {
	SendVoice(ctx context.Context, seg audio.Segment, sessionID string) (remote.VoiceReply, error)
	Health(ctx context.Context) (time.Duration, error)
}

type Playback interface {
	Enqueue(ctx context.Context, ref string) (*playback.Handle, error)
	StopAll()
	AutoPlay() bool
	SetAutoPlay(enabled bool)
}

type Devices interface {
	RequestPermission(ctx context.Context) bool
	SelectedInput() string
}

// Archiver receives finished turns after redaction.
type Archiver interface {
	SaveTurn(ctx context.Context, record archive.TurnRecord) error
}

type Options struct {
	ConnectDelayMin time.Duration
	ConnectDelayMax time.Duration
	EndDelay        time.Duration
	TickInterval    time.Duration
	HealthInterval  time.Duration
	LevelInterval   time.Duration
	SendQueueSize   int
	Captions        bool

	Archive   Archiver
	Metrics   *observability.Metrics
	StudentID func() string
}

func (o Options) withDefaults() Options {
	if o.ConnectDelayMin <= 0 {
		o.ConnectDelayMin = 300 * time.Millisecond
	}
	if o.ConnectDelayMax < o.ConnectDelayMin {
		o.ConnectDelayMax = o.ConnectDelayMin + 500*time.Millisecond
	}
	if o.EndDelay <= 0 {
		o.EndDelay = time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Second
	}
	if o.LevelInterval <= 0 {
		o.LevelInterval = 100 * time.Millisecond
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 8
	}
	if o.StudentID == nil {
		o.StudentID = func() string { return "" }
	}
	return o
}

// segmentJob is one finalized push-to-talk segment waiting to be sent.
// captionID names its pending user caption, if one was shown.
type segmentJob struct {
	seg       audio.Segment
	captionID string
}

// Controller owns the lifecycle of one call at a time and coordinates the
// recorder, transport and playback queue.
type Controller struct {
	rec  Recorder
	tr   Transport
	pb   Playback
	dev  Devices
	opts Options

	events hub
	timers atomic.Int32
	wg     sync.WaitGroup
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	gen        uint64
	sessionID  string
	state      State
	startedAt  *time.Time
	duration   time.Duration
	latency    *time.Duration
	muted      bool
	ptt        bool
	stopping   bool
	queued     int
	captionsOn bool
	captions   *Log[Caption]
	history    *Log[HistoryItem]
	lastError  string
	cancel     context.CancelFunc
	jobs       chan segmentJob
}

func NewController(rec Recorder, tr Transport, pb Playback, dev Devices, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		rec:        rec,
		tr:         tr,
		pb:         pb,
		dev:        dev,
		opts:       opts,
		done:       make(chan struct{}),
		state:      StateIdle,
		captionsOn: opts.Captions,
		captions:   NewLog[Caption](CaptionLimit),
		history:    NewLog[HistoryItem](HistoryLimit),
	}
}

// Subscribe returns a stream of controller events.
func (c *Controller) Subscribe() *Subscription {
	return c.events.subscribe()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// RunningTimers counts the connect, duration, health, level and end-delay
// goroutines.
func (c *Controller) RunningTimers() int {
	return int(c.timers.Load())
}

// StartCall moves an idle or ended call to connecting, acquires the
// microphone and schedules the transition to live.
func (c *Controller) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Active() {
		c.mu.Unlock()
		return ErrCallActive
	}
	c.gen++
	gen := c.gen
	c.sessionID = "call-" + uuid.NewString()
	c.state = StateConnecting
	c.startedAt = nil
	c.duration = 0
	c.latency = nil
	c.muted = false
	c.ptt = false
	c.stopping = false
	c.queued = 0
	c.lastError = ""
	c.captions.Reset()
	sessionID := c.sessionID
	c.emitLocked(Event{Type: EventState})
	c.mu.Unlock()
	c.opts.Metrics.ObserveState(string(StateConnecting), true)
	log.Printf("call %s: connecting", sessionID)

	if !c.dev.RequestPermission(ctx) {
		err := fmt.Errorf("microphone access: %w", capture.ErrPermissionDenied)
		c.failConnect(gen, KindPermission, err)
		return err
	}
	if err := c.rec.Open(ctx, c.dev.SelectedInput()); err != nil {
		kind := KindDevice
		if errors.Is(err, capture.ErrPermissionDenied) {
			kind = KindPermission
		}
		c.failConnect(gen, kind, err)
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		ended := c.gen == gen
		c.mu.Unlock()
		if ended {
			// EndCall ran while the stream was opening.
			_ = c.rec.Close()
		}
		return ErrNotLive
	}
	callCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	delay := c.connectDelay()
	c.mu.Unlock()

	connectStarted := time.Now()
	c.goTimer(func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			c.goLive(callCtx, gen, time.Since(connectStarted))
		case <-callCtx.Done():
		}
	})
	return nil
}

// EndCall tears down a connecting or live call. It reports false when
// there was nothing to end.
func (c *Controller) EndCall() bool {
	c.mu.Lock()
	if c.state != StateConnecting && c.state != StateLive {
		c.mu.Unlock()
		return false
	}
	gen := c.gen
	c.state = StateEnding
	cancel := c.cancel
	c.cancel = nil
	jobs := c.jobs
	c.jobs = nil
	c.ptt = false
	c.stopping = false
	c.muted = false
	c.queued = 0
	c.captions.DeleteFunc(func(cp Caption) bool { return cp.Partial })
	sessionID := c.sessionID
	c.emitLocked(Event{Type: EventState})
	c.mu.Unlock()
	c.opts.Metrics.ObserveState(string(StateEnding), true)

	if cancel != nil {
		cancel()
	}
	c.rec.Discard()
	if err := c.rec.Close(); err != nil {
		log.Printf("call %s: release microphone: %v", sessionID, err)
	}
	c.pb.StopAll()
	if jobs != nil {
		close(jobs)
	}

	c.goTimer(func() {
		t := time.NewTimer(c.opts.EndDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-c.done:
		}
		c.mu.Lock()
		if c.gen != gen || c.state != StateEnding {
			c.mu.Unlock()
			return
		}
		c.state = StateEnded
		c.startedAt = nil
		c.duration = 0
		c.latency = nil
		c.emitLocked(Event{Type: EventState})
		c.mu.Unlock()
		c.opts.Metrics.ObserveState(string(StateEnded), false)
		log.Printf("call %s: ended", sessionID)
	})
	return true
}

// ToggleMute flips the mute flag of a live call. The recorder keeps
// running and writes silence while muted.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive {
		return false
	}
	c.muted = !c.muted
	c.rec.SetMuted(c.muted)
	c.emitLocked(Event{Type: EventSettings})
	return true
}

// StartPTT begins capturing a push-to-talk segment. Calling it while a
// segment is already being captured or finalized does nothing.
func (c *Controller) StartPTT() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive || c.ptt || c.stopping {
		return false
	}
	if err := c.rec.Start(); err != nil {
		c.failLocked(KindCapture, fmt.Errorf("start recording: %w", err))
		return false
	}
	c.ptt = true
	c.emitLocked(Event{Type: EventActivity})
	return true
}

// StopPTT finalizes the current segment and queues it for sending.
func (c *Controller) StopPTT(ctx context.Context) bool {
	c.mu.Lock()
	if c.state != StateLive || !c.ptt {
		c.mu.Unlock()
		return false
	}
	c.ptt = false
	c.stopping = true
	gen := c.gen
	c.emitLocked(Event{Type: EventActivity})
	c.mu.Unlock()

	seg, ok, err := c.rec.Stop(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateLive {
		return true
	}
	c.stopping = false
	switch {
	case err != nil:
		c.failLocked(KindCapture, fmt.Errorf("finalize recording: %w", err))
		return true
	case !ok:
		c.opts.Metrics.ObserveError(string(KindEmptyInput))
		c.emitLocked(Event{Type: EventNotice, Kind: KindEmptyInput, Detail: "No audio captured. Hold push-to-talk while speaking."})
		return true
	}

	job := segmentJob{seg: seg}
	if c.captionsOn {
		job.captionID = uuid.NewString()
	}
	select {
	case c.jobs <- job:
		c.queued++
		if job.captionID != "" {
			c.addCaptionLocked("", Caption{
				ID:        job.captionID,
				Text:      captionPending,
				Sender:    SenderUser,
				Timestamp: time.Now().UTC(),
				Partial:   true,
			})
		}
		c.emitLocked(Event{Type: EventActivity})
	default:
		c.failLocked(KindTransport, errors.New("still sending earlier speech, try again in a moment"))
	}
	return true
}

func (c *Controller) SetCaptions(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captionsOn == enabled {
		return
	}
	c.captionsOn = enabled
	c.emitLocked(Event{Type: EventSettings})
}

func (c *Controller) SetAutoTTS(enabled bool) {
	c.pb.SetAutoPlay(enabled)
	c.mu.Lock()
	c.emitLocked(Event{Type: EventSettings})
	c.mu.Unlock()
}

// Close ends any active call, waits for call goroutines and releases all
// subscriptions.
func (c *Controller) Close() {
	c.EndCall()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	c.events.closeAll()
}

func (c *Controller) goLive(ctx context.Context, gen uint64, connectTook time.Duration) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	c.startedAt = &now
	c.duration = 0
	c.state = StateLive
	c.jobs = make(chan segmentJob, c.opts.SendQueueSize)
	jobs := c.jobs
	if c.captionsOn {
		c.captions.Append(Caption{ID: uuid.NewString(), Text: callStartedCaption, Sender: SenderBot, Timestamp: now})
	}
	sessionID := c.sessionID
	c.emitLocked(Event{Type: EventState})
	c.mu.Unlock()

	c.opts.Metrics.ObserveState(string(StateLive), true)
	c.opts.Metrics.ObserveConnect(connectTook)
	log.Printf("call %s: live", sessionID)

	c.goTimer(func() { c.tickLoop(ctx, gen) })
	c.goTimer(func() { c.healthLoop(ctx, gen) })
	c.goTimer(func() { c.levelLoop(ctx, gen) })
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sendLoop(gen, jobs)
	}()
}

func (c *Controller) failConnect(gen uint64, kind ErrorKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateConnecting {
		return
	}
	c.state = StateIdle
	c.failLocked(kind, err)
	c.emitLocked(Event{Type: EventState})
	c.opts.Metrics.ObserveState(string(StateIdle), false)
	log.Printf("call %s: connect failed: %v", c.sessionID, err)
}

func (c *Controller) tickLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.gen != gen || c.state != StateLive {
				c.mu.Unlock()
				return
			}
			c.duration += c.opts.TickInterval
			c.emitLocked(Event{Type: EventTick})
			c.mu.Unlock()
		}
	}
}

func (c *Controller) healthLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()
	for {
		c.probe(ctx, gen)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe records the health round trip, or nil latency on any failure.
func (c *Controller) probe(ctx context.Context, gen uint64) {
	pctx, cancel := context.WithTimeout(ctx, c.opts.HealthInterval)
	rtt, err := c.tr.Health(pctx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateLive {
		return
	}
	if err != nil {
		c.latency = nil
	} else {
		c.latency = &rtt
	}
	c.opts.Metrics.ObserveHealth(rtt, err == nil)
	c.emitLocked(Event{Type: EventLatency})
}

// levelLoop publishes the microphone level while it changes. The recorder
// reports zero unless a segment is being captured unmuted.
func (c *Controller) levelLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.LevelInterval)
	defer ticker.Stop()
	var last float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		if c.gen != gen || c.state != StateLive {
			c.mu.Unlock()
			return
		}
		if level := c.rec.Level(); level != last {
			last = level
			c.emitLocked(Event{Type: EventLevel})
		}
		c.mu.Unlock()
	}
}

func (c *Controller) sendLoop(gen uint64, jobs <-chan segmentJob) {
	for job := range jobs {
		c.send(gen, job)
	}
}

// send runs one round trip. The request is never cancelled when the call
// ends; its result is dropped instead.
func (c *Controller) send(gen uint64, job segmentJob) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateLive {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	started := time.Now()
	reply, err := c.tr.SendVoice(context.Background(), job.seg, sessionID)
	took := time.Since(started)

	c.mu.Lock()
	if c.gen != gen || c.state != StateLive {
		c.mu.Unlock()
		c.opts.Metrics.ObserveSegment("stale", took)
		log.Printf("call %s: dropping reply that arrived after the call ended", sessionID)
		return
	}
	if c.queued > 0 {
		c.queued--
	}
	if err != nil {
		c.settleCaptionLocked(job.captionID, captionFailed)
		c.failLocked(KindTransport, fmt.Errorf("send voice: %w", err))
		c.emitLocked(Event{Type: EventActivity})
		c.mu.Unlock()
		c.opts.Metrics.ObserveSegment("error", took)
		log.Printf("call %s: send failed: %v", sessionID, err)
		return
	}

	if id := strings.TrimSpace(reply.SessionID); id != "" && id != c.sessionID {
		c.sessionID = id
		c.emitLocked(Event{Type: EventSession, Detail: id})
		log.Printf("call %s: server assigned session %s", sessionID, id)
	}
	c.lastError = ""

	now := time.Now().UTC()
	var turns []archive.TurnRecord
	transcript := strings.TrimSpace(reply.Transcript)
	text := strings.TrimSpace(reply.Text)
	if transcript != "" {
		if !c.settleCaptionLocked(job.captionID, transcript) {
			c.addCaptionLocked("", Caption{ID: uuid.NewString(), Text: transcript, Sender: SenderUser, Timestamp: now})
		}
		c.history.Append(HistoryItem{ID: uuid.NewString(), Text: transcript, Sender: SenderUser, Timestamp: now})
		turns = append(turns, archive.TurnRecord{Role: archive.RoleStudent, Content: transcript, CreatedAt: now})
	} else {
		c.settleCaptionLocked(job.captionID, captionUntranscribed)
	}
	if text != "" {
		c.addCaptionLocked(job.captionID, Caption{ID: uuid.NewString(), Text: text, Sender: SenderBot, Timestamp: now})
		c.history.Append(HistoryItem{ID: uuid.NewString(), Text: text, Sender: SenderBot, Timestamp: now})
		turns = append(turns, archive.TurnRecord{Role: archive.RoleBot, Content: text, CreatedAt: now.Add(time.Microsecond)})
	}
	if transcript == "" && text == "" {
		c.emitLocked(Event{Type: EventNotice, Kind: KindEmptyInput, Detail: "Sorry, I didn't catch that."})
	}
	c.emitLocked(Event{Type: EventActivity})
	sessionID = c.sessionID
	c.mu.Unlock()

	c.opts.Metrics.ObserveSegment("ok", took)

	if ref := reply.AudioURL; ref != "" && c.pb.AutoPlay() {
		if _, err := c.pb.Enqueue(context.Background(), ref); err != nil {
			log.Printf("call %s: queue reply audio: %v", sessionID, err)
		}
	}
	c.archive(sessionID, turns)
}

func (c *Controller) archive(sessionID string, turns []archive.TurnRecord) {
	if c.opts.Archive == nil || len(turns) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	student := c.opts.StudentID()
	for _, t := range turns {
		t.SessionID = sessionID
		t.StudentID = student
		t.Content, t.PIIRedacted = policy.RedactPII(t.Content)
		if err := c.opts.Archive.SaveTurn(ctx, t); err != nil {
			log.Printf("call %s: archive turn: %v", sessionID, err)
			return
		}
	}
}

// addCaptionLocked shows cp when captions are on. A reply lands right after
// the caption named by after so each answer stays next to its question.
func (c *Controller) addCaptionLocked(after string, cp Caption) {
	if !c.captionsOn {
		return
	}
	if after == "" {
		c.captions.Append(cp)
	} else {
		c.captions.InsertAfter(func(x Caption) bool { return x.ID == after }, cp)
	}
	c.emitLocked(Event{Type: EventCaption, Detail: cp.Text, Caption: &cp})
}

// settleCaptionLocked replaces the pending text of caption id with its final
// text. It reports false when there is no such caption.
func (c *Controller) settleCaptionLocked(id, text string) bool {
	if id == "" {
		return false
	}
	var settled Caption
	ok := c.captions.Update(func(x Caption) bool { return x.ID == id }, func(x *Caption) {
		x.Text = text
		x.Partial = false
		settled = *x
	})
	if ok {
		c.emitLocked(Event{Type: EventCaption, Detail: text, Caption: &settled})
	}
	return ok
}

// failLocked records a user-visible error and emits exactly one error event.
func (c *Controller) failLocked(kind ErrorKind, err error) {
	c.lastError = err.Error()
	c.opts.Metrics.ObserveError(string(kind))
	c.emitLocked(Event{Type: EventError, Kind: kind, Detail: c.lastError})
}

func (c *Controller) emitLocked(ev Event) {
	ev.Snapshot = c.snapshotLocked()
	c.events.publish(ev)
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:       c.sessionID,
		State:           c.state,
		Duration:        c.duration,
		DurationSeconds: int64(c.duration / time.Second),
		Muted:           c.muted,
		PTTActive:       c.ptt,
		Recording:       c.rec.Capturing(),
		Processing:      c.queued > 0,
		Level:           c.rec.Level(),
		CaptionsEnabled: c.captionsOn,
		AutoTTS:         c.pb.AutoPlay(),
		Captions:        c.captions.Items(),
		History:         c.history.Items(),
		LastError:       c.lastError,
	}
	if c.startedAt != nil {
		t := *c.startedAt
		snap.StartedAt = &t
	}
	if c.latency != nil {
		l := *c.latency
		ms := l.Milliseconds()
		snap.Latency = &l
		snap.LatencyMS = &ms
	}
	return snap
}

func (c *Controller) connectDelay() time.Duration {
	span := c.opts.ConnectDelayMax - c.opts.ConnectDelayMin
	if span <= 0 {
		return c.opts.ConnectDelayMin
	}
	return c.opts.ConnectDelayMin + time.Duration(rand.Int63n(int64(span)+1))
}

func (c *Controller) goTimer(fn func()) {
	c.timers.Add(1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.timers.Add(-1)
		fn()
	}()
}
