package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"github.com/ent0n29/campusvoice/internal/audio"
)

// maxConsecutiveReadErrors bounds how long the capture loop spins on a
// broken stream before giving up.
const maxConsecutiveReadErrors = 50

// Recorder owns the microphone stream for one call and cuts it into
// push-to-talk segments.
type Recorder struct {
	opener Opener
	format audio.Format

	mu        sync.Mutex
	src       Source
	loopDone  chan struct{}
	capturing bool
	muted     bool
	chunks    [][]byte
	flushCh   chan struct{}
	closing   bool
	level     float64
}

func NewRecorder(opener Opener, format audio.Format) *Recorder {
	if format.SampleRate <= 0 {
		format.SampleRate = audio.DefaultSampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &Recorder{opener: opener, format: format}
}

// Open acquires the input stream. Device selection is advisory: if the
// requested device cannot be opened the platform default is used instead.
// Opening an already open recorder is a no-op.
func (r *Recorder) Open(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	if r.src != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	src, err := r.opener.OpenInput(ctx, deviceID, r.format)
	if err != nil && deviceID != "" && !errors.Is(err, ErrPermissionDenied) {
		log.Printf("capture: input %q unavailable (%v), falling back to default", deviceID, err)
		src, err = r.opener.OpenInput(ctx, "", r.format)
	}
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}

	r.mu.Lock()
	if r.src != nil {
		r.mu.Unlock()
		_ = src.Close()
		return nil
	}
	r.src = src
	r.closing = false
	r.muted = false
	r.loopDone = make(chan struct{})
	done := r.loopDone
	r.mu.Unlock()

	go r.captureLoop(src, done)
	return nil
}

// Start begins buffering a new segment. Starting while already capturing
// keeps the current segment. Start fails with ErrFlushing while a Stop is
// still waiting for the in-flight buffer.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.src == nil {
		return ErrNotOpen
	}
	if r.flushCh != nil {
		return ErrFlushing
	}
	if r.capturing {
		return nil
	}
	r.capturing = true
	r.chunks = nil
	return nil
}

// Capturing reports whether a segment is being recorded.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Level is the RMS level of the latest captured frame in [0,1]. It reads
// zero while muted or not capturing.
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// SetMuted makes the recorder write silence in place of microphone input
// without interrupting the segment.
func (r *Recorder) SetMuted(muted bool) {
	r.mu.Lock()
	r.muted = muted
	r.mu.Unlock()
}

// Stop finalizes the current segment once the in-flight buffer has been
// flushed. ok is false when nothing was capturing or no audio arrived,
// including when another Stop is already finalizing the segment.
func (r *Recorder) Stop(ctx context.Context) (seg audio.Segment, ok bool, err error) {
	r.mu.Lock()
	if !r.capturing || r.flushCh != nil {
		r.mu.Unlock()
		return audio.Segment{}, false, nil
	}
	flush := make(chan struct{})
	r.flushCh = flush
	done := r.loopDone
	r.mu.Unlock()

	select {
	case <-flush:
	case <-done:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.capturing = false
	if r.flushCh == flush {
		r.flushCh = nil
	}
	r.level = 0
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	var pcm []byte
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	return audio.NewWAVSegment(pcm, r.format)
}

// Discard drops any in-progress segment without producing audio.
func (r *Recorder) Discard() {
	r.mu.Lock()
	r.capturing = false
	r.level = 0
	r.chunks = nil
	if r.flushCh != nil {
		close(r.flushCh)
		r.flushCh = nil
	}
	r.mu.Unlock()
}

// Close releases the hardware stream. It is safe to call on every exit
// path, including when the recorder was never opened.
func (r *Recorder) Close() error {
	r.mu.Lock()
	src := r.src
	done := r.loopDone
	if src == nil {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	r.capturing = false
	r.level = 0
	r.chunks = nil
	if r.flushCh != nil {
		close(r.flushCh)
		r.flushCh = nil
	}
	r.mu.Unlock()

	err := src.Close()
	<-done

	r.mu.Lock()
	r.src = nil
	r.loopDone = nil
	r.mu.Unlock()
	return err
}

func (r *Recorder) captureLoop(src Source, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		frame, err := src.ReadFrame()

		r.mu.Lock()
		if r.closing {
			r.mu.Unlock()
			return
		}
		if err == nil {
			failures = 0
			if r.capturing && len(frame) > 0 {
				if r.muted {
					frame = make([]int16, len(frame))
				}
				r.chunks = append(r.chunks, audio.PCM16ToBytes(frame))
				r.level = frameLevel(frame)
			} else if !r.capturing {
				r.level = 0
			}
		}
		if r.flushCh != nil {
			r.capturing = false
			r.level = 0
			close(r.flushCh)
			r.flushCh = nil
		}
		r.mu.Unlock()

		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			failures++
			if failures >= maxConsecutiveReadErrors {
				log.Printf("capture: giving up after %d read errors: %v", failures, err)
				return
			}
		}
	}
}

func frameLevel(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, v := range frame {
		x := float64(v) / 32768
		sum += x * x
	}
	return math.Min(1, math.Sqrt(sum/float64(len(frame))))
}
