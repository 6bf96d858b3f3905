package playback

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Fetcher opens an audio reference, typically an http(s) url.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// SpeakerPlayer decodes mp3/wav clips and mixes them onto the default
// output device.
type SpeakerPlayer struct {
	fetcher    Fetcher
	output     func() string
	bufferSize time.Duration

	mu    sync.Mutex
	rate  beep.SampleRate
	ready bool
	noted string
}

// NewSpeakerPlayer returns a Player. output reports the currently selected
// output device and is read for every clip. It is advisory: the beep
// speaker always uses the platform default output. output may be nil.
func NewSpeakerPlayer(fetcher Fetcher, output func() string) *SpeakerPlayer {
	return &SpeakerPlayer{
		fetcher:    fetcher,
		output:     output,
		bufferSize: 100 * time.Millisecond,
	}
}

// OutputDevice is the output selected at the time of the call.
func (p *SpeakerPlayer) OutputDevice() string {
	if p.output == nil {
		return ""
	}
	return p.output()
}

func (p *SpeakerPlayer) Play(ctx context.Context, ref string) error {
	body, contentType, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()

	streamer, format, err := decode(body, contentType, ref)
	if err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	defer streamer.Close()

	p.noteOutput(p.OutputDevice())
	rate, err := p.ensureSpeaker(format.SampleRate)
	if err != nil {
		return err
	}
	var s beep.Streamer = streamer
	if format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() { close(done) }))}
	speaker.Play(ctrl)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

// ensureSpeaker initializes the speaker once at the rate of the first clip.
func (p *SpeakerPlayer) ensureSpeaker(rate beep.SampleRate) (beep.SampleRate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return p.rate, nil
	}
	if err := speaker.Init(rate, rate.N(p.bufferSize)); err != nil {
		return 0, fmt.Errorf("speaker init: %w", err)
	}
	p.rate = rate
	p.ready = true
	return rate, nil
}

// noteOutput logs a newly requested output device once per selection and
// reports whether it logged.
func (p *SpeakerPlayer) noteOutput(device string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if device == "" || device == p.noted {
		return false
	}
	p.noted = device
	log.Printf("playback: output device %q requested, using system default", device)
	return true
}

type codec int

const (
	codecMP3 codec = iota
	codecWAV
)

func pickCodec(contentType, ref string) codec {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "wav"):
		return codecWAV
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return codecMP3
	}
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".wav") {
		return codecWAV
	}
	return codecMP3
}

func decode(body io.ReadCloser, contentType, ref string) (beep.StreamSeekCloser, beep.Format, error) {
	if pickCodec(contentType, ref) == codecWAV {
		return wav.Decode(body)
	}
	return mp3.Decode(body)
}
