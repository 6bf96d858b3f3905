// Package tts speaks text-chat replies through the shared playback queue.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/campusvoice/internal/playback"
	"github.com/ent0n29/campusvoice/internal/remote"
)

var ErrEmptyText = errors.New("nothing to speak")

type Synthesizer interface {
	Speak(ctx context.Context, text string) (remote.TTSReply, error)
}

type Queue interface {
	Enqueue(ctx context.Context, ref string) (*playback.Handle, error)
	AutoPlay() bool
}

type Speaker struct {
	synth Synthesizer
	queue Queue
}

func NewSpeaker(synth Synthesizer, queue Queue) *Speaker {
	return &Speaker{synth: synth, queue: queue}
}

// Speak synthesizes text and plays it. With auto-play off nothing is
// requested and the handle is nil.
func (s *Speaker) Speak(ctx context.Context, text string) (*playback.Handle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if !s.queue.AutoPlay() {
		return nil, nil
	}
	reply, err := s.synth.Speak(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if reply.AudioURL == "" {
		return nil, errors.New("synthesize: reply has no audio_url")
	}
	return s.queue.Enqueue(ctx, reply.AudioURL)
}
