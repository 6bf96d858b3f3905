package app

import (
	"context"
	"fmt"
	"log"

	"github.com/ent0n29/campusvoice/internal/audio"
	"github.com/ent0n29/campusvoice/internal/capture"
	"github.com/ent0n29/campusvoice/internal/config"
)

type audioSetup struct {
	backend  capture.Backend
	resolved string
	cleanup  func() error
}

func resolveAudioBackend(cfg config.Config) (audioSetup, error) {
	mode := cfg.AudioBackend
	if mode == "" {
		mode = "auto"
	}

	tryPortAudio := func() (audioSetup, error) {
		pa, err := capture.NewPortAudio(cfg.FramesPerBuffer)
		if err != nil {
			return audioSetup{}, err
		}
		return audioSetup{backend: pa, resolved: "portaudio", cleanup: pa.Close}, nil
	}

	switch mode {
	case "portaudio":
		setup, err := tryPortAudio()
		if err != nil {
			return audioSetup{}, fmt.Errorf("audio backend init failed: %w", err)
		}
		log.Printf("audio backend: portaudio")
		return setup, nil
	case "none":
		log.Printf("audio backend: none")
		return audioSetup{backend: noAudio{}, resolved: "none"}, nil
	case "auto":
		setup, err := tryPortAudio()
		if err == nil {
			log.Printf("audio backend: portaudio")
			return setup, nil
		}
		log.Printf("audio backend: none (portaudio unavailable: %v)", err)
		return audioSetup{backend: noAudio{}, resolved: "none"}, nil
	default:
		return audioSetup{}, fmt.Errorf("invalid audio backend: %q (expected auto|portaudio|none)", cfg.AudioBackend)
	}
}

// noAudio is the backend for hosts without sound hardware. Calls fail at
// the microphone permission step.
type noAudio struct{}

func (noAudio) ListDevices(context.Context) ([]capture.Device, error) { return nil, nil }

func (noAudio) OpenInput(context.Context, string, audio.Format) (capture.Source, error) {
	return nil, capture.ErrNoDevice
}
