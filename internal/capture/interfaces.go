package capture

import (
	"context"
	"errors"

	"github.com/ent0n29/campusvoice/internal/audio"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no audio input device available")
	ErrUnknownDevice    = errors.New("unknown audio device")
	ErrNotOpen          = errors.New("recorder is not open")
	ErrFlushing         = errors.New("recorder is still finalizing the previous segment")
)

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Device describes one piece of audio hardware.
type Device struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Direction Direction `json:"direction"`
}

// Source is an open input stream. ReadFrame blocks until one buffer of
// PCM16 samples is available. After Close, ReadFrame returns io.EOF.
type Source interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// Opener acquires input streams. An empty deviceID selects the platform
// default input.
type Opener interface {
	OpenInput(ctx context.Context, deviceID string, f audio.Format) (Source, error)
}

// Lister enumerates audio hardware.
type Lister interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// Backend is the platform audio layer used by Recorder and Devices.
type Backend interface {
	Opener
	Lister
}
