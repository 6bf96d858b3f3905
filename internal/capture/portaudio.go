package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/ent0n29/campusvoice/internal/audio"
)

const defaultFramesPerBuffer = 1024

// PortAudio is the Backend backed by the PortAudio C library.
type PortAudio struct {
	framesPerBuffer int
	hintsOnce       sync.Once
}

// NewPortAudio initializes PortAudio. Callers must Close it on shutdown.
func NewPortAudio(framesPerBuffer int) (*PortAudio, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = defaultFramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortAudio{framesPerBuffer: framesPerBuffer}, nil
}

func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

func (p *PortAudio) ListDevices(_ context.Context) ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, info := range infos {
		id := paDeviceID(info)
		if info.MaxInputChannels > 0 {
			out = append(out, Device{ID: id, Label: info.Name, Direction: DirectionInput})
		}
		if info.MaxOutputChannels > 0 {
			out = append(out, Device{ID: id, Label: info.Name, Direction: DirectionOutput})
		}
	}
	return out, nil
}

func (p *PortAudio) OpenInput(_ context.Context, deviceID string, f audio.Format) (Source, error) {
	dev, err := p.findInput(deviceID)
	if err != nil {
		return nil, err
	}
	if f.EchoCancellation || f.NoiseSuppression {
		p.hintsOnce.Do(func() {
			log.Printf("capture: echo cancellation / noise suppression not provided by portaudio, using raw input")
		})
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = p.framesPerBuffer

	buf := make([]int16, p.framesPerBuffer*f.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return &paSource{stream: stream, buf: buf}, nil
}

func (p *PortAudio) findInput(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID != "" {
		infos, err := portaudio.Devices()
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if info.MaxInputChannels > 0 && paDeviceID(info) == deviceID {
				return info, nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return nil, ErrNoDevice
	}
	return dev, nil
}

func paDeviceID(info *portaudio.DeviceInfo) string {
	if info.HostApi == nil {
		return info.Name
	}
	return info.HostApi.Name + "/" + info.Name
}

type paSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func (s *paSource) ReadFrame() ([]int16, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, io.EOF
	}

	err := s.stream.Read()
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		s.mu.Lock()
		closed = s.closed
		s.mu.Unlock()
		if closed {
			return nil, io.EOF
		}
		return nil, err
	}
	frame := make([]int16, len(s.buf))
	copy(frame, s.buf)
	return frame, nil
}

func (s *paSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}
