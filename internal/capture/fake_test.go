package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ent0n29/campusvoice/internal/audio"
)

type fakeSource struct {
	mu       sync.Mutex
	frame    []int16
	closed   bool
	silent   bool
	interval time.Duration
	closeCh  chan struct{}
}

func newFakeSource(frameLen int, value int16, interval time.Duration) *fakeSource {
	frame := make([]int16, frameLen)
	for i := range frame {
		frame[i] = value
	}
	if interval <= 0 {
		interval = 2 * time.Millisecond
	}
	return &fakeSource{frame: frame, interval: interval, closeCh: make(chan struct{})}
}

func (s *fakeSource) ReadFrame() ([]int16, error) {
	select {
	case <-s.closeCh:
		return nil, io.EOF
	case <-time.After(s.interval):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silent {
		return nil, nil
	}
	return append([]int16(nil), s.frame...), nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	devices  []Device
	deny     bool
	missing  map[string]bool
	opened   []string
	sources  []*fakeSource
	listErr  error
	frameLen int
	interval time.Duration
	value    int16
}

func (b *fakeBackend) OpenInput(_ context.Context, deviceID string, _ audio.Format) (Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, deviceID)
	if b.deny {
		return nil, ErrPermissionDenied
	}
	if b.missing[deviceID] {
		return nil, errors.New("device gone")
	}
	n := b.frameLen
	if n == 0 {
		n = 160
	}
	v := b.value
	if v == 0 {
		v = 7
	}
	src := newFakeSource(n, v, b.interval)
	b.sources = append(b.sources, src)
	return src, nil
}

func (b *fakeBackend) ListDevices(_ context.Context) ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]Device(nil), b.devices...), nil
}

func (b *fakeBackend) setDevices(devs []Device) {
	b.mu.Lock()
	b.devices = devs
	b.mu.Unlock()
}

func (b *fakeBackend) openedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}
