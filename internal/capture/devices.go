package capture

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/ent0n29/campusvoice/internal/audio"
)

// Devices tracks available hardware, the user's selection and the
// microphone permission gate.
type Devices struct {
	backend Backend
	format  audio.Format

	mu             sync.RWMutex
	inputs         []Device
	outputs        []Device
	selectedInput  string
	selectedOutput string
	permission     bool
}

func NewDevices(backend Backend, format audio.Format) *Devices {
	return &Devices{backend: backend, format: format}
}

// Refresh re-enumerates hardware. A selection that is still present is
// kept; the first device becomes the default only when nothing is selected.
func (d *Devices) Refresh(ctx context.Context) (inputs, outputs []Device, err error) {
	all, err := d.backend.ListDevices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range all {
		if dev.Label == "" {
			dev.Label = fallbackLabel(dev)
		}
		switch dev.Direction {
		case DirectionInput:
			inputs = append(inputs, dev)
		case DirectionOutput:
			outputs = append(outputs, dev)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs = inputs
	d.outputs = outputs
	d.selectedInput = keepOrDefault(d.selectedInput, inputs)
	d.selectedOutput = keepOrDefault(d.selectedOutput, outputs)
	return cloneDevices(inputs), cloneDevices(outputs), nil
}

// RequestPermission opens and immediately releases an input stream. Once
// granted, later calls return true without touching the hardware.
func (d *Devices) RequestPermission(ctx context.Context) bool {
	d.mu.RLock()
	granted := d.permission
	input := d.selectedInput
	d.mu.RUnlock()
	if granted {
		return true
	}

	src, err := d.backend.OpenInput(ctx, input, d.format)
	if err != nil {
		log.Printf("capture: microphone permission check failed: %v", err)
		return false
	}
	_ = src.Close()

	d.mu.Lock()
	d.permission = true
	d.mu.Unlock()
	return true
}

func (d *Devices) PermissionGranted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.permission
}

func (d *Devices) Inputs() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneDevices(d.inputs)
}

func (d *Devices) Outputs() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneDevices(d.outputs)
}

func (d *Devices) SelectedInput() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selectedInput
}

func (d *Devices) SelectedOutput() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selectedOutput
}

func (d *Devices) SelectInput(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !containsDevice(d.inputs, id) {
		return fmt.Errorf("%w: input %q", ErrUnknownDevice, id)
	}
	d.selectedInput = id
	return nil
}

func (d *Devices) SelectOutput(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !containsDevice(d.outputs, id) {
		return fmt.Errorf("%w: output %q", ErrUnknownDevice, id)
	}
	d.selectedOutput = id
	return nil
}

// InputLabel returns the display label of an input, or id when unknown.
func (d *Devices) InputLabel(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dev := range d.inputs {
		if dev.ID == id {
			return dev.Label
		}
	}
	return id
}

// CycleInput selects the next input device after the current one.
func (d *Devices) CycleInput() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inputs) == 0 {
		return d.selectedInput
	}
	idx := slices.IndexFunc(d.inputs, func(dev Device) bool { return dev.ID == d.selectedInput })
	d.selectedInput = d.inputs[(idx+1)%len(d.inputs)].ID
	return d.selectedInput
}

// Watcher polls for hardware changes until closed.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Watch refreshes on every interval and calls onChange when the set of
// devices differs from the previous poll. The returned Watcher must be
// closed by its owner.
func (d *Devices) Watch(ctx context.Context, interval time.Duration, onChange func(inputs, outputs []Device)) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cancel: cancel, done: make(chan struct{})}

	prev := deviceKey(d.Inputs(), d.Outputs())
	ticker := time.NewTicker(interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inputs, outputs, err := d.Refresh(ctx)
				if err != nil {
					continue
				}
				key := deviceKey(inputs, outputs)
				if key == prev {
					continue
				}
				prev = key
				if onChange != nil {
					onChange(inputs, outputs)
				}
			}
		}
	}()
	return w
}

// Close stops polling and waits for the poller to exit.
func (w *Watcher) Close() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func fallbackLabel(dev Device) string {
	short := dev.ID
	if len(short) > 8 {
		short = short[:8]
	}
	if dev.Direction == DirectionOutput {
		return "Speaker " + short
	}
	return "Microphone " + short
}

// keepOrDefault never overrides an explicit selection, even one that is
// currently unplugged; the recorder falls back to the default input for it.
func keepOrDefault(selected string, devices []Device) string {
	if selected != "" {
		return selected
	}
	if len(devices) > 0 {
		return devices[0].ID
	}
	return ""
}

func containsDevice(devices []Device, id string) bool {
	return slices.ContainsFunc(devices, func(dev Device) bool { return dev.ID == id })
}

func cloneDevices(in []Device) []Device {
	if in == nil {
		return nil
	}
	return append([]Device(nil), in...)
}

func deviceKey(inputs, outputs []Device) string {
	key := ""
	for _, dev := range inputs {
		key += "i:" + dev.ID + "\x00"
	}
	for _, dev := range outputs {
		key += "o:" + dev.ID + "\x00"
	}
	return key
}
