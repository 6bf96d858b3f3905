package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/campusvoice/internal/audio"
)

func TestDevicesRefreshDefaultsAndKeepsSelection(t *testing.T) {
	b := &fakeBackend{devices: []Device{
		{ID: "mic-a", Label: "Built-in", Direction: DirectionInput},
		{ID: "mic-b", Direction: DirectionInput},
		{ID: "spk-a", Label: "Speakers", Direction: DirectionOutput},
	}}
	d := NewDevices(b, audio.DefaultFormat())

	inputs, outputs, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(inputs) != 2 || len(outputs) != 1 {
		t.Fatalf("inputs=%d outputs=%d, want 2/1", len(inputs), len(outputs))
	}
	if inputs[1].Label != "Microphone mic-b" {
		t.Fatalf("fallback label = %q", inputs[1].Label)
	}
	if d.SelectedInput() != "mic-a" || d.SelectedOutput() != "spk-a" {
		t.Fatalf("defaults = %q/%q", d.SelectedInput(), d.SelectedOutput())
	}

	if err := d.SelectInput("mic-b"); err != nil {
		t.Fatalf("SelectInput() error = %v", err)
	}
	if _, _, err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if d.SelectedInput() != "mic-b" {
		t.Fatalf("selection lost on refresh: %q", d.SelectedInput())
	}

	if err := d.SelectOutput("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("SelectOutput() error = %v, want %v", err, ErrUnknownDevice)
	}
	if got := d.CycleInput(); got != "mic-a" {
		t.Fatalf("CycleInput() = %q, want mic-a", got)
	}
	if got := d.InputLabel("mic-a"); got != "Built-in" {
		t.Fatalf("InputLabel(mic-a) = %q", got)
	}
	if got := d.InputLabel("gone"); got != "gone" {
		t.Fatalf("InputLabel(gone) = %q, want id fallback", got)
	}
}

func TestDevicesPermissionIsOneTimeGate(t *testing.T) {
	b := &fakeBackend{}
	d := NewDevices(b, audio.DefaultFormat())
	if !d.RequestPermission(context.Background()) {
		t.Fatalf("RequestPermission() = false")
	}
	if !d.RequestPermission(context.Background()) {
		t.Fatalf("second RequestPermission() = false")
	}
	if n := len(b.openedIDs()); n != 1 {
		t.Fatalf("hardware opened %d times, want 1", n)
	}

	denied := NewDevices(&fakeBackend{deny: true}, audio.DefaultFormat())
	if denied.RequestPermission(context.Background()) || denied.PermissionGranted() {
		t.Fatalf("denied backend reported permission")
	}
}

func TestDevicesWatchNotifiesOnHotplug(t *testing.T) {
	b := &fakeBackend{devices: []Device{{ID: "mic-a", Direction: DirectionInput}}}
	d := NewDevices(b, audio.DefaultFormat())
	if _, _, err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	changed := make(chan []Device, 4)
	w := d.Watch(context.Background(), 5*time.Millisecond, func(inputs, _ []Device) {
		changed <- inputs
	})
	defer w.Close()

	b.setDevices([]Device{
		{ID: "mic-a", Direction: DirectionInput},
		{ID: "usb-headset", Direction: DirectionInput},
	})

	select {
	case inputs := <-changed:
		if len(inputs) != 2 {
			t.Fatalf("len(inputs) = %d, want 2", len(inputs))
		}
	case <-time.After(time.Second):
		t.Fatalf("no hotplug notification")
	}
	if d.SelectedInput() != "mic-a" {
		t.Fatalf("hotplug changed selection to %q", d.SelectedInput())
	}

	w.Close()
	w.Close()
}
