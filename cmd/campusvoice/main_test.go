package main

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ent0n29/campusvoice/internal/authstate"
	"github.com/ent0n29/campusvoice/internal/capture"
)

func TestRunRejectsBadUsage(t *testing.T) {
	if err := run(nil, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("run(nil) error = %v, want %v", err, errUsage)
	}
	if err := run([]string{"dance"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("run(dance) error = %v, want %v", err, errUsage)
	}
}

func TestLoginThenLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	t.Setenv("CAMPUSVOICE_AUTH_STATE", path)

	var out bytes.Buffer
	if err := run([]string{"login", "-token", "tok-1", "-student-id", "s-42"}, &out); err != nil {
		t.Fatalf("run(login) error = %v", err)
	}
	if !strings.Contains(out.String(), "s-42") {
		t.Fatalf("login output = %q", out.String())
	}

	store, err := authstate.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.Token() != "tok-1" || store.StudentID() != "s-42" {
		t.Fatalf("stored credentials = %q/%q", store.Token(), store.StudentID())
	}

	out.Reset()
	if err := run([]string{"logout"}, &out); err != nil {
		t.Fatalf("run(logout) error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("auth file still present: %v", err)
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	t.Setenv("CAMPUSVOICE_AUTH_STATE", filepath.Join(t.TempDir(), "auth.json"))
	if err := run([]string{"login"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("run(login) error = %v, want %v", err, errUsage)
	}
}

func TestSayRequiresText(t *testing.T) {
	if err := run([]string{"say", "  "}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("run(say) error = %v, want %v", err, errUsage)
	}
}

func TestSetupLoggingWritesRotatingFile(t *testing.T) {
	prevOut, prevFlags := log.Writer(), log.Flags()
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})

	path := filepath.Join(t.TempDir(), "logs", "campusvoice.log")
	closer, err := setupLogging(path)
	if err != nil {
		t.Fatalf("setupLogging() error = %v", err)
	}
	log.Printf("hello from test")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(raw), "hello from test") {
		t.Fatalf("log file = %q", raw)
	}

	noop, err := setupLogging("")
	if err != nil || noop == nil {
		t.Fatalf("setupLogging(\"\") = %v, %v", noop, err)
	}
}

func TestPrintDevicesMarksSelection(t *testing.T) {
	var out bytes.Buffer
	printDevices(&out, "inputs", []capture.Device{
		{ID: "pa:0", Label: "Built-in Mic"},
		{ID: "pa:3", Label: "USB Headset"},
	}, "pa:3")
	printDevices(&out, "outputs", nil, "")

	got := out.String()
	if !strings.Contains(got, "* pa:3") || !strings.Contains(got, "(none)") {
		t.Fatalf("printDevices output = %q", got)
	}
}
