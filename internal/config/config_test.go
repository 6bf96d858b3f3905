package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CAMPUSVOICE_AUTH_STATE", "/tmp/auth.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "http://localhost:8000" {
		t.Fatalf("APIURL = %q, want local default", cfg.APIURL)
	}
	if cfg.ConnectDelayMin != 300*time.Millisecond || cfg.ConnectDelayMax != 800*time.Millisecond {
		t.Fatalf("connect delay = %v..%v", cfg.ConnectDelayMin, cfg.ConnectDelayMax)
	}
	if cfg.EndDelay != time.Second || cfg.HealthInterval != 5*time.Second {
		t.Fatalf("EndDelay = %v, HealthInterval = %v", cfg.EndDelay, cfg.HealthInterval)
	}
	if !cfg.Captions || !cfg.AutoTTS || !cfg.RequireGesture {
		t.Fatalf("feature defaults = captions %v auto-tts %v gesture %v", cfg.Captions, cfg.AutoTTS, cfg.RequireGesture)
	}
	if cfg.AudioBackend != "auto" {
		t.Fatalf("AudioBackend = %q, want auto", cfg.AudioBackend)
	}
	if cfg.ArchiveURL != "" || cfg.VoiceURL != "" {
		t.Fatalf("ArchiveURL = %q, VoiceURL = %q, want empty", cfg.ArchiveURL, cfg.VoiceURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CAMPUSVOICE_API_URL", "https://helpdesk.example.edu/api")
	t.Setenv("CAMPUSVOICE_AUTO_TTS", "off")
	t.Setenv("CAMPUSVOICE_CONNECT_DELAY_MAX", "2s")
	t.Setenv("CAMPUSVOICE_ARCHIVE_URL", "sqlite:///tmp/calls.sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://helpdesk.example.edu/api" || cfg.AutoTTS {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ConnectDelayMax != 2*time.Second || cfg.ArchiveURL != "sqlite:///tmp/calls.sqlite" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CAMPUSVOICE_CONNECT_DELAY_MAX": "100ms",
		"CAMPUSVOICE_HEALTH_INTERVAL":   "10ms",
		"CAMPUSVOICE_CAPTIONS":          "maybe",
		"CAMPUSVOICE_API_URL":           "ftp://x",
		"CAMPUSVOICE_SAMPLE_RATE":       "abc",
		"CAMPUSVOICE_AUDIO_BACKEND":     "alsa",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error for %s=%q", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"CAMPUSVOICE_API_URL",
		"CAMPUSVOICE_VOICE_URL",
		"CAMPUSVOICE_AUTH_STATE",
		"CAMPUSVOICE_HTTP_TIMEOUT",
		"CAMPUSVOICE_CONNECT_DELAY_MIN",
		"CAMPUSVOICE_CONNECT_DELAY_MAX",
		"CAMPUSVOICE_END_DELAY",
		"CAMPUSVOICE_HEALTH_INTERVAL",
		"CAMPUSVOICE_DEVICE_POLL_INTERVAL",
		"CAMPUSVOICE_SHUTDOWN_TIMEOUT",
		"CAMPUSVOICE_CAPTIONS",
		"CAMPUSVOICE_AUTO_TTS",
		"CAMPUSVOICE_REQUIRE_GESTURE",
		"CAMPUSVOICE_ALLOW_ANY_ORIGIN",
		"CAMPUSVOICE_AUDIO_BACKEND",
		"CAMPUSVOICE_SAMPLE_RATE",
		"CAMPUSVOICE_FRAMES_PER_BUFFER",
		"CAMPUSVOICE_ARCHIVE_URL",
		"CAMPUSVOICE_LOG_FILE",
		"CAMPUSVOICE_BIND_ADDR",
		"CAMPUSVOICE_METRICS_NAMESPACE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
