package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice-call client.
type Config struct {
	APIURL        string
	VoiceURL      string
	HTTPTimeout   time.Duration
	AuthStatePath string

	ConnectDelayMin time.Duration
	ConnectDelayMax time.Duration
	EndDelay        time.Duration
	HealthInterval  time.Duration

	Captions       bool
	AutoTTS        bool
	RequireGesture bool

	AudioBackend       string
	SampleRate         int
	FramesPerBuffer    int
	DevicePollInterval time.Duration

	ArchiveURL string
	LogFile    string

	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		APIURL:             envOrDefault("CAMPUSVOICE_API_URL", "http://localhost:8000"),
		VoiceURL:           stringsTrimSpace("CAMPUSVOICE_VOICE_URL"),
		AuthStatePath:      envOrDefault("CAMPUSVOICE_AUTH_STATE", defaultAuthStatePath()),
		HTTPTimeout:        30 * time.Second,
		ConnectDelayMin:    300 * time.Millisecond,
		ConnectDelayMax:    800 * time.Millisecond,
		EndDelay:           time.Second,
		HealthInterval:     5 * time.Second,
		Captions:           true,
		AutoTTS:            true,
		RequireGesture:     true,
		AudioBackend:       strings.ToLower(envOrDefault("CAMPUSVOICE_AUDIO_BACKEND", "auto")),
		SampleRate:         16000,
		FramesPerBuffer:    1024,
		DevicePollInterval: 2 * time.Second,
		ArchiveURL:         stringsTrimSpace("CAMPUSVOICE_ARCHIVE_URL"),
		LogFile:            stringsTrimSpace("CAMPUSVOICE_LOG_FILE"),
		BindAddr:           envOrDefault("CAMPUSVOICE_BIND_ADDR", "127.0.0.1:8790"),
		ShutdownTimeout:    10 * time.Second,
		MetricsNamespace:   envOrDefault("CAMPUSVOICE_METRICS_NAMESPACE", "campusvoice"),
	}
	var err error
	cfg.HTTPTimeout, err = durationFromEnv("CAMPUSVOICE_HTTP_TIMEOUT", cfg.HTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectDelayMin, err = durationFromEnv("CAMPUSVOICE_CONNECT_DELAY_MIN", cfg.ConnectDelayMin)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectDelayMax, err = durationFromEnv("CAMPUSVOICE_CONNECT_DELAY_MAX", cfg.ConnectDelayMax)
	if err != nil {
		return Config{}, err
	}
	cfg.EndDelay, err = durationFromEnv("CAMPUSVOICE_END_DELAY", cfg.EndDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.HealthInterval, err = durationFromEnv("CAMPUSVOICE_HEALTH_INTERVAL", cfg.HealthInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DevicePollInterval, err = durationFromEnv("CAMPUSVOICE_DEVICE_POLL_INTERVAL", cfg.DevicePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("CAMPUSVOICE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Captions, err = boolFromEnv("CAMPUSVOICE_CAPTIONS", cfg.Captions)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoTTS, err = boolFromEnv("CAMPUSVOICE_AUTO_TTS", cfg.AutoTTS)
	if err != nil {
		return Config{}, err
	}
	cfg.RequireGesture, err = boolFromEnv("CAMPUSVOICE_REQUIRE_GESTURE", cfg.RequireGesture)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("CAMPUSVOICE_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("CAMPUSVOICE_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.FramesPerBuffer, err = intFromEnv("CAMPUSVOICE_FRAMES_PER_BUFFER", cfg.FramesPerBuffer)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectDelayMin <= 0 {
		return Config{}, fmt.Errorf("CAMPUSVOICE_CONNECT_DELAY_MIN must be positive")
	}
	if cfg.ConnectDelayMax < cfg.ConnectDelayMin {
		return Config{}, fmt.Errorf("CAMPUSVOICE_CONNECT_DELAY_MAX must be >= CAMPUSVOICE_CONNECT_DELAY_MIN")
	}
	if cfg.HealthInterval < 500*time.Millisecond {
		return Config{}, fmt.Errorf("CAMPUSVOICE_HEALTH_INTERVAL must be at least 500ms")
	}
	switch cfg.AudioBackend {
	case "auto", "portaudio", "none":
	default:
		return Config{}, fmt.Errorf("invalid CAMPUSVOICE_AUDIO_BACKEND: %q (expected auto|portaudio|none)", cfg.AudioBackend)
	}
	if cfg.SampleRate < 8000 {
		return Config{}, fmt.Errorf("CAMPUSVOICE_SAMPLE_RATE must be at least 8000")
	}
	if cfg.FramesPerBuffer <= 0 {
		return Config{}, fmt.Errorf("CAMPUSVOICE_FRAMES_PER_BUFFER must be positive")
	}
	if !strings.HasPrefix(cfg.APIURL, "http://") && !strings.HasPrefix(cfg.APIURL, "https://") {
		return Config{}, fmt.Errorf("CAMPUSVOICE_API_URL must be an http(s) url")
	}

	return cfg, nil
}

func defaultAuthStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "campusvoice", "auth.json")
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
