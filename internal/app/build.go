package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/campusvoice/internal/archive"
	"github.com/ent0n29/campusvoice/internal/audio"
	"github.com/ent0n29/campusvoice/internal/authstate"
	"github.com/ent0n29/campusvoice/internal/call"
	"github.com/ent0n29/campusvoice/internal/capture"
	"github.com/ent0n29/campusvoice/internal/config"
	"github.com/ent0n29/campusvoice/internal/httpapi"
	"github.com/ent0n29/campusvoice/internal/observability"
	"github.com/ent0n29/campusvoice/internal/playback"
	"github.com/ent0n29/campusvoice/internal/remote"
	"github.com/ent0n29/campusvoice/internal/tts"
)

type BuildResult struct {
	Config   config.Config
	Auth     *authstate.Store
	Remote   *remote.Client
	Devices  *capture.Devices
	Recorder *capture.Recorder
	Playback *playback.Queue
	Speaker  *tts.Speaker
	Archive  archive.Store
	Call     *call.Controller
	API      *httpapi.Server
	Metrics  *observability.Metrics
	Backend  string

	// Cleanup ends any call and releases audio hardware and the archive.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	auth, err := authstate.Load(cfg.AuthStatePath)
	if err != nil {
		return nil, fmt.Errorf("auth state init failed: %w", err)
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL:      cfg.APIURL,
		VoiceBaseURL: cfg.VoiceURL,
		Timeout:      cfg.HTTPTimeout,
		Credentials:  auth,
	})
	if err != nil {
		return nil, fmt.Errorf("api client init failed: %w", err)
	}

	store, err := archive.NewStore(ctx, cfg.ArchiveURL)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}

	backend, err := resolveAudioBackend(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	format := audio.DefaultFormat()
	format.SampleRate = cfg.SampleRate
	devices := capture.NewDevices(backend.backend, format)
	if _, _, err := devices.Refresh(ctx); err != nil {
		// A missing device is reported when the call starts.
		log.Printf("initial device scan failed: %v", err)
	}
	recorder := capture.NewRecorder(backend.backend, format)

	var queue *playback.Queue
	queue = playback.NewQueue(playback.NewSpeakerPlayer(client, devices.SelectedOutput), playback.Options{
		AutoPlay:       cfg.AutoTTS,
		RequireGesture: cfg.RequireGesture,
		OnPlayed: func(_ string, err error) {
			if err != nil {
				metrics.ObservePlaybackError()
			}
			metrics.SetActivePlayback(queue.Active())
		},
	})
	speaker := tts.NewSpeaker(client, queue)

	controller := call.NewController(recorder, client, queue, devices, call.Options{
		ConnectDelayMin: cfg.ConnectDelayMin,
		ConnectDelayMax: cfg.ConnectDelayMax,
		EndDelay:        cfg.EndDelay,
		HealthInterval:  cfg.HealthInterval,
		Captions:        cfg.Captions,
		Archive:         store,
		Metrics:         metrics,
		StudentID:       auth.StudentID,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Call:    controller,
		Devices: devices,
		Speaker: speaker,
		Gesture: queue,
		History: store,
		Metrics: metrics,
	})

	cleanup := func() error {
		var errs []string
		controller.Close()
		queue.StopAll()
		if err := recorder.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if backend.cleanup != nil {
			if err := backend.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		Auth:     auth,
		Remote:   client,
		Devices:  devices,
		Recorder: recorder,
		Playback: queue,
		Speaker:  speaker,
		Archive:  store,
		Call:     controller,
		API:      api,
		Metrics:  metrics,
		Backend:  backend.resolved,
		Cleanup:  cleanup,
	}, nil
}
