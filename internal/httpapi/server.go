package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/campusvoice/internal/archive"
	"github.com/ent0n29/campusvoice/internal/call"
	"github.com/ent0n29/campusvoice/internal/capture"
	"github.com/ent0n29/campusvoice/internal/config"
	"github.com/ent0n29/campusvoice/internal/observability"
	"github.com/ent0n29/campusvoice/internal/playback"
	"github.com/ent0n29/campusvoice/internal/tts"
)

// Devices is the slice of the device enumerator the control API drives.
type Devices interface {
	Refresh(ctx context.Context) (inputs, outputs []capture.Device, err error)
	Inputs() []capture.Device
	Outputs() []capture.Device
	SelectedInput() string
	SelectedOutput() string
	SelectInput(id string) error
	SelectOutput(id string) error
	PermissionGranted() bool
}

type Speaker interface {
	Speak(ctx context.Context, text string) (*playback.Handle, error)
}

// Gesture is told about the first user interaction so held playback can start.
type Gesture interface {
	Unlock()
}

type History interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]archive.TurnRecord, error)
}

type Deps struct {
	Call    *call.Controller
	Devices Devices
	Speaker Speaker
	Gesture Gesture
	History History
	Metrics *observability.Metrics
}

type Server struct {
	cfg      config.Config
	call     *call.Controller
	devices  Devices
	speaker  Speaker
	gesture  Gesture
	history  History
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		call:    deps.Call,
		devices: deps.Devices,
		speaker: deps.Speaker,
		gesture: deps.Gesture,
		history: deps.History,
		metrics: deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.gestureMiddleware)

		r.Get("/call", s.handleGetCall)
		r.Post("/call/start", s.handleStartCall)
		r.Post("/call/end", s.handleEndCall)
		r.Post("/call/mute", s.handleToggleMute)
		r.Post("/call/ptt/start", s.handleStartPTT)
		r.Post("/call/ptt/stop", s.handleStopPTT)
		r.Put("/call/settings", s.handleCallSettings)
		r.Get("/call/history", s.handleCallHistory)
		r.Get("/call/ws", s.handleCallWS)

		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/refresh", s.handleRefreshDevices)
		r.Put("/devices/selection", s.handleSelectDevices)

		r.Post("/tts", s.handleSpeak)
	})

	return r
}

// gestureMiddleware treats any mutating request as a user gesture.
func (s *Server) gestureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.gesture != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
			s.gesture.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"call_state": s.call.Snapshot().State,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	permission := false
	if s.devices != nil {
		permission = s.devices.PermissionGranted()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"api_url":            s.cfg.APIURL,
		"permission_granted": permission,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Latency.Snapshot())
}

func (s *Server) handleGetCall(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	err := s.call.StartCall(r.Context())
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, s.call.Snapshot())
	case errors.Is(err, call.ErrCallActive):
		respondError(w, http.StatusConflict, "call_active", err.Error())
	case errors.Is(err, capture.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "permission_denied", err.Error())
	default:
		respondError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
	}
}

func (s *Server) handleEndCall(w http.ResponseWriter, _ *http.Request) {
	if !s.call.EndCall() {
		respondError(w, http.StatusConflict, "no_active_call", "no call to end")
		return
	}
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

func (s *Server) handleToggleMute(w http.ResponseWriter, _ *http.Request) {
	s.respondLiveAction(w, s.call.ToggleMute())
}

func (s *Server) handleStartPTT(w http.ResponseWriter, _ *http.Request) {
	s.respondLiveAction(w, s.call.StartPTT())
}

func (s *Server) handleStopPTT(w http.ResponseWriter, r *http.Request) {
	s.respondLiveAction(w, s.call.StopPTT(r.Context()))
}

func (s *Server) respondLiveAction(w http.ResponseWriter, applied bool) {
	if !applied {
		respondError(w, http.StatusConflict, "not_applied", call.ErrNotLive.Error()+" or action already in effect")
		return
	}
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

type callSettingsRequest struct {
	Captions *bool `json:"captions"`
	AutoTTS  *bool `json:"auto_tts"`
}

func (s *Server) handleCallSettings(w http.ResponseWriter, r *http.Request) {
	var req callSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Captions != nil {
		s.call.SetCaptions(*req.Captions)
	}
	if req.AutoTTS != nil {
		s.call.SetAutoTTS(*req.AutoTTS)
	}
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

type historyResponse struct {
	SessionID string               `json:"session_id"`
	Recent    []call.HistoryItem   `json:"recent"`
	Archived  []archive.TurnRecord `json:"archived"`
}

func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	snap := s.call.Snapshot()
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = snap.SessionID
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	resp := historyResponse{SessionID: sessionID, Recent: snap.History, Archived: []archive.TurnRecord{}}
	if s.history != nil && sessionID != "" {
		turns, err := s.history.RecentTurns(r.Context(), sessionID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "archive_unavailable", err.Error())
			return
		}
		if turns != nil {
			resp.Archived = turns
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "text-to-speech not configured")
		return
	}
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h, err := s.speaker.Speak(r.Context(), req.Text)
	switch {
	case errors.Is(err, tts.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "tts_failed", err.Error())
		return
	}
	if h == nil {
		respondJSON(w, http.StatusOK, map[string]any{"queued": false, "reason": "auto-play disabled"})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"queued": true, "playback_id": h.ID, "audio_url": h.Ref})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
