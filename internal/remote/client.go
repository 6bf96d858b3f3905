package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/campusvoice/internal/audio"
	"github.com/ent0n29/campusvoice/internal/reliability"
)

// Credentials supplies the identity attached to every request.
type Credentials interface {
	Token() string
	StudentID() string
}

// VoiceReply is the result of one /voice-chat round trip.
type VoiceReply struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	AudioURL   string `json:"audio_url,omitempty"`
}

// TTSReply is the result of a /tts request.
type TTSReply struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
	Cached   bool   `json:"cached"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: http status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Retryable reports whether resending the same request by hand may succeed.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// IsRetryable classifies any error returned by Client.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return reliability.IsTransientNetworkError(err)
}

type Config struct {
	BaseURL      string
	VoiceBaseURL string
	Timeout      time.Duration
	Credentials  Credentials
}

// Client talks to the helpdesk API. It never retries on its own.
type Client struct {
	base   *url.URL
	voice  *url.URL
	creds  Credentials
	client *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base, err := parseBase(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	voice := base
	if strings.TrimSpace(cfg.VoiceBaseURL) != "" {
		voice, err = parseBase(cfg.VoiceBaseURL)
		if err != nil {
			return nil, fmt.Errorf("voice base url: %w", err)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   base,
		voice:  voice,
		creds:  cfg.Credentials,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// SendVoice uploads one audio segment and returns the transcript and reply.
func (c *Client) SendVoice(ctx context.Context, seg audio.Segment, sessionID string) (VoiceReply, error) {
	if seg.Empty() {
		return VoiceReply{}, errors.New("voice-chat: empty segment")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio_file", "recording."+seg.Extension())
	if err != nil {
		return VoiceReply{}, fmt.Errorf("voice-chat: create form file: %w", err)
	}
	if _, err := part.Write(seg.Data); err != nil {
		return VoiceReply{}, fmt.Errorf("voice-chat: write audio: %w", err)
	}
	if sessionID != "" {
		if err := mw.WriteField("session_id", sessionID); err != nil {
			return VoiceReply{}, fmt.Errorf("voice-chat: write session id: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return VoiceReply{}, fmt.Errorf("voice-chat: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.base, "voice-chat"), &body)
	if err != nil {
		return VoiceReply{}, fmt.Errorf("voice-chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var reply VoiceReply
	if err := c.doJSON(req, "voice-chat", &reply); err != nil {
		return VoiceReply{}, err
	}
	reply.AudioURL = c.resolve(c.base, reply.AudioURL)
	return reply, nil
}

// Health performs a GET /health and returns the round-trip time.
func (c *Client) Health(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.base, "health"), nil)
	if err != nil {
		return 0, fmt.Errorf("health: create request: %w", err)
	}
	c.authorize(req)

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
	rtt := time.Since(start)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, &StatusError{Endpoint: "health", Code: res.StatusCode}
	}
	return rtt, nil
}

// Speak asks the voice service to synthesize text.
func (c *Client) Speak(ctx context.Context, text string) (TTSReply, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return TTSReply{}, fmt.Errorf("tts: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.voice, "tts"), bytes.NewReader(payload))
	if err != nil {
		return TTSReply{}, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var reply TTSReply
	if err := c.doJSON(req, "tts", &reply); err != nil {
		return TTSReply{}, err
	}
	reply.AudioURL = c.resolve(c.voice, reply.AudioURL)
	return reply, nil
}

// Fetch opens an audio reference for playback.
func (c *Client) Fetch(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(c.base, ref), nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: create request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, "", statusError("fetch audio", res)
	}
	return res.Body, res.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(req *http.Request, endpoint string, out any) error {
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(endpoint, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.creds == nil {
		return
	}
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.Header.Set("x-student-id", c.creds.StudentID())
}

func (c *Client) endpoint(base *url.URL, path string) string {
	return base.JoinPath(path).String()
}

// resolve turns server-relative audio references into absolute URLs.
func (c *Client) resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}

func statusError(endpoint string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &StatusError{Endpoint: endpoint, Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

func parseBase(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}
