package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/campusvoice/internal/call"
	"github.com/ent0n29/campusvoice/internal/protocol"
)

func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.call.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	outbound <- snapshotEvent(s.call.Snapshot())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					cancel()
					return
				}
				if msg, ok := eventMessage(ev); ok {
					if !writeJSON(conn, msg) {
						cancel()
						return
					}
				}
			case msg := <-outbound:
				if !writeJSON(conn, msg) {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.call.Snapshot().SessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if s.gesture != nil {
			s.gesture.Unlock()
		}
		if control, ok := parsed.(protocol.ClientControl); ok {
			s.applyControl(ctx, outbound, control)
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) applyControl(ctx context.Context, outbound chan<- any, c protocol.ClientControl) {
	var err error
	switch c.Action {
	case protocol.ActionStart:
		err = s.call.StartCall(ctx)
	case protocol.ActionEnd:
		s.call.EndCall()
	case protocol.ActionMute:
		s.call.ToggleMute()
	case protocol.ActionPTTStart:
		s.call.StartPTT()
	case protocol.ActionPTTStop:
		s.call.StopPTT(ctx)
	case protocol.ActionCaptions:
		s.call.SetCaptions(*c.Enabled)
	case protocol.ActionAutoTTS:
		s.call.SetAutoTTS(*c.Enabled)
	}
	if err != nil {
		// Device failures reach subscribers as error events already.
		log.Printf("ws control %s: %v", c.Action, err)
		if errors.Is(err, call.ErrCallActive) {
			s.queue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.call.Snapshot().SessionID,
				Code:      "call_active",
				Source:    "call",
				Detail:    err.Error(),
			})
		}
	}
}

func (s *Server) queue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		log.Printf("ws: outbound queue full, dropping message")
	}
}

func writeJSON(conn *websocket.Conn, msg any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg) == nil
}

func snapshotEvent(snap call.Snapshot) protocol.CallEvent {
	return protocol.CallEvent{
		Type:      protocol.TypeSnapshot,
		SessionID: snap.SessionID,
		State:     string(snap.State),
		Snapshot:  snap,
	}
}

// eventMessage maps controller events onto wire messages. Ticks, latency,
// level and activity updates travel as snapshots.
func eventMessage(ev call.Event) (any, bool) {
	snap := ev.Snapshot
	base := protocol.CallEvent{SessionID: snap.SessionID, State: string(snap.State), Detail: ev.Detail}
	switch ev.Type {
	case call.EventState:
		base.Type = protocol.TypeStateChanged
		base.Snapshot = snap
	case call.EventCaption:
		base.Type = protocol.TypeCaptionAdded
		if ev.Caption != nil {
			base.Snapshot = *ev.Caption
		} else if n := len(snap.Captions); n > 0 {
			base.Snapshot = snap.Captions[n-1]
		}
	case call.EventSession:
		base.Type = protocol.TypeSessionChanged
	case call.EventNotice:
		base.Type = protocol.TypeNotice
	case call.EventError:
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: snap.SessionID,
			Code:      string(ev.Kind),
			Source:    "call",
			Retryable: ev.Kind == call.KindTransport || ev.Kind == call.KindPermission,
			Detail:    ev.Detail,
		}, true
	case call.EventTick, call.EventLatency, call.EventLevel, call.EventActivity, call.EventSettings:
		return snapshotEvent(snap), true
	default:
		return nil, false
	}
	return base, true
}
