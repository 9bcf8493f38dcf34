package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"

	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/httputil"
	"github.com/banshee-data/cartvision/internal/monitoring"
)

// streamSession serves one session's detections and alerts as server-sent
// events. The stream ends after the session_ended message. Slow readers
// miss events; there is no replay.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.stream == nil {
		httputil.NotFound(w, "no event stream configured")
		return
	}
	if !slices.Contains(s.engine.ActiveSessions(), id) {
		httputil.NotFound(w, fmt.Sprintf("session %q not found", id))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	subID, c := s.stream.Subscribe()
	defer s.stream.Unsubscribe(subID)

	// Send initial ping to establish connection
	if _, err := w.Write([]byte(": ping\n\n")); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(s.StreamPing)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c:
			if !ok {
				return
			}
			if msg.SessionID != id {
				continue
			}
			if err := writeEvent(w, msg); err != nil {
				monitoring.Debugf("stream %s: write failed: %v", id, err)
				return
			}
			flusher.Flush()
			if msg.Type == events.TypeSessionEnded {
				return
			}
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, msg events.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload)
	return err
}
