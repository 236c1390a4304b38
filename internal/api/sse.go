package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/backtester"
)

// sseKeepAlive is how often a comment frame is sent to keep idle
// connections (and intermediary proxies) from timing out between
// progress events.
const sseKeepAlive = 15 * time.Second

// handleBacktestProgress streams ProgressEvents to one subscriber for
// the lifetime of the connection, as server-sent events.
func (s *Server) handleBacktestProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.cfg.Broadcaster.Subscribe()
	defer s.cfg.Broadcaster.Unsubscribe(ch)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event backtester.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
