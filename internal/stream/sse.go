package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/user/ghmonitor/pkg/logger"
)

// SSEHandler serves a long-lived server-sent-events connection backed by
// the hub. Each message carries the topic as the SSE event name and the
// JSON-serialized payload as its data.
func SSEHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := hub.Subscribe()
		defer hub.Unsubscribe(sub)

		for {
			select {
			case <-r.Context().Done():
				// Client disconnected; free the registry slot promptly.
				return
			case update, ok := <-sub.Updates():
				if !ok {
					// Evicted or timed out by the hub.
					return
				}
				data, err := json.Marshal(update.Data)
				if err != nil {
					logger.Warn().Err(err).Str("topic", update.Topic).Msg("Failed to marshal update")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Topic, data)
				flusher.Flush()
			}
		}
	}
}
