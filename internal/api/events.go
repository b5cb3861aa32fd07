package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/campusmeet/appointments/internal/notify"
)

const heartbeatInterval = 25 * time.Second

// eventsHandler serves the push channel as a Server-Sent Events stream.
// Each status mutation produces one "appointments" event carrying the full
// current snapshot. Subscriber lifetime is tied to the connection: when the
// client goes away the subscription is cancelled.
func eventsHandler(svc Service, broadcaster *notify.Broadcaster, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		sub, cancel := broadcaster.Subscribe()
		defer cancel()

		// Current snapshot on connect; no historical replay.
		snapshot, err := svc.Snapshot(r.Context())
		if err != nil {
			log.Warn("failed to load initial snapshot for event stream", zap.Error(err))
		} else {
			payload, err := json.Marshal(toAppointmentList(snapshot))
			if err == nil {
				writeEvent(w, payload)
				flusher.Flush()
			}
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case payload, ok := <-sub:
				if !ok {
					// Dropped by the broadcaster; the client reconnects.
					return
				}
				writeEvent(w, payload)
				flusher.Flush()
			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, payload []byte) {
	fmt.Fprintf(w, "event: appointments\ndata: %s\n\n", payload)
}
