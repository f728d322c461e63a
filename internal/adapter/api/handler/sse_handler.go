package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const sseKeepAlive = 15 * time.Second

// SSEHandler streams observer messages to read-only Server-Sent Events clients.
type SSEHandler struct {
	observers ObserverRegistry
	logger    *slog.Logger
}

// NewSSEHandler creates a new SSEHandler.
func NewSSEHandler(observers ObserverRegistry, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{observers: observers, logger: logger.With("component", "sse_handler")}
}

// ServeHTTP handles new client connections for the SSE stream.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	obs, err := h.observers.Register("sse")
	if err != nil {
		respondWithError(h.logger, w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer h.observers.Unregister(obs.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-obs.C:
			if !ok {
				h.logger.Debug("sse stream ended", "observer_id", obs.ID, "error", domain.ErrObserverDisconnected)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
