package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/V4T54L/honeyledger/internal/adapter/api/middleware"
	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	replyBuffer  = 16
)

// WSHandler serves bidirectional observers: every connection receives the broadcast stream.
// Connections opened with an active sensor key may also submit raw events as text frames;
// submissions on other connections are rejected. A nil keys repository admits everyone.
type WSHandler struct {
	ingestor     EventIngestor
	observers    ObserverRegistry
	keys         domain.APIKeyRepository
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	maxEventSize int64
	metrics      *metrics.PipelineMetrics
	logger       *slog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(ingestor EventIngestor, observers ObserverRegistry, keys domain.APIKeyRepository, writeTimeout time.Duration, maxEventSize int64, m *metrics.PipelineMetrics, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		ingestor:  ingestor,
		observers: observers,
		keys:      keys,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		maxEventSize: maxEventSize,
		metrics:      m,
		logger:       logger.With("component", "ws_handler"),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	denied := h.authorize(r)

	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	obs, err := h.observers.Register("websocket")
	if err != nil {
		wc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.writeTimeout))
		wc.Close()
		return
	}

	replies := make(chan []byte, replyBuffer)
	done := make(chan struct{})
	go h.write(wc, obs, replies, done)

	h.read(r, wc, replies, denied)
	close(done)
	h.observers.Unregister(obs.ID)
}

// authorize checks the key presented on the upgrade request. It returns the reason
// submissions on this connection are refused, or "" when they are allowed.
func (h *WSHandler) authorize(r *http.Request) string {
	if h.keys == nil {
		return ""
	}
	key := middleware.RequestKey(r)
	if key == "" {
		return "API key required"
	}
	valid, err := h.keys.IsValid(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to validate API key", "error", err)
		return "API key could not be validated"
	}
	if !valid {
		h.logger.Warn("invalid API key on websocket upgrade", "remote_addr", r.RemoteAddr)
		return "invalid API key"
	}
	return ""
}

// read ingests submitted frames until the connection fails or is closed by the writer.
// A non-empty denied refuses every submission with that reason.
func (h *WSHandler) read(r *http.Request, wc *websocket.Conn, replies chan<- []byte, denied string) {
	wc.SetReadLimit(h.maxEventSize)
	wc.SetReadDeadline(time.Now().Add(pongWait))
	wc.SetPongHandler(func(string) error {
		wc.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		op, data, err := wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if op != websocket.TextMessage {
			h.reply(replies, domain.RejectedMessage{Kind: domain.KindRejected, Error: "events must be sent as text frames"})
			continue
		}
		if denied != "" {
			h.reply(replies, domain.RejectedMessage{Kind: domain.KindRejected, Error: denied})
			continue
		}
		h.metrics.BytesTotal.Add(float64(len(data)))

		raw, err := h.ingestor.Decode(data)
		if err != nil {
			h.reply(replies, rejectionMessage(err))
			continue
		}
		ev, err := h.ingestor.Ingest(r.Context(), raw)
		if err != nil {
			h.reply(replies, rejectionMessage(err))
			continue
		}
		h.reply(replies, domain.AcceptedMessage{Kind: domain.KindAccepted, SequenceID: ev.SequenceID})
	}
}

// reply queues a direct response for this connection only. A connection that does not drain
// its replies loses them.
func (h *WSHandler) reply(replies chan<- []byte, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket reply", "error", err)
		return
	}
	select {
	case replies <- data:
	default:
		h.logger.Warn("websocket reply dropped, connection not draining")
	}
}

// write owns every write on wc. It closes wc on return, which also ends read.
// Queued replies go out before the next broadcast, so a reply precedes every broadcast that
// was delivered after it was queued. A new_event broadcast from the same submission can
// still arrive before its accepted reply.
func (h *WSHandler) write(wc *websocket.Conn, obs *broadcast.Observer, replies <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer wc.Close()

	for {
		select {
		case msg, ok := <-obs.C:
			if !ok {
				// Removed by the broker: overflow or shutdown.
				wc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
				wc.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, domain.ErrObserverDisconnected.Error()))
				return
			}
			if err := h.flushReplies(wc, replies); err != nil {
				h.observers.Unregister(obs.ID)
				return
			}
			if err := h.writeText(wc, msg); err != nil {
				h.observers.Unregister(obs.ID)
				return
			}
		case msg := <-replies:
			if err := h.writeText(wc, msg); err != nil {
				h.observers.Unregister(obs.ID)
				return
			}
		case <-ticker.C:
			wc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.observers.Unregister(obs.ID)
				return
			}
		case <-done:
			return
		}
	}
}

// flushReplies writes every reply already queued without waiting for more.
func (h *WSHandler) flushReplies(wc *websocket.Conn, replies <-chan []byte) error {
	for {
		select {
		case msg := <-replies:
			if err := h.writeText(wc, msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (h *WSHandler) writeText(wc *websocket.Conn, msg []byte) error {
	wc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	err := wc.WriteMessage(websocket.TextMessage, msg)
	if err != nil {
		h.logger.Debug("websocket write failed", "error", err)
	}
	return err
}
