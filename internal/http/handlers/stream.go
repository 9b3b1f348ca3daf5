package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxion/voice-agent/internal/conversation"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 32
)

// StreamHandler upgrades GET /api/voice/stream to a websocket that
// receives one JSON TurnEvent per processed turn.
type StreamHandler struct {
	events   *conversation.Broadcaster
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewStreamHandler accepts websocket origins from allowedOrigins; "*"
// accepts any. Requests without an Origin header (native clients) are
// always accepted.
func NewStreamHandler(events *conversation.Broadcaster, allowedOrigins []string, logger *logging.Logger) *StreamHandler {
	if logger == nil {
		logger = logging.Default()
	}
	allow := map[string]bool{}
	for _, o := range allowedOrigins {
		allow[o] = true
	}
	return &StreamHandler{
		events: events,
		logger: logger.WithComponent("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allow["*"] || allow[origin]
			},
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe(streamBuffer)
	defer cancel()
	h.logger.Info("stream subscriber connected", "subscribers", h.events.Subscribers())

	// The reader only watches for the close frame and pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			h.logger.Debug("stream subscriber left")
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
