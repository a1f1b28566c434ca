// Package ws pushes sync events to browser clients over WebSocket. Each
// connection subscribes to its caller's events; the client only reads.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AlAfiz/starked-education/internal/auth"
	"github.com/AlAfiz/starked-education/internal/convert"
	"github.com/AlAfiz/starked-education/internal/model"
)

// Subscriber hands out per-user event channels.
type Subscriber interface {
	Subscribe(userID string, buffer int) (<-chan model.SyncEvent, func())
}

// Config tunes keepalive and buffering.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	Buffer       int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 32
	}
	return c
}

// Handler upgrades authenticated requests and streams events as JSON text
// frames in the same shape as the gRPC Subscribe stream.
type Handler struct {
	events   Subscriber
	signKey  []byte
	cfg      Config
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New constructs a Handler.
func New(events Subscriber, signKey []byte, cfg Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		events:  events,
		signKey: signKey,
		cfg:     cfg.withDefaults(),
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Mux returns a ServeMux with the event endpoint and a liveness endpoint.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/events", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// tokenOf reads "Authorization: Bearer" or, for browsers that cannot set
// headers on a WebSocket, the access_token query parameter.
func tokenOf(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return r.URL.Query().Get("access_token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok := tokenOf(r)
	if tok == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	userID, err := auth.Verify(h.signKey, tok)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := h.events.Subscribe(userID, h.cfg.Buffer)
	defer cancel()
	h.log.Info("ws subscriber connected", zap.String("user_id", userID), zap.String("peer", r.RemoteAddr))

	// Read pump: handles pong/close control frames and ends on disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			h.log.Info("ws subscriber gone", zap.String("user_id", userID))
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}
			msg, err := encode(ev)
			if err != nil {
				h.log.Warn("encode event", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("ws write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

func encode(ev model.SyncEvent) ([]byte, error) {
	s, err := convert.ToProtoEvent(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s.AsMap())
}
