package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"reserveledger/core/events"
	"reserveledger/observability"
)

const (
	wsWriteTimeout     = 10 * time.Second
	defaultStreamDepth = 64
)

// Hub fans committed ledger events out to websocket subscribers. It is an
// events.Emitter so the engine can publish to it directly. A subscriber whose
// buffer fills is disconnected and is expected to resume from /v1/audit.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan []byte]struct{}
	depth   int
	origins []string
	logger  *slog.Logger
}

func NewHub(depth int, origins []string, logger *slog.Logger) *Hub {
	if depth <= 0 {
		depth = defaultStreamDepth
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[chan []byte]struct{}),
		depth:   depth,
		origins: origins,
		logger:  logger,
	}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	payload, err := json.Marshal(rendered)
	if err != nil {
		h.logger.Warn("encode stream event", slog.String("type", evt.EventType()), slog.Any("error", err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// subscriber falls behind or cancel is called.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.depth)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	updates, cancel := h.Subscribe()
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	metrics := observability.GatewayMetrics()
	metrics.StreamOpened()
	defer metrics.StreamClosed()

	if err := h.stream(conn.CloseRead(r.Context()), conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, updates <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
