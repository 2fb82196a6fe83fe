package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// sendBuffer bounds the per-connection event queue. A consumer that
// falls this far behind starts losing events rather than blocking the
// emitters.
const sendBuffer = 64

// EventFrame is one event on the WebSocket feed. Exactly one of
// Registry and Coordination is set, matching Source.
type EventFrame struct {
	Source       string              `json:"source"` // "registry" or "coordination"
	Registry     *registry.Event     `json:"registry,omitempty"`
	Coordination *coordination.Event `json:"coordination,omitempty"`
}

// EventsHandler streams registry and coordination events to WebSocket
// subscribers. Events are delivered best-effort: the feed is a
// notification channel, not a durable log.
type EventsHandler struct {
	registry *registry.AgentRegistry
	manager  *coordination.CoordinationManager
	logger   *zap.Logger

	// writeTimeout bounds each frame write so one dead peer cannot
	// wedge its writer goroutine.
	writeTimeout time.Duration
}

// NewEventsHandler creates the event feed handler.
func NewEventsHandler(reg *registry.AgentRegistry, manager *coordination.CoordinationManager, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		registry:     reg,
		manager:      manager,
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// RegisterRoutes mounts the feed on mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/events", h.HandleEvents)
}

// HandleEvents upgrades the connection and streams events until the
// client disconnects. The optional ?source= parameter restricts the
// feed to "registry" or "coordination" events.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source != "" && source != "registry" && source != "coordination" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"source must be \"registry\" or \"coordination\"", h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	// The feed is publish-only. CloseRead discards inbound frames and
	// cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	frames := make(chan EventFrame, sendBuffer)
	dropped := 0

	push := func(f EventFrame) {
		select {
		case frames <- f:
		default:
			dropped++
		}
	}

	var regSub, coordSub string
	if h.registry != nil && source != "coordination" {
		regSub = h.registry.Subscribe(func(e *registry.Event) {
			push(EventFrame{Source: "registry", Registry: e})
		})
		defer h.registry.Unsubscribe(regSub)
	}
	if h.manager != nil && source != "registry" {
		coordSub = h.manager.Subscribe(func(e *coordination.Event) {
			push(EventFrame{Source: "coordination", Coordination: e})
		})
		defer h.manager.Unsubscribe(coordSub)
	}

	h.logger.Info("event feed opened",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("source", source))

	for {
		select {
		case <-ctx.Done():
			if dropped > 0 {
				h.logger.Warn("event feed closed with dropped events",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("dropped", dropped))
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame := <-frames:
			if err := h.writeFrame(ctx, conn, frame); err != nil {
				h.logger.Debug("event feed write failed",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame EventFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frame)
}
