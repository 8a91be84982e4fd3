package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/timmy/prospect/internal/api/middleware"
	"github.com/timmy/prospect/internal/batch"
	"github.com/timmy/prospect/internal/broadcast"
	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamHandler serves live job and batch event streams over WebSocket.
type StreamHandler struct {
	reg      *registry.Registry
	orch     *batch.Orchestrator
	bus      *broadcast.Broadcaster
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the handler. orch may be nil when batch
// support is disabled.
func NewStreamHandler(reg *registry.Registry, orch *batch.Orchestrator, bus *broadcast.Broadcaster) *StreamHandler {
	return &StreamHandler{
		reg:  reg,
		orch: orch,
		bus:  bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the CORS layer for the REST
			// surface; the socket accepts any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// snapshotEvent builds the first frame for a subscriber that attached
// before any event was published.
func (h *StreamHandler) snapshotEvent(id string) (domain.Event, bool) {
	if job, err := h.reg.Get(id); err == nil {
		return domain.Event{
			StreamID:  id,
			Type:      domain.EventStatusUpdate,
			Status:    job.Status,
			Message:   job.Message,
			Phase:     job.CurrentPhase,
			Timestamp: time.Now().UTC(),
			Job:       &job,
		}, true
	}
	if h.orch != nil {
		if b, err := h.orch.Get(id); err == nil {
			return domain.Event{
				StreamID:  id,
				Type:      domain.EventBatchUpdate,
				Status:    b.Status,
				Timestamp: time.Now().UTC(),
				Batch:     &b,
			}, true
		}
	}
	return domain.Event{}, false
}

// Stream handles GET /research/ws/:id for both jobs and batches. The
// first frame is always the current snapshot; every subsequent frame is
// one state change. The terminal frame carries the result or error.
func (h *StreamHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	log := middleware.GetLogger(c)

	// Subscribe before the existence check so no event published in
	// between is missed.
	last, hasLast, sub := h.bus.Subscribe(id)

	first := last
	if !hasLast {
		var known bool
		first, known = h.snapshotEvent(id)
		if !known {
			sub.Close()
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown stream"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	defer sub.Close()

	// Drain client frames so close handshakes and pongs are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(evt domain.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(evt); err != nil {
			return false
		}
		return true
	}

	if !write(first) {
		return
	}
	if first.Terminal() {
		h.sendClose(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if !write(evt) {
				return
			}
			if evt.Terminal() {
				h.sendClose(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}

func (h *StreamHandler) sendClose(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
