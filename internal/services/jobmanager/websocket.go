package jobmanager

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/models"
)

// JobEventHub fans out job-lifecycle events to connected admin WebSocket
// clients, generalized from a market-job-progress hub to the
// processing-job events from spec.md §6/SPEC_FULL.md §12. It
// also implements common.Broadcaster so a common.BroadcastEventSink can
// forward EventSink.Emit calls here without this package depending on
// common.EventSink's caller.
type JobEventHub struct {
	logger     *common.Logger
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan models.JobEvent
	stop       chan struct{}
	mu         sync.Mutex
}

// NewJobEventHub returns a JobEventHub ready to Run.
func NewJobEventHub(logger *common.Logger) *JobEventHub {
	return &JobEventHub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan models.JobEvent, 256),
		stop:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast until Stop is called. Run
// it in its own goroutine (the worker pool does this via safeGo).
func (h *JobEventHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]struct{})
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					h.logger.Warn().Err(err).Msg("failed to write job event to websocket client")
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts down the hub and closes all connected clients.
func (h *JobEventHub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// BroadcastEvent implements common.Broadcaster: it converts a generic
// EventSink emission into a models.JobEvent and fans it out.
func (h *JobEventHub) BroadcastEvent(name string, fields map[string]any) {
	jobID, _ := fields["job_id"].(string)
	fileID, _ := fields["file_id"].(string)
	h.Broadcast(models.JobEvent{Name: name, JobID: jobID, FileID: fileID, Fields: fields})
}

// Broadcast enqueues event for delivery to every connected client.
// Non-blocking: a full buffer drops the event rather than stalling the
// worker pool, since this stream is advisory (operational visibility),
// not part of the durable record.
func (h *JobEventHub) Broadcast(event models.JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("event", event.Name).Msg("job event hub buffer full, dropping event")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades r to a WebSocket connection and registers it for
// broadcast delivery — the transport for GET /api/admin/jobs/ws
// (SPEC_FULL.md §14).
func (h *JobEventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	h.register <- conn

	// Drain and discard client reads; this is a one-way event stream.
	// Exiting on read error unregisters the connection.
	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
