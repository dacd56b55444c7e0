package server

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const clientSendBuffer = 64

// client is one websocket connection. Frames queued on send are written by
// the connection's writer goroutine.
type client struct {
	id       string
	userID   string
	send     chan []byte
	shutdown chan struct{}

	closeOnce    sync.Once
	shutdownOnce sync.Once
}

func newClient(id, userID string) *client {
	return &client{
		id:       id,
		userID:   userID,
		send:     make(chan []byte, clientSendBuffer),
		shutdown: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// requestShutdown asks the writer to send a normal closure and hang up.
func (c *client) requestShutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
}

// Hub groups connections into board rooms.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger:  logger,
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// CloseAll closes every connection with a normal closure. Clients reconnect
// and rejoin their rooms on their own.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.requestShutdown()
	}
	return len(h.clients)
}

// join adds c to the room of boardID and returns the room size.
func (h *Hub) join(c *client, boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[boardID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[boardID] = room
	}
	room[c] = struct{}{}
	return len(room)
}

// leave removes c from the room of boardID and returns the room size.
func (h *Hub) leave(c *client, boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[boardID]
	if !ok {
		return 0
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, boardID)
	}
	return len(room)
}

// leaveAll unregisters c, removes it from every room and returns the rooms
// it was in.
func (h *Hub) leaveAll(c *client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	var left []string
	for boardID, room := range h.rooms {
		if _, ok := room[c]; !ok {
			continue
		}
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
		left = append(left, boardID)
	}
	return left
}

// Members returns the number of connections in the room of boardID.
func (h *Hub) Members(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[boardID])
}

// Broadcast queues frame for every connection in the room of boardID and
// returns how many received it. A connection whose buffer is full misses
// the frame.
func (h *Hub) Broadcast(boardID string, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var delivered int
	for c := range h.rooms[boardID] {
		select {
		case c.send <- frame:
			delivered++
		default:
			h.logger.WithFields(log.Fields{"board_id": boardID, "conn_id": c.id}).Warn("client send buffer full, dropping frame")
		}
	}
	return delivered
}
