package main

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Events pushed to per-game rooms.
const (
	EventUpdate      = "update"
	EventRedirect    = "redirect"
	EventViewerCount = "viewer_count"
	EventMessage     = "message"
	EventError       = "error"
)

// Event is the envelope every push message travels in.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ClientCommand is what a viewer sends over the websocket.
type ClientCommand struct {
	Event  string `json:"event"`
	GameID string `json:"game_id"`
	Key    string `json:"key"`
}

// Subscriber receives push events for a room it joined.
type Subscriber interface {
	Send(event string, data interface{})
}

// Pusher is the room-broadcast surface the runners emit to.
type Pusher interface {
	Emit(room, event string, data interface{})
	Join(room string, s Subscriber)
	Leave(room string, s Subscriber)
}

// Hub tracks which subscribers watch which game room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[Subscriber]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Subscriber]bool)}
}

func (h *Hub) Join(room string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[Subscriber]bool)
	}
	h.rooms[room][s] = true
}

func (h *Hub) Leave(room string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], s)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// Emit fans an event out to everyone in the room. Slow subscribers drop
// events rather than stall the sender.
func (h *Hub) Emit(room, event string, data interface{}) {
	h.mu.Lock()
	subscribers := make([]Subscriber, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		subscribers = append(subscribers, s)
	}
	h.mu.Unlock()

	for _, s := range subscribers {
		s.Send(event, data)
	}
}

// RoomSize returns the current subscriber count for a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Client wraps one websocket viewer session. Writes go through a buffered
// queue drained by WritePump so a stalled socket never blocks a runner.
type Client struct {
	ID string

	ws     *websocket.Conn
	send   chan Event
	mu     sync.Mutex
	closed bool
}

func NewClient(ws *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		ws:   ws,
		send: make(chan Event, 64),
	}
}

// Send queues an event for delivery. Full queues drop the event.
func (c *Client) Send(event string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- Event{Event: event, Data: data}:
	default:
		slog.Warn("dropping push event", "client_id", c.ID, "event", event)
	}
}

// WritePump drains the send queue onto the socket until Close.
func (c *Client) WritePump() {
	for event := range c.send {
		if err := c.ws.WriteJSON(event); err != nil {
			slog.Info("push write failed", "client_id", c.ID, "err", err)
			return
		}
	}
}

// Close stops the write pump and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.ws.Close()
}
