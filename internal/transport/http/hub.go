package http

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"quizroom-service/internal/app"
)

const sendBuffer = 32

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// client is one websocket connection bound to at most one room.
type client struct {
	id     string
	userID string
	send   chan []byte
}

// Hub fans session events out to the connections bound to each code.
// Sends never block: a connection whose queue is full misses the event.
type Hub struct {
	log *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
	// open connections per user within each room
	members map[string]map[string]int
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:   log,
		rooms:   make(map[string]map[*client]struct{}),
		members: make(map[string]map[string]int),
	}
}

func (h *Hub) attach(code string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[code] = room
		h.members[code] = make(map[string]int)
	}
	if _, dup := room[c]; dup {
		return
	}
	room[c] = struct{}{}
	h.members[code][c.userID]++
}

// detach unbinds c from code and reports whether it was the user's last
// connection in that room.
func (h *Hub) detach(code string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[code]
	if !ok {
		return false
	}
	if _, bound := room[c]; !bound {
		return false
	}
	delete(room, c)

	members := h.members[code]
	members[c.userID]--
	last := members[c.userID] <= 0
	if last {
		delete(members, c.userID)
	}
	if len(room) == 0 {
		delete(h.rooms, code)
		delete(h.members, code)
	}
	return last
}

// Publish implements app.Broadcaster.
func (h *Hub) Publish(code string, event app.Event) {
	data, err := json.Marshal(outboundMessage[any]{Type: string(event.Type), Payload: event.Payload})
	if err != nil {
		h.log.Error("encode event failed", zap.String("code", code), zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[code] {
		if event.To != "" && c.userID != event.To {
			continue
		}
		if event.Except != "" && c.userID == event.Except {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping event for slow connection",
				zap.String("code", code),
				zap.String("conn_id", c.id),
				zap.String("type", string(event.Type)),
			)
		}
	}
}

// RoomSize reports how many connections are bound to code.
func (h *Hub) RoomSize(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// Connections reports how many connections userID holds in code.
func (h *Hub) Connections(code, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.members[code][userID]
}
