// Package websocket pushes processed-image events to connected UI clients.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"peoplecounter/internal/logger"
)

// ProcessedEvent is broadcast after each successful processing request.
type ProcessedEvent struct {
	ID        int64  `json:"id,omitempty"`
	Filename  string `json:"filename"`
	Count     int    `json:"count"`
	Duplicate bool   `json:"duplicate"`
}

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

func (h *HubService) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Info("UI client connected. Total: %d", h.ClientCount())

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Info("UI client disconnected. Total: %d", h.ClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending event: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	h.register <- client
}

func (h *HubService) Unregister(client *websocket.Conn) {
	h.unregister <- client
}

// BroadcastEvent sends the event to all connected clients.
func (h *HubService) BroadcastEvent(ev ProcessedEvent) {
	message, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Error encoding event: %v", err)
		return
	}
	h.broadcast <- message
}

func (h *HubService) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
