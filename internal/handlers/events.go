package handlers

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"

	"peoplecounter/internal/logger"
	"peoplecounter/internal/services/websocket"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler upgrades the connection and streams processed-image events
// to the UI until the client disconnects.
func EventsHandler(hub *websocket.HubService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			http.Error(w, "Events not available", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Websocket upgrade failed: %v", err)
			return
		}

		hub.Register(conn)
		defer hub.Unregister(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
