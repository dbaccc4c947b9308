package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelis/prepvox/internal/interview"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sessionSource provides the active session view sent to newly connected
// clients so a reloading page can rejoin a running interview.
type sessionSource interface {
	Snapshot() (interview.Session, bool)
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, sessions sessionSource) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		greeting := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		if err := writeEvent(conn, greeting); err != nil {
			return
		}

		// Subscribing before the snapshot means events racing the hello are
		// queued, not lost; the snapshot itself catches the client up.
		if sessions != nil {
			if session, ok := sessions.Snapshot(); ok {
				state := SessionStateEvent{
					Event:   newEvent("session_state", time.Now().UTC()),
					Session: session,
				}
				if err := writeEvent(conn, state); err != nil {
					return
				}
			}
		}

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}

func writeEvent(conn *websocket.Conn, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
