package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/linebuf"
	"github.com/devshojol/HC-06-Controller/internal/session"
	"github.com/gorilla/websocket"
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Event   *session.Event  `json:"event,omitempty"`   // Manager event
	Status  *session.Status `json:"status,omitempty"`  // Snapshot on connect
	Devices []bt.Device     `json:"devices,omitempty"` // Paired set after a scan
	Lines   []linebuf.Line  `json:"lines,omitempty"`   // Backlog on connect
	Error   *session.Notice `json:"error,omitempty"`   // Reply to a failed client frame
	Stamp   int64           `json:"stamp"`             // Unix ms
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Initial snapshot
	st := s.manager.Status()
	hello := Frame{
		Status:  &st,
		Devices: s.registry.Devices(),
		Lines:   s.manager.Lines().Since(0),
		Stamp:   time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: client frames are commands
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer func() {
			cancel()
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var req commandRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				s.reply(client, &session.Notice{Title: "Bad request", Message: err.Error()})
				continue
			}
			if err := s.runCommand(ctx, req); err != nil {
				n := session.Describe(err)
				s.reply(client, &n)
			}
		}
	}()
}

// reply sends an error frame to one client. Only the client's reader calls
// it, so send is still open.
func (s *Server) reply(c *wsClient, notice *session.Notice) {
	data, err := json.Marshal(Frame{Error: notice, Stamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// closeClients drops every WebSocket connection; the readers clean up.
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		client.conn.Close()
	}
}
