// Package ws adapts gorilla/websocket framing to the abstract bidirectional
// message channel both otserver.Agent and otclient.Connection are built
// over (spec.md §6), with one read pump and one write pump per socket.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"otsync/internal/otserver"
	"otsync/internal/wireproto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerConn is one upgraded connection on the server side: it owns the
// gorilla socket, the send queue, and the Agent dispatching messages
// against the shared Backend.
type ServerConn struct {
	conn  *websocket.Conn
	send  chan wireproto.Message
	agent *otserver.Agent
}

// Serve upgrades r into a websocket, registers a fresh Agent on backend,
// and starts the read/write pumps. Blocks until the connection closes.
func Serve(backend *otserver.Backend, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("otserver/ws: upgrade failed: %v", err)
		return
	}

	sc := &ServerConn{conn: conn, send: make(chan wireproto.Message, 256)}
	sc.agent = backend.CreateAgent(sc.enqueue)

	go sc.writePump()
	sc.enqueue(sc.agent.Handshake())

	sc.readPump(r.Context())
}

func (sc *ServerConn) enqueue(msg wireproto.Message) error {
	select {
	case sc.send <- msg:
		return nil
	default:
		log.Printf("otserver/ws: agent %s send queue full, dropping connection", sc.agent.ClientID)
		sc.conn.Close()
		return websocket.ErrCloseSent
	}
}

func (sc *ServerConn) readPump(ctx context.Context) {
	defer func() {
		sc.agent.Close()
		close(sc.send)
		sc.conn.Close()
	}()

	sc.conn.SetReadLimit(maxMessageSize)
	sc.conn.SetReadDeadline(time.Now().Add(pongWait))
	sc.conn.SetPongHandler(func(string) error {
		sc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("otserver/ws: agent %s read error: %v", sc.agent.ClientID, err)
			}
			return
		}

		var msg wireproto.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("otserver/ws: agent %s sent malformed message: %v", sc.agent.ClientID, err)
			continue
		}
		sc.agent.Dispatch(ctx, msg)
	}
}

func (sc *ServerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sc.send:
			sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				log.Printf("otserver/ws: agent %s marshal failed: %v", sc.agent.ClientID, err)
				continue
			}
			if err := sc.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
