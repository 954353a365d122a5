package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"otsync/internal/otclient"
	"otsync/internal/wireproto"
)

// ClientConn is the otclient.Transport implementation: a single gorilla
// websocket dial, framed the same way as the server side, wired to an
// otclient.Connection's Receive/Open/Close lifecycle.
type ClientConn struct {
	conn *websocket.Conn
	send chan wireproto.Message
	done chan struct{}
}

// Dial connects to rawURL and wires the resulting transport into conn,
// calling conn.Open once the socket is live. When the read pump ends (the
// socket drops or errors), it closes both the ClientConn and conn; no
// reconnect is attempted.
func Dial(rawURL string, conn *otclient.Connection) (*ClientConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("otclient/ws: parse url: %w", err)
	}

	socket, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("otclient/ws: dial: %w", err)
	}

	cc := &ClientConn{conn: socket, send: make(chan wireproto.Message, 256), done: make(chan struct{})}
	conn.Open(cc)

	go cc.writePump()
	go cc.readPump(conn)

	return cc, nil
}

// Send implements otclient.Transport.
func (cc *ClientConn) Send(msg wireproto.Message) error {
	select {
	case cc.send <- msg:
		return nil
	case <-cc.done:
		return fmt.Errorf("otclient/ws: connection closed")
	}
}

// Close tears down the socket and both pumps.
func (cc *ClientConn) Close() {
	select {
	case <-cc.done:
	default:
		close(cc.done)
	}
	cc.conn.Close()
}

func (cc *ClientConn) readPump(conn *otclient.Connection) {
	defer func() {
		cc.Close()
		conn.Close()
	}()

	cc.conn.SetReadDeadline(time.Now().Add(pongWait))
	cc.conn.SetPongHandler(func(string) error {
		cc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := cc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("otclient/ws: read error: %v", err)
			}
			return
		}

		var msg wireproto.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("otclient/ws: malformed message from server: %v", err)
			continue
		}
		conn.Receive(msg)
	}
}

func (cc *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cc.send:
			cc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				log.Printf("otclient/ws: marshal failed: %v", err)
				continue
			}
			if err := cc.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			cc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cc.done:
			return
		}
	}
}
