package otclient

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"otsync/internal/ot"
	"otsync/internal/ottypes"
	"otsync/internal/wireproto"
)

// Transport is the abstract bidirectional message channel Connection is
// built over (spec.md §6); internal/transport/ws satisfies it with
// gorilla/websocket.
type Transport interface {
	Send(msg wireproto.Message) error
}

// ConnectionEvents mirrors Events for connection-level lifecycle:
// connected, disconnected, and a per-document subscribed notification.
type ConnectionEvents struct {
	OnConnected    func()
	OnDisconnected func()
	OnSubscribed   func(collection, id string)
}

type docKey struct {
	collection string
	id         string
}

// Connection owns one client's view of every subscribed document: message
// framing, handshake, doc routing, and the connect/disconnect lifecycle
// (spec.md §4.3's "Connection state change").
type Connection struct {
	mu        sync.Mutex
	transport Transport
	connected bool
	id        string
	seqCounter int64

	registry  *ottypes.Registry
	docs      map[docKey]*Doc
	docEvents Events
	events    ConnectionEvents

	// scheduler models "defer to end of current turn" for flush (spec.md
	// §9). The zero value runs fn synchronously, which is a valid
	// single-threaded-cooperative choice; callers may substitute a
	// goroutine-dispatching scheduler for an async runtime.
	scheduler func(fn func())
}

// NewConnection builds a Connection bound to reg for type resolution.
// docEvents is applied to every Doc this connection creates.
func NewConnection(reg *ottypes.Registry, docEvents Events, events ConnectionEvents) *Connection {
	return &Connection{
		registry:  reg,
		docs:      make(map[docKey]*Doc),
		docEvents: docEvents,
		events:    events,
	}
}

// Open attaches transport and marks the connection live, flushing every
// doc's queued work.
func (c *Connection) Open(transport Transport) {
	c.mu.Lock()
	c.transport = transport
	c.connected = true
	docs := c.allDocsLocked()
	c.mu.Unlock()

	if c.events.OnConnected != nil {
		c.events.OnConnected()
	}
	for _, d := range docs {
		d.HandleConnect()
	}
}

// Close marks the connection down: inflight ops return to the head of
// pending on every doc, to be resent on the next Open.
func (c *Connection) Close() {
	c.mu.Lock()
	c.transport = nil
	c.connected = false
	docs := c.allDocsLocked()
	c.mu.Unlock()

	for _, d := range docs {
		d.HandleDisconnect()
	}
	if c.events.OnDisconnected != nil {
		c.events.OnDisconnected()
	}
}

func (c *Connection) allDocsLocked() []*Doc {
	out := make([]*Doc, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	return out
}

// Doc returns the replica for (collection, id), creating it nonexistent
// at v=0 if this is the first reference.
func (c *Connection) Doc(collection, id string) *Doc {
	key := docKey{collection, id}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.docs[key]; ok {
		return d
	}
	d := NewDoc(collection, id, c.registry, c, c.docEvents)
	c.docs[key] = d
	return d
}

// Subscribe sends the subscribe request for (collection, id); the
// resulting snapshot is delivered to the doc asynchronously through
// Receive. Returns the (possibly not-yet-loaded) Doc immediately so
// callers can start queuing optimistic submissions right away. The doc is
// marked want-subscribed so a later disconnect or hard rollback triggers
// an automatic resubscribe.
func (c *Connection) Subscribe(collection, id string) (*Doc, error) {
	d := c.Doc(collection, id)
	d.markWantSubscribed()
	if err := c.send(wireproto.Message{A: wireproto.ActionSubscribe, C: collection, D: id}); err != nil {
		return d, err
	}
	return d, nil
}

// Unsubscribe sends the unsubscribe request for (collection, id) and
// cancels any future automatic resubscribe for it.
func (c *Connection) Unsubscribe(collection, id string) error {
	c.Doc(collection, id).markUnsubscribed()
	return c.send(wireproto.Message{A: wireproto.ActionUnsubscribe, C: collection, D: id})
}

// resubscribe re-sends a subscribe request for a doc that was already
// want-subscribed, e.g. after reconnect or a hard rollback. Failures are
// logged, not returned, since this runs detached from any caller.
func (c *Connection) resubscribe(collection, id string) {
	if _, err := c.Subscribe(collection, id); err != nil {
		log.Printf("otclient: resubscribe failed for %s/%s: %v", collection, id, err)
	}
}

// Receive dispatches one inbound message from the transport.
func (c *Connection) Receive(msg wireproto.Message) {
	switch msg.A {
	case wireproto.ActionHandshake:
		c.mu.Lock()
		c.id = msg.ClientID
		c.mu.Unlock()

	case wireproto.ActionSubscribe, wireproto.ActionFetch:
		c.receiveSnapshot(msg)

	case wireproto.ActionUnsubscribe:
		// Acknowledged server-side; no local state change required beyond
		// what Unsubscribe already assumed.

	case wireproto.ActionOp:
		c.receiveOp(msg)

	default:
		log.Printf("otclient: connection received unknown action %q", msg.A)
	}
}

func (c *Connection) receiveSnapshot(msg wireproto.Message) {
	if msg.Error != nil {
		if c.docEvents.OnError != nil {
			c.docEvents.OnError(msg.Error)
		}
		return
	}
	var snapshot ot.Snapshot
	if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
		if c.docEvents.OnError != nil {
			c.docEvents.OnError(fmt.Errorf("otclient: decode snapshot: %w", err))
		}
		return
	}
	d := c.Doc(msg.C, msg.D)
	d.Load(&snapshot)
	if c.events.OnSubscribed != nil {
		c.events.OnSubscribed(msg.C, msg.D)
	}
}

func (c *Connection) receiveOp(msg wireproto.Message) {
	d := c.Doc(msg.C, msg.D)

	if msg.Op == nil {
		// Lightweight ack shape: {a:'op', v, src, seq}, no payload.
		if msg.V == nil || msg.Src == nil || msg.Seq == nil {
			return
		}
		if !d.Ack(*msg.V, *msg.Src, *msg.Seq) {
			log.Printf("otclient: ack for %s/%s matched no inflight op (src=%s seq=%d)", msg.C, msg.D, *msg.Src, *msg.Seq)
		}
		return
	}

	// A full op: could still be this connection's own inflight echoed
	// back by a relaxed transport, so try Ack first before treating it as
	// remote. A committed op carries its base version, so the version it
	// acknowledges is one past that.
	if msg.Op.Src != nil && msg.Op.Seq != nil {
		v := int64(0)
		if msg.Op.V != nil {
			v = *msg.Op.V
		}
		if d.Ack(v+1, *msg.Op.Src, *msg.Op.Seq) {
			return
		}
	}
	d.RemoteOp(msg.Op)
}

// connSink implementation, used by Doc.

func (c *Connection) canSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connection) nextSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqCounter++
	return c.seqCounter
}

func (c *Connection) clientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Connection) transmit(collection, id string, op *ot.Op) error {
	return c.send(wireproto.OpMessage(collection, id, op))
}

func (c *Connection) scheduleFlush(fn func()) {
	c.mu.Lock()
	scheduler := c.scheduler
	c.mu.Unlock()

	if scheduler != nil {
		scheduler(fn)
		return
	}
	fn()
}

// SetScheduler overrides the default synchronous flush dispatch, e.g. to
// hop onto a dedicated goroutine mailbox.
func (c *Connection) SetScheduler(scheduler func(fn func())) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = scheduler
}

func (c *Connection) send(msg wireproto.Message) error {
	c.mu.Lock()
	transport := c.transport
	connected := c.connected
	c.mu.Unlock()

	if !connected || transport == nil {
		return &ot.Error{Code: ot.CodeConnectionClosed, Message: "send attempted with transport down"}
	}
	return transport.Send(msg)
}
