// Package otclient is the client replica engine: a per-(collection,id)
// state machine holding optimistic local state, a single in-flight
// operation, and a rebased pending queue (spec.md §4.3, §4.4).
package otclient

import (
	"log"
	"sync"

	"otsync/internal/ot"
	"otsync/internal/ottypes"
)

// Events are explicit, synchronously-invoked subscription callbacks (the
// "event emitter" migration of spec.md §9): each is called during the
// current turn and must not re-enter the Doc.
type Events struct {
	OnOp           func(op *ot.Op)
	OnCreate       func(op *ot.Op)
	OnDel          func(op *ot.Op)
	OnError        func(err error)
	OnLoad         func(snapshot *ot.Snapshot)
	OnHardRollback func(err error)
}

// pendingRecord is one queued local submission: its op, the base version
// it was authored against, and the caller's completion callback.
type pendingRecord struct {
	op       *ot.Op
	callback func(error)
}

// Doc is the per-document replica. version is always the last
// server-acknowledged version, never incremented by local optimistic
// apply. inflight is the single operation sent but not yet acked; pending
// holds everything not yet sent.
type Doc struct {
	mu sync.Mutex

	Collection string
	ID         string

	version        int64
	docType        string // ot.Nonexistent when the document doesn't exist
	data           interface{}
	subscribed     bool
	wantSubscribed bool // survives disconnect/hard rollback; cleared only by an explicit Unsubscribe

	inflight *pendingRecord
	pending  []*pendingRecord

	registry *ottypes.Registry
	conn     connSink
	events   Events
}

// connSink is the subset of *Connection a Doc needs, so Doc can be tested
// without a real transport.
type connSink interface {
	canSend() bool
	nextSeq() int64
	clientID() string
	transmit(collection, id string, op *ot.Op) error
	scheduleFlush(fn func())
	resubscribe(collection, id string)
}

// NewDoc constructs a replica bound to conn, starting nonexistent at v=0 —
// still a legitimate, subscribable entity per spec.md §3.
func NewDoc(collection, id string, reg *ottypes.Registry, conn connSink, events Events) *Doc {
	return &Doc{
		Collection: collection,
		ID:         id,
		docType:    ot.Nonexistent,
		registry:   reg,
		conn:       conn,
		events:     events,
	}
}

// Version returns the last server-acknowledged version.
func (d *Doc) Version() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Snapshot returns the replica's current optimistic {type, data, v}.
func (d *Doc) Snapshot() *ot.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &ot.Snapshot{ID: d.ID, V: d.version, Type: d.docType, Data: d.data}
}

func (d *Doc) exists() bool { return d.docType != ot.Nonexistent }

// Load seeds the replica from a freshly fetched snapshot, e.g. after
// subscribe/resubscribe.
func (d *Doc) Load(snapshot *ot.Snapshot) {
	d.mu.Lock()
	d.version = snapshot.V
	d.docType = snapshot.Type
	d.data = snapshot.Data
	d.subscribed = true
	d.mu.Unlock()

	if d.events.OnLoad != nil {
		d.events.OnLoad(snapshot)
	}
}

// markWantSubscribed records that the caller wants this doc subscribed;
// it persists across disconnect and hard rollback, driving automatic
// resubscribe, and is only cleared by markUnsubscribed.
func (d *Doc) markWantSubscribed() {
	d.mu.Lock()
	d.wantSubscribed = true
	d.mu.Unlock()
}

// markUnsubscribed records an explicit Unsubscribe: no further automatic
// resubscribe is attempted for this doc.
func (d *Doc) markUnsubscribed() {
	d.mu.Lock()
	d.wantSubscribed = false
	d.subscribed = false
	d.mu.Unlock()
}

// SubmitCreate optimistically creates the document locally and enqueues
// the op for transmission.
func (d *Doc) SubmitCreate(typ string, data interface{}, cb func(error)) error {
	return d.submit(ot.NewCreateOp(typ, data, nil), cb)
}

// SubmitEdit requires the document to currently exist locally.
func (d *Doc) SubmitEdit(payload interface{}, cb func(error)) error {
	d.mu.Lock()
	if !d.exists() {
		d.mu.Unlock()
		return &ot.Error{Code: ot.CodeDoesNotExist, Message: "cannot edit a nonexistent document"}
	}
	d.mu.Unlock()
	return d.submit(ot.NewEditOp(payload, nil), cb)
}

// SubmitDelete requires the document to currently exist locally.
func (d *Doc) SubmitDelete(cb func(error)) error {
	d.mu.Lock()
	if !d.exists() {
		d.mu.Unlock()
		return &ot.Error{Code: ot.CodeDoesNotExist, Message: "cannot delete a nonexistent document"}
	}
	d.mu.Unlock()
	return d.submit(ot.NewDeleteOp(nil), cb)
}

// submit applies op optimistically, records the base version it was
// authored against, enqueues it, and schedules a flush (spec.md §4.3
// Submit).
func (d *Doc) submit(op *ot.Op, cb func(error)) error {
	d.mu.Lock()

	snapshot := &ot.Snapshot{ID: d.ID, V: d.version, Type: d.docType, Data: d.data}
	if err := ot.Apply(d.registry, snapshot, op); err != nil {
		d.mu.Unlock()
		return err
	}
	// Optimistic local apply never advances d.version — only acks do.
	d.docType = snapshot.Type
	d.data = snapshot.Data

	base := d.version
	op.V = &base
	d.pending = append(d.pending, &pendingRecord{op: op, callback: cb})
	d.mu.Unlock()

	d.conn.scheduleFlush(d.flush)
	return nil
}

// flush sends the head of pending if nothing is already inflight and the
// connection can send (spec.md §4.3 Flush).
func (d *Doc) flush() {
	d.mu.Lock()
	if d.inflight != nil || len(d.pending) == 0 || !d.conn.canSend() {
		d.mu.Unlock()
		return
	}
	record := d.pending[0]
	d.pending = d.pending[1:]
	d.inflight = record

	// An op being resent (requeued after a disconnect or a failed transmit)
	// keeps its original (src, seq), so the server can detect a duplicate.
	if record.op.Src == nil || record.op.Seq == nil {
		record.op.WithSource(d.conn.clientID(), d.conn.nextSeq())
	}
	op := record.op
	d.mu.Unlock()

	if err := d.conn.transmit(d.Collection, d.ID, op); err != nil {
		d.mu.Lock()
		d.inflight = nil
		d.pending = append([]*pendingRecord{record}, d.pending...)
		d.mu.Unlock()
	}
}

// Ack matches an acknowledgement against inflight by (src, seq); on match
// it advances version, fires the inflight callback, clears inflight, and
// flushes again.
func (d *Doc) Ack(serverVersion int64, src string, seq int64) bool {
	d.mu.Lock()
	if d.inflight == nil || !sameSource(d.inflight.op, src, seq) {
		d.mu.Unlock()
		return false
	}
	record := d.inflight
	d.inflight = nil
	d.version = serverVersion
	d.mu.Unlock()

	if record.callback != nil {
		record.callback(nil)
	}
	d.conn.scheduleFlush(d.flush)
	return true
}

func sameSource(op *ot.Op, src string, seq int64) bool {
	return op.Src != nil && op.Seq != nil && *op.Src == src && *op.Seq == seq
}

// RemoteOp handles an incoming op from the server that does not match
// inflight by (src, seq) — i.e. genuinely remote (spec.md §4.3 "Remote op
// arrival").
func (d *Doc) RemoteOp(remote *ot.Op) {
	v := int64(0)
	if remote.V != nil {
		v = *remote.V
	}

	d.mu.Lock()
	switch {
	case v < d.version:
		// Duplicate of something already applied locally; ignore.
		d.mu.Unlock()
		return
	case v > d.version:
		// Out-of-order: the reference design drops and warns rather than
		// fetching the intervening ops (spec.md §9 open question).
		d.mu.Unlock()
		log.Printf("otclient: dropping out-of-order remote op for %s/%s: have v=%d, got v=%d", d.Collection, d.ID, d.version, v)
		return
	}

	neutralized, err := d.rebaseOnRemoteLocked(remote)
	if err != nil {
		d.mu.Unlock()
		d.hardRollback(err)
		return
	}

	if neutralized {
		// A local delete already won: remote is now a pure version bump,
		// never run through the type's apply.
		d.version++
	} else {
		snapshot := &ot.Snapshot{ID: d.ID, V: d.version, Type: d.docType, Data: d.data}
		if err := ot.Apply(d.registry, snapshot, remote); err != nil {
			d.mu.Unlock()
			d.hardRollback(err)
			return
		}
		d.version = snapshot.V
		d.docType = snapshot.Type
		d.data = snapshot.Data
	}
	d.mu.Unlock()

	if !neutralized {
		d.fireRemoteEvent(remote)
	}
}

// rebaseOnRemoteLocked rebases inflight (if any) and every pending op
// against remote, per the pairwise rebase of spec.md §4.4. Caller holds
// d.mu. The returned bool reports whether remote was neutralized by a
// local delete and must be skipped by ot.Apply.
func (d *Doc) rebaseOnRemoteLocked(remote *ot.Op) (bool, error) {
	typ := d.docType
	neutralized := false

	if d.inflight != nil {
		skip, err := transformX(d.registry, typ, d.inflight.op, remote)
		if err != nil {
			return false, err
		}
		neutralized = neutralized || skip
	}
	for _, rec := range d.pending {
		skip, err := transformX(d.registry, typ, rec.op, remote)
		if err != nil {
			return false, err
		}
		neutralized = neutralized || skip
	}
	return neutralized, nil
}

func (d *Doc) fireRemoteEvent(remote *ot.Op) {
	switch remote.Kind {
	case ot.OpKindCreate:
		if d.events.OnCreate != nil {
			d.events.OnCreate(remote)
		}
	case ot.OpKindDelete:
		if d.events.OnDel != nil {
			d.events.OnDel(remote)
		}
	default:
		if d.events.OnOp != nil {
			d.events.OnOp(remote)
		}
	}
}

// hardRollback drops inflight and pending, resets to nonexistent, fails
// every dropped callback, and — per spec.md's HardRollback-resubscribe
// state transition — automatically resubscribes if the doc was wanted
// subscribed, to obtain fresh truth.
func (d *Doc) hardRollback(err error) {
	d.mu.Lock()
	dropped := make([]*pendingRecord, 0, len(d.pending)+1)
	if d.inflight != nil {
		dropped = append(dropped, d.inflight)
		d.inflight = nil
	}
	dropped = append(dropped, d.pending...)
	d.pending = nil
	d.docType = ot.Nonexistent
	d.data = nil
	d.subscribed = false
	wantSub := d.wantSubscribed
	collection, id := d.Collection, d.ID
	d.mu.Unlock()

	for _, rec := range dropped {
		if rec.callback != nil {
			rec.callback(err)
		}
	}
	if d.events.OnHardRollback != nil {
		d.events.OnHardRollback(err)
	}
	if d.events.OnError != nil {
		d.events.OnError(err)
	}

	if wantSub {
		d.conn.resubscribe(collection, id)
	}
}

// HandleDisconnect returns inflight to the head of pending so it is
// resent on reconnect, and marks the doc unsubscribed. wantSubscribed is
// untouched, so HandleConnect knows to resubscribe.
func (d *Doc) HandleDisconnect() {
	d.mu.Lock()
	if d.inflight != nil {
		d.pending = append([]*pendingRecord{d.inflight}, d.pending...)
		d.inflight = nil
	}
	d.subscribed = false
	d.mu.Unlock()
}

// HandleConnect resubscribes (to fetch a fresh snapshot, per spec.md's
// reconnect policy) if the doc was subscribed before the disconnect, then
// flushes any queued work now that the connection can send.
func (d *Doc) HandleConnect() {
	d.mu.Lock()
	wantSub := d.wantSubscribed
	collection, id := d.Collection, d.ID
	d.mu.Unlock()

	if wantSub {
		d.conn.resubscribe(collection, id)
	}
	d.conn.scheduleFlush(d.flush)
}

// Subscribed reports whether the replica currently believes it has a live
// subscription.
func (d *Doc) Subscribed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribed
}

// PendingCount and InflightPresent expose queue depth for tests and
// invariant checks (|inflight| in {0,1}).
func (d *Doc) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Doc) InflightPresent() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight != nil
}
