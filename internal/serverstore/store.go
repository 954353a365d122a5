// Package serverstore holds the Store contract (snapshots plus an
// append-only per-document op log) and two implementations: an in-memory
// reference store and a Postgres-backed durable one.
package serverstore

import (
	"context"

	"otsync/internal/ot"
)

// Meta carries out-of-band bookkeeping stamped onto a log entry at commit
// time.
type Meta struct {
	// Ts is wall-clock milliseconds at commit.
	Ts int64 `json:"ts"`
}

// StoredOp is a log entry: the committed op plus its collection/id and
// metadata. Entry i in a document's log always has Op.V == int64(i).
type StoredOp struct {
	Op         *ot.Op `json:"op"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	M          Meta   `json:"m"`
}

// Store is the small commit/fetch interface the rest of the system treats
// the persistence layer through. The network transport and the database
// are both external collaborators per spec.md §1; Store is the seam.
type Store interface {
	// GetSnapshot returns a defensive clone of the current snapshot, or the
	// empty (v=0, type=nonexistent) snapshot if the document was never
	// created.
	GetSnapshot(ctx context.Context, collection, id string) (*ot.Snapshot, error)

	// GetOps returns the contiguous log slice [from, to). A nil to means
	// unbounded (through the current head).
	GetOps(ctx context.Context, collection, id string, from int64, to *int64) ([]*StoredOp, error)

	// Commit is an atomic compare-and-swap: it succeeds iff the store's
	// current version for (collection, id) equals op.V (the op's base
	// version, already rebased to the head by the caller). On success it
	// appends the stored form of op to the log and replaces the snapshot
	// with newSnapshot. It never applies a partial update.
	Commit(ctx context.Context, collection, id string, op *ot.Op, newSnapshot *ot.Snapshot) (bool, error)

	// Ping reports whether the backing store is reachable, for the health
	// endpoint.
	Ping(ctx context.Context) error
}
