package serverstore

import (
	"context"
	"sync"
	"time"

	"otsync/internal/ot"
)

type docKey struct {
	collection string
	id         string
}

// MemoryStore is the reference Store: keyed maps per collection, guarded by
// a single mutex. The scheduling model this system assumes is
// single-threaded cooperative (see spec.md §5); the mutex here exists only
// because Go itself is preemptively scheduled, so the CAS in Commit still
// needs to observe a consistent version under concurrent goroutines. It
// satisfies the atomicity contract trivially.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[docKey]*ot.Snapshot
	logs      map[docKey][]*StoredOp
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[docKey]*ot.Snapshot),
		logs:      make(map[docKey][]*StoredOp),
		now:       time.Now,
	}
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, collection, id string) (*ot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey{collection, id}
	s, ok := m.snapshots[key]
	if !ok {
		return ot.NewEmptySnapshot(id), nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetOps(ctx context.Context, collection, id string, from int64, to *int64) ([]*StoredOp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey{collection, id}
	log := m.logs[key]

	upper := int64(len(log))
	if to != nil && *to < upper {
		upper = *to
	}
	if from < 0 {
		from = 0
	}
	if from >= upper {
		return nil, nil
	}

	out := make([]*StoredOp, 0, upper-from)
	for _, entry := range log[from:upper] {
		clone := *entry
		clone.Op = entry.Op.Clone()
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryStore) Commit(ctx context.Context, collection, id string, op *ot.Op, newSnapshot *ot.Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey{collection, id}
	current, ok := m.snapshots[key]
	currentV := int64(0)
	if ok {
		currentV = current.V
	}

	baseV := int64(0)
	if op.V != nil {
		baseV = *op.V
	}
	if baseV != currentV {
		return false, nil
	}

	entry := &StoredOp{
		Op:         op.Clone(),
		Collection: collection,
		ID:         id,
		M:          Meta{Ts: m.now().UnixMilli()},
	}
	m.logs[key] = append(m.logs[key], entry)
	m.snapshots[key] = newSnapshot.Clone()
	return true, nil
}

// Ping always succeeds: the in-memory store has no external dependency to
// lose reachability to.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
