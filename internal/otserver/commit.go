// Package otserver is the server-side commit loop and orchestrator: fetch,
// historical transform, optimistic CAS commit, and fan-out to subscribers.
package otserver

import (
	"context"
	"log"

	"otsync/internal/ot"
	"otsync/internal/ottypes"
	"otsync/internal/serverstore"
)

// DefaultMaxRetries matches the spec's submitOp default.
const DefaultMaxRetries = 10

// SubmitOptions configures a single submitOp call.
type SubmitOptions struct {
	MaxRetries int
}

// SubmitResult is what submitOp returns on success.
type SubmitResult struct {
	Op       *ot.Op
	Snapshot *ot.Snapshot
	Ops      []*serverstore.StoredOp
}

// SubmitOp is the authoritative commit path (spec.md §4.5): validate,
// fetch, historically-rebase if the op is stale, apply, and CAS-commit,
// retrying on CAS conflict for at most MaxRetries attempts in all.
func SubmitOp(ctx context.Context, store serverstore.Store, reg *ottypes.Registry, collection, id string, op *ot.Op, opts SubmitOptions) (*SubmitResult, error) {
	if err := ot.CheckOp(reg, op); err != nil {
		return nil, err
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		snapshot, err := store.GetSnapshot(ctx, collection, id)
		if err != nil {
			return nil, err
		}

		working := op.Clone()
		if working.V == nil {
			head := snapshot.V
			working.V = &head
		}

		if *working.V > snapshot.V {
			return nil, &ot.Error{Code: ot.CodeBadlyFormed, Message: "op base version is ahead of the server"}
		}

		var historical []*serverstore.StoredOp
		if *working.V < snapshot.V {
			to := snapshot.V
			historical, err = store.GetOps(ctx, collection, id, *working.V, &to)
			if err != nil {
				return nil, err
			}
			if int64(len(historical)) != snapshot.V-*working.V {
				return nil, &ot.Error{Code: ot.CodeTransformOpsNotFound, Message: "server log lacks entries needed to rebase"}
			}
			for _, h := range historical {
				if working.SameSource(h.Op) {
					return nil, &ot.Error{Code: ot.CodeOpAlreadySubmitted, Message: "op with this (src, seq) was already committed"}
				}
				if err := ot.Transform(reg, snapshot.Type, working, h.Op); err != nil {
					return nil, err
				}
			}
		}

		newSnapshot := snapshot.Clone()
		if err := ot.Apply(reg, newSnapshot, working); err != nil {
			return nil, err
		}

		ok, err := store.Commit(ctx, collection, id, working, newSnapshot)
		if err != nil {
			return nil, err
		}
		if ok {
			return &SubmitResult{Op: working, Snapshot: newSnapshot, Ops: historical}, nil
		}

		log.Printf("otserver: commit CAS conflict on %s/%s, retrying (attempt %d)", collection, id, attempt+1)
	}

	return nil, &ot.Error{Code: ot.CodeMaxSubmitRetriesExceeded, Message: "exceeded maximum submit retries"}
}
