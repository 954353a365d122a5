package serverstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"otsync/internal/ot"
)

// PGStore is a durable Store backed by Postgres, grounded on the teacher
// repo's operations/rooms persistence (ot.go's persistOperation /
// GetOperationsSince): one row per committed op in an append-only table,
// one row per document holding the current snapshot.
//
// Schema (see cmd/otserver/schema.sql):
//
//	CREATE TABLE ot_snapshots (
//	    collection TEXT NOT NULL,
//	    id         TEXT NOT NULL,
//	    v          BIGINT NOT NULL,
//	    type       TEXT NOT NULL,
//	    data       JSONB,
//	    PRIMARY KEY (collection, id)
//	);
//	CREATE TABLE ot_operations (
//	    collection TEXT NOT NULL,
//	    id         TEXT NOT NULL,
//	    v          BIGINT NOT NULL,
//	    op         JSONB NOT NULL,
//	    ts         BIGINT NOT NULL,
//	    PRIMARY KEY (collection, id, v)
//	);
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGStore wraps an already-connected *sql.DB (opened with the "postgres"
// driver registered by github.com/lib/pq).
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

func (p *PGStore) GetSnapshot(ctx context.Context, collection, id string) (*ot.Snapshot, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT v, type, data FROM ot_snapshots WHERE collection = $1 AND id = $2`,
		collection, id)

	var (
		version int64
		typ     string
		dataRaw []byte
	)
	err := row.Scan(&version, &typ, &dataRaw)
	if err == sql.ErrNoRows {
		return ot.NewEmptySnapshot(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("serverstore: get snapshot: %w", err)
	}

	var data interface{}
	if len(dataRaw) > 0 {
		if err := json.Unmarshal(dataRaw, &data); err != nil {
			return nil, fmt.Errorf("serverstore: decode snapshot data: %w", err)
		}
	}
	return &ot.Snapshot{ID: id, V: version, Type: typ, Data: data}, nil
}

func (p *PGStore) GetOps(ctx context.Context, collection, id string, from int64, to *int64) ([]*StoredOp, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if to != nil {
		rows, err = p.db.QueryContext(ctx,
			`SELECT v, op, ts FROM ot_operations WHERE collection = $1 AND id = $2 AND v >= $3 AND v < $4 ORDER BY v ASC`,
			collection, id, from, *to)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT v, op, ts FROM ot_operations WHERE collection = $1 AND id = $2 AND v >= $3 ORDER BY v ASC`,
			collection, id, from)
	}
	if err != nil {
		return nil, fmt.Errorf("serverstore: get ops: %w", err)
	}
	defer rows.Close()

	var out []*StoredOp
	for rows.Next() {
		var (
			version int64
			opRaw   []byte
			ts      int64
		)
		if err := rows.Scan(&version, &opRaw, &ts); err != nil {
			return nil, fmt.Errorf("serverstore: scan op row: %w", err)
		}
		var op ot.Op
		if err := json.Unmarshal(opRaw, &op); err != nil {
			return nil, fmt.Errorf("serverstore: decode op: %w", err)
		}
		out = append(out, &StoredOp{
			Op:         &op,
			Collection: collection,
			ID:         id,
			M:          Meta{Ts: ts},
		})
	}
	return out, rows.Err()
}

// Commit performs the CAS inside a transaction: it re-reads the current
// version under FOR UPDATE, and only proceeds if it matches op.V.
func (p *PGStore) Commit(ctx context.Context, collection, id string, op *ot.Op, newSnapshot *ot.Snapshot) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("serverstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentV int64
	err = tx.QueryRowContext(ctx,
		`SELECT v FROM ot_snapshots WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id).Scan(&currentV)
	if err == sql.ErrNoRows {
		currentV = 0
	} else if err != nil {
		return false, fmt.Errorf("serverstore: lock snapshot: %w", err)
	}

	baseV := int64(0)
	if op.V != nil {
		baseV = *op.V
	}
	if baseV != currentV {
		return false, nil
	}

	opJSON, err := json.Marshal(op)
	if err != nil {
		return false, fmt.Errorf("serverstore: marshal op: %w", err)
	}
	dataJSON, err := json.Marshal(newSnapshot.Data)
	if err != nil {
		return false, fmt.Errorf("serverstore: marshal snapshot data: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ot_operations (collection, id, v, op, ts) VALUES ($1, $2, $3, $4, $5)`,
		collection, id, baseV, opJSON, p.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("serverstore: insert op: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ot_snapshots (collection, id, v, type, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			v = EXCLUDED.v, type = EXCLUDED.type, data = EXCLUDED.data`,
		collection, id, newSnapshot.V, newSnapshot.Type, dataJSON)
	if err != nil {
		return false, fmt.Errorf("serverstore: upsert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("serverstore: commit tx: %w", err)
	}
	return true, nil
}

// Ping reports whether Postgres is reachable.
func (p *PGStore) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("serverstore: ping postgres: %w", err)
	}
	return nil
}
