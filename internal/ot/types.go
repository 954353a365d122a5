package ot

import "otsync/internal/ottypes"

// Nonexistent is the type sentinel for a document that has never been
// created (or was deleted).
const Nonexistent = "nonexistent"

// Snapshot is the versioned container for document state: {id, v, type,
// data, meta?}.
type Snapshot struct {
	ID   string                 `json:"id"`
	V    int64                  `json:"v"`
	Type string                 `json:"type"`
	Data interface{}            `json:"data,omitempty"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// NewEmptySnapshot returns the legitimate, subscribable "never created"
// snapshot for id: v=0, type=nonexistent, data absent.
func NewEmptySnapshot(id string) *Snapshot {
	return &Snapshot{ID: id, V: 0, Type: Nonexistent}
}

// Exists reports whether the snapshot denotes a live document.
func (s *Snapshot) Exists() bool {
	return s.Type != Nonexistent
}

// Clone returns a defensive, independent copy. The reference OT types in
// this repo (counter, simple-text) hold plain value payloads (int, string)
// that already copy by assignment in Go, so only the Meta map needs an
// explicit structural copy — there is no serialize/deserialize round trip.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Meta != nil {
		clone.Meta = make(map[string]interface{}, len(s.Meta))
		for k, v := range s.Meta {
			clone.Meta[k] = v
		}
	}
	return &clone
}

// OpKind discriminates the tagged-variant shape of an Op.
type OpKind int

const (
	OpKindInvalid OpKind = iota
	OpKindCreate
	OpKindEdit
	OpKindDelete
)

func (k OpKind) String() string {
	switch k {
	case OpKindCreate:
		return "create"
	case OpKindEdit:
		return "edit"
	case OpKindDelete:
		return "delete"
	default:
		return "invalid"
	}
}

// CreatePayload is the body of a Create op.
type CreatePayload struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Op is a tagged variant carrying exactly one of Create, Edit or Delete.
// Src and Seq are set together or both absent; together with v they form
// the wire identity of the op.
type Op struct {
	Kind OpKind

	Create *CreatePayload
	// Edit holds the type-specific edit payload. HasEdit distinguishes an
	// Edit-kind op that genuinely carries no payload (OpNotProvided) from
	// one whose payload happens to be the zero value.
	Edit    interface{}
	HasEdit bool

	V   *int64
	Src *string
	Seq *int64
}

// NewCreateOp builds a create op against base version v (nil if the op is
// to be accepted at the document's current head).
func NewCreateOp(typ string, data interface{}, v *int64) *Op {
	return &Op{Kind: OpKindCreate, Create: &CreatePayload{Type: typ, Data: data}, V: v}
}

// NewEditOp builds an edit op carrying payload against base version v.
func NewEditOp(payload interface{}, v *int64) *Op {
	return &Op{Kind: OpKindEdit, Edit: payload, HasEdit: true, V: v}
}

// NewDeleteOp builds a delete op against base version v.
func NewDeleteOp(v *int64) *Op {
	return &Op{Kind: OpKindDelete, V: v}
}

// WithSource stamps src/seq on op and returns it, for chaining at submit
// time.
func (o *Op) WithSource(src string, seq int64) *Op {
	o.Src = &src
	o.Seq = &seq
	return o
}

// SameSource reports whether o and other share a non-empty (src, seq)
// identity.
func (o *Op) SameSource(other *Op) bool {
	if o.Src == nil || o.Seq == nil || other.Src == nil || other.Seq == nil {
		return false
	}
	return *o.Src == *other.Src && *o.Seq == *other.Seq
}

// Clone returns an independent copy. Per Snapshot.Clone, payload values are
// plain Go value types and copy by assignment; only the pointer-typed
// envelope fields (V, Src, Seq, Create) need explicit copying.
func (o *Op) Clone() *Op {
	if o == nil {
		return nil
	}
	clone := *o
	if o.V != nil {
		v := *o.V
		clone.V = &v
	}
	if o.Src != nil {
		s := *o.Src
		clone.Src = &s
	}
	if o.Seq != nil {
		sq := *o.Seq
		clone.Seq = &sq
	}
	if o.Create != nil {
		c := *o.Create
		clone.Create = &c
	}
	return &clone
}

// Side re-exports ottypes.Side so callers outside this package don't need
// to import ottypes just to pick a tie-break.
type Side = ottypes.Side

const (
	SideLeft  = ottypes.SideLeft
	SideRight = ottypes.SideRight
)
