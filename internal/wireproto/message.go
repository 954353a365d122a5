// Package wireproto is the message envelope shared by the client
// Connection and the server Agent: the transport contract of spec.md §6.
package wireproto

import (
	"encoding/json"
	"fmt"

	"otsync/internal/ot"
)

// Action tags for the "a" field.
const (
	ActionHandshake   = "hs"
	ActionSubscribe   = "s"
	ActionUnsubscribe = "us"
	ActionFetch       = "f"
	ActionOp          = "op"
)

// Message is the wire envelope. For ActionOp, Op's own create/op/del/v/src/seq
// fields are inlined alongside the envelope fields rather than nested under
// "data" — MarshalJSON/UnmarshalJSON below do the field-merging this
// requires, since Op carries its own tagged-union JSON codec.
//
// V/Src/Seq are used only for the lightweight ack shape {a:'op', v, src,
// seq} with no create/op/del payload; when Op is set, its own v/src/seq
// supersede them on the wire.
type Message struct {
	A        string          `json:"a"`
	C        string          `json:"c,omitempty"`
	D        string          `json:"d,omitempty"`
	ClientID string          `json:"id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ot.Error       `json:"error,omitempty"`
	V        *int64          `json:"v,omitempty"`
	Src      *string         `json:"src,omitempty"`
	Seq      *int64          `json:"seq,omitempty"`
	Op       *ot.Op          `json:"-"`
}

// Handshake builds the once-at-connect {a:'hs', id} message.
func Handshake(clientID string) Message {
	return Message{A: ActionHandshake, ClientID: clientID}
}

// SnapshotReply builds a subscribe/fetch reply carrying a snapshot.
func SnapshotReply(action, collection, id string, snapshot *ot.Snapshot) (Message, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return Message{}, fmt.Errorf("wireproto: marshal snapshot: %w", err)
	}
	return Message{A: action, C: collection, D: id, Data: raw}, nil
}

// ErrorReply builds an {error} envelope for the given action.
func ErrorReply(action, collection, id string, err error) Message {
	var otErr *ot.Error
	if e, ok := err.(*ot.Error); ok {
		otErr = e
	} else {
		otErr = &ot.Error{Code: "Unknown", Message: err.Error()}
	}
	return Message{A: action, C: collection, D: id, Error: otErr}
}

// OpMessage builds an {op|create|del, v, src, seq} message for action "op".
func OpMessage(collection, id string, op *ot.Op) Message {
	return Message{A: ActionOp, C: collection, D: id, Op: op}
}

// AckMessage builds the lightweight submit ack {a:'op', v, src, seq} sent
// to the submitter on successful commit.
func AckMessage(collection, id string, version int64, src string, seq int64) Message {
	return Message{A: ActionOp, C: collection, D: id, V: &version, Src: &src, Seq: &seq}
}

func (m Message) MarshalJSON() ([]byte, error) {
	type envelope Message
	raw, err := json.Marshal(envelope(m))
	if err != nil {
		return nil, err
	}
	if m.Op == nil {
		return raw, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}

	opRaw, err := json.Marshal(m.Op)
	if err != nil {
		return nil, fmt.Errorf("wireproto: marshal op: %w", err)
	}
	var opFields map[string]json.RawMessage
	if err := json.Unmarshal(opRaw, &opFields); err != nil {
		return nil, err
	}
	for k, v := range opFields {
		merged[k] = v
	}

	return json.Marshal(merged)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type envelope Message
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	*m = Message(e)

	if m.A == ActionOp {
		var op ot.Op
		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("wireproto: unmarshal op fields: %w", err)
		}
		if op.Kind != ot.OpKindInvalid {
			m.Op = &op
		}
	}
	return nil
}
