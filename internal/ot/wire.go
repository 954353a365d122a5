package ot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireOp mirrors the wire shape of §3/§6: exactly one of create/op/del,
// plus v/src/seq. json.RawMessage lets us tell "field absent" apart from
// "field present with a zero-ish value" before decoding the edit payload,
// which CheckOp's OpNotProvided rule depends on.
type wireOp struct {
	Create *CreatePayload  `json:"create,omitempty"`
	Op     json.RawMessage `json:"op,omitempty"`
	Del    *bool           `json:"del,omitempty"`
	V      *int64          `json:"v,omitempty"`
	Src    *string         `json:"src,omitempty"`
	Seq    *int64          `json:"seq,omitempty"`
}

// MarshalJSON encodes Op to the wire shape. The Edit payload is encoded as
// whatever json.Marshal produces for it (int, string, or a TextOp struct
// from ottypes, which carries its own json tags).
func (o *Op) MarshalJSON() ([]byte, error) {
	w := wireOp{V: o.V, Src: o.Src, Seq: o.Seq}
	switch o.Kind {
	case OpKindCreate:
		w.Create = o.Create
	case OpKindEdit:
		if o.HasEdit {
			raw, err := json.Marshal(o.Edit)
			if err != nil {
				return nil, fmt.Errorf("ot: marshal edit payload: %w", err)
			}
			w.Op = raw
		}
	case OpKindDelete:
		t := true
		w.Del = &t
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape. The edit payload is left as the
// generic value json.Unmarshal produces (float64/string/map/[]interface{})
// unless the caller re-decodes it into a concrete type via DecodeEditAs.
func (o *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*o = Op{V: w.V, Src: w.Src, Seq: w.Seq}

	switch {
	case w.Create != nil:
		o.Kind = OpKindCreate
		o.Create = w.Create
	case w.Del != nil && *w.Del:
		o.Kind = OpKindDelete
	case w.Op != nil && !bytes.Equal(w.Op, []byte("null")):
		o.Kind = OpKindEdit
		o.HasEdit = true
		var generic interface{}
		if err := json.Unmarshal(w.Op, &generic); err != nil {
			return fmt.Errorf("ot: unmarshal edit payload: %w", err)
		}
		o.Edit = generic
	default:
		// No recognized shape present; leave Kind as OpKindInvalid so
		// CheckOp rejects it as BadlyFormed rather than guessing.
		o.Kind = OpKindInvalid
	}
	return nil
}

// DecodeEditAs re-decodes a generically-unmarshaled edit payload (as
// produced by UnmarshalJSON) into a concrete type, typically an
// ottypes.TextOp. Callers on the receiving end of the wire must call this
// once they know the document's type, since JSON alone can't recover a
// Go struct shape from a bare map.
func DecodeEditAs(payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ot: re-marshal edit payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ot: decode edit payload: %w", err)
	}
	return nil
}
