package ottypes

import "fmt"

// InsertOp inserts Text at Pos.
type InsertOp struct {
	Pos  int    `json:"pos"`
	Text string `json:"text"`
}

// DeleteOp removes Count runes starting at Pos.
type DeleteOp struct {
	Pos   int `json:"pos"`
	Count int `json:"count"`
}

// TextOp is a single-component edit: exactly one of Insert or Delete is
// set. There is no retain vector — this is the simplest possible text type,
// a reference vehicle, not a production-grade rich-text OT type.
type TextOp struct {
	Insert *InsertOp `json:"insert,omitempty"`
	Delete *DeleteOp `json:"delete,omitempty"`
}

// SimpleTextType is the reference single-operation text type.
type SimpleTextType struct{}

func NewSimpleTextType() *SimpleTextType { return &SimpleTextType{} }

func (t *SimpleTextType) Name() string { return "simple-text" }
func (t *SimpleTextType) URI() string  { return "https://otsync.dev/types/simple-text" }

func (t *SimpleTextType) Create(data interface{}) (interface{}, error) {
	if data == nil {
		return "", nil
	}
	s, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("simple-text: create data must be a string, got %T", data)
	}
	return s, nil
}

func (t *SimpleTextType) Apply(snapshotData interface{}, opPayload interface{}) (interface{}, error) {
	s, ok := snapshotData.(string)
	if !ok {
		return nil, fmt.Errorf("simple-text: snapshot data must be a string, got %T", snapshotData)
	}
	op, ok := opPayload.(TextOp)
	if !ok {
		return nil, fmt.Errorf("simple-text: op payload must be a TextOp, got %T", opPayload)
	}
	runes := []rune(s)
	switch {
	case op.Insert != nil:
		pos := clamp(op.Insert.Pos, 0, len(runes))
		out := make([]rune, 0, len(runes)+len([]rune(op.Insert.Text)))
		out = append(out, runes[:pos]...)
		out = append(out, []rune(op.Insert.Text)...)
		out = append(out, runes[pos:]...)
		return string(out), nil
	case op.Delete != nil:
		pos := clamp(op.Delete.Pos, 0, len(runes))
		end := clamp(pos+op.Delete.Count, pos, len(runes))
		out := make([]rune, 0, len(runes)-(end-pos))
		out = append(out, runes[:pos]...)
		out = append(out, runes[end:]...)
		return string(out), nil
	default:
		return nil, fmt.Errorf("simple-text: op payload has neither insert nor delete")
	}
}

// Transform implements the design-level rules of the spec's §4.2 table.
func (t *SimpleTextType) Transform(opPayload, appliedPayload interface{}, side Side) (interface{}, error) {
	op, ok := opPayload.(TextOp)
	if !ok {
		return nil, fmt.Errorf("simple-text: transform payload must be a TextOp, got %T", opPayload)
	}
	applied, ok := appliedPayload.(TextOp)
	if !ok {
		return nil, fmt.Errorf("simple-text: transform applied payload must be a TextOp, got %T", appliedPayload)
	}

	switch {
	case op.Insert != nil && applied.Insert != nil:
		return transformInsertInsert(op, applied, side), nil
	case op.Insert != nil && applied.Delete != nil:
		return transformInsertDelete(op, applied), nil
	case op.Delete != nil && applied.Insert != nil:
		return transformDeleteInsert(op, applied), nil
	case op.Delete != nil && applied.Delete != nil:
		return transformDeleteDelete(op, applied), nil
	default:
		return nil, fmt.Errorf("simple-text: op payload has neither insert nor delete")
	}
}

func transformInsertInsert(op, applied TextOp, side Side) TextOp {
	pos := op.Insert.Pos
	switch {
	case applied.Insert.Pos < pos:
		pos += len([]rune(applied.Insert.Text))
	case applied.Insert.Pos == pos && side == SideRight:
		pos += len([]rune(applied.Insert.Text))
	}
	return TextOp{Insert: &InsertOp{Pos: pos, Text: op.Insert.Text}}
}

func transformInsertDelete(op, applied TextOp) TextOp {
	a, b := applied.Delete.Pos, applied.Delete.Pos+applied.Delete.Count
	pos := op.Insert.Pos
	switch {
	case b <= pos:
		pos -= applied.Delete.Count
	case a < pos && pos < b:
		pos = a
	}
	return TextOp{Insert: &InsertOp{Pos: nonNegative(pos), Text: op.Insert.Text}}
}

func transformDeleteInsert(op, applied TextOp) TextOp {
	pos := op.Delete.Pos
	if applied.Insert.Pos <= pos {
		pos += len([]rune(applied.Insert.Text))
	}
	return TextOp{Delete: &DeleteOp{Pos: pos, Count: op.Delete.Count}}
}

func transformDeleteDelete(op, applied TextOp) TextOp {
	us, ue := op.Delete.Pos, op.Delete.Pos+op.Delete.Count
	as, ae := applied.Delete.Pos, applied.Delete.Pos+applied.Delete.Count

	switch {
	case ae <= us:
		us -= applied.Delete.Count
		ue -= applied.Delete.Count
	case as >= ue:
		// unchanged
	default:
		overlapStart := maxInt(us, as)
		overlapEnd := minInt(ue, ae)
		overlapLen := overlapEnd - overlapStart
		newCount := op.Delete.Count - overlapLen
		if as < us {
			us = as
		}
		ue = us + nonNegative(newCount)
	}
	return TextOp{Delete: &DeleteOp{Pos: nonNegative(us), Count: nonNegative(ue - us)}}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
