package ot

import "otsync/internal/ottypes"

// Transform mutates op in place to reflect that applied was applied first
// against the same base version. typ is the document's type at the time
// applied was committed (needed only for the edit/edit case). The tie-break
// side for the submitted op is hard-coded 'left': the server applies this
// when rebasing a submitted op forward over the log, treating the
// submitted op as lower priority than the already-committed one.
//
//	op \ applied   Create              Edit                          Delete
//	Create         err AlreadyCreated  err AlreadyCreated            err WasDeleted
//	Edit           err AlreadyCreated  type.Transform(op,applied,L)  err WasDeleted
//	Delete         ok (no change)      ok (no change)                ok (no change)
//
// Any other combination (e.g. an already-neutralized op) is treated as a
// no-op: ok, no change.
func Transform(reg *ottypes.Registry, typ string, op *Op, applied *Op) error {
	if op.V != nil && applied.V != nil && *op.V != *applied.V {
		return newError(CodeVersionMismatchOnTransform, "op.v=%d applied.v=%d", *op.V, *applied.V)
	}

	switch {
	case (op.Kind == OpKindEdit && !op.HasEdit) || (applied.Kind == OpKindEdit && !applied.HasEdit):
		// A payload-less edit is the neutralized no-op shape: ok, no change.

	case op.Kind == OpKindCreate && applied.Kind == OpKindCreate:
		return newError(CodeAlreadyCreated, "concurrent create")
	case op.Kind == OpKindCreate && applied.Kind == OpKindEdit:
		return newError(CodeAlreadyCreated, "document was created concurrently")
	case op.Kind == OpKindCreate && applied.Kind == OpKindDelete:
		return newError(CodeWasDeleted, "document was deleted concurrently")

	case op.Kind == OpKindEdit && applied.Kind == OpKindCreate:
		return newError(CodeAlreadyCreated, "document was created concurrently")
	case op.Kind == OpKindEdit && applied.Kind == OpKindEdit:
		t, ok := reg.Get(typ)
		if !ok {
			return newError(CodeTypeNotRecognized, "type %q is not registered", typ)
		}
		transformed, err := t.Transform(op.Edit, applied.Edit, ottypes.SideLeft)
		if err != nil {
			return newError(CodeBadlyFormed, "transform: %v", err)
		}
		op.Edit = transformed
	case op.Kind == OpKindEdit && applied.Kind == OpKindDelete:
		return newError(CodeWasDeleted, "document was deleted concurrently")

	case op.Kind == OpKindDelete:
		// Delete transformed against anything is unchanged: a delete
		// commutes with whatever came before it.

	default:
		// Unrecognized/no-op combination: ok, no change.
	}

	if op.V != nil {
		*op.V++
	}
	return nil
}
