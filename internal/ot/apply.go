package ot

import "otsync/internal/ottypes"

// Apply mutates snapshot in place per op, incrementing snapshot.V by
// exactly 1 on every outcome, including a structural no-op. reg resolves
// type names/URIs to handlers.
func Apply(reg *ottypes.Registry, snapshot *Snapshot, op *Op) error {
	if op.V != nil && *op.V != snapshot.V {
		return newError(CodeVersionMismatchOnApply, "op.v=%d snapshot.v=%d", *op.V, snapshot.V)
	}

	switch op.Kind {
	case OpKindCreate:
		if snapshot.Exists() {
			return newError(CodeAlreadyCreated, "document %q already exists", snapshot.ID)
		}
		t, ok := reg.Get(op.Create.Type)
		if !ok {
			return newError(CodeTypeNotRecognized, "type %q is not registered", op.Create.Type)
		}
		data, err := t.Create(op.Create.Data)
		if err != nil {
			return newError(CodeBadlyFormed, "create: %v", err)
		}
		snapshot.Type = t.URI()
		snapshot.Data = data
		snapshot.V++
		return nil

	case OpKindDelete:
		snapshot.Type = Nonexistent
		snapshot.Data = nil
		snapshot.V++
		return nil

	case OpKindEdit:
		if !snapshot.Exists() {
			return newError(CodeDoesNotExist, "document %q does not exist", snapshot.ID)
		}
		if !op.HasEdit {
			return newError(CodeOpNotProvided, "edit op carries no payload")
		}
		t, ok := reg.Get(snapshot.Type)
		if !ok {
			return newError(CodeTypeNotRecognized, "type %q is not registered", snapshot.Type)
		}
		data, err := t.Apply(snapshot.Data, op.Edit)
		if err != nil {
			return newError(CodeBadlyFormed, "apply: %v", err)
		}
		snapshot.Data = data
		snapshot.V++
		return nil

	default:
		// Structural no-op (none of create, op, del): only the version moves.
		snapshot.V++
		return nil
	}
}
