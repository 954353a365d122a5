package ot

import "otsync/internal/ottypes"

// CheckOp validates structural well-formedness: rejects a nil op, requires
// exactly one of create/del/op, and cross-checks the create type and the
// src/seq pairing.
func CheckOp(reg *ottypes.Registry, op *Op) error {
	if op == nil {
		return newError(CodeBadlyFormed, "op is nil")
	}

	switch op.Kind {
	case OpKindCreate:
		if op.Create == nil || op.Create.Type == "" {
			return newError(CodeBadlyFormed, "create op missing type")
		}
		if _, ok := reg.Get(op.Create.Type); !ok {
			return newError(CodeTypeNotRecognized, "type %q is not registered", op.Create.Type)
		}
	case OpKindEdit:
		if !op.HasEdit {
			return newError(CodeOpNotProvided, "edit op carries no payload")
		}
	case OpKindDelete:
		// del:true is the only legal shape; OpKindDelete implies it.
	default:
		return newError(CodeBadlyFormed, "op must be exactly one of create, op, or del")
	}

	if (op.Src == nil) != (op.Seq == nil) {
		return newError(CodeBadlyFormed, "src and seq must be set together or both absent")
	}

	return nil
}
