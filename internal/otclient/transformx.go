package otclient

import (
	"otsync/internal/ot"
	"otsync/internal/ottypes"
)

// transformX rewrites client (a local pending/inflight op) and server (an
// incoming op sharing the same base version) per spec.md §4.4. It returns
// serverNeutralized=true when server has been reduced to a pure version
// bump and must not be run through ot.Apply's edit path.
func transformX(reg *ottypes.Registry, typ string, client, server *ot.Op) (serverNeutralized bool, err error) {
	switch {
	case client.Kind == ot.OpKindDelete:
		// Delete wins locally: the server op becomes a no-op so later
		// pending ops see a clean base.
		neutralize(server)
		advanceBase(client)
		return true, nil

	case server.Kind == ot.OpKindDelete:
		return false, &ot.Error{Code: ot.CodeDocumentWasDeleted, Message: "document was deleted concurrently"}

	case server.Kind == ot.OpKindCreate:
		return false, &ot.Error{Code: ot.CodeAlreadyCreated, Message: "document was created concurrently"}

	case server.Kind == ot.OpKindEdit && !server.HasEdit:
		// Already-neutralized incoming op: nothing to rebase against.
		advanceBase(client)
		return false, nil

	case client.Kind == ot.OpKindCreate:
		return false, &ot.Error{Code: ot.CodeAlreadyCreated, Message: "document was created concurrently"}

	default:
		t, ok := reg.Get(typ)
		if !ok {
			return false, &ot.Error{Code: ot.CodeTypeNotRecognized, Message: "type " + typ + " is not registered"}
		}
		clientEdit, serverEdit := client.Edit, server.Edit
		newClientEdit, err := t.Transform(clientEdit, serverEdit, ottypes.SideLeft)
		if err != nil {
			return false, &ot.Error{Code: ot.CodeBadlyFormed, Message: "transform: " + err.Error()}
		}
		newServerEdit, err := t.Transform(serverEdit, clientEdit, ottypes.SideRight)
		if err != nil {
			return false, &ot.Error{Code: ot.CodeBadlyFormed, Message: "transform: " + err.Error()}
		}
		client.Edit = newClientEdit
		server.Edit = newServerEdit
		advanceBase(client)
		return false, nil
	}
}

// neutralize turns op into the no-op edit shape: applying it only bumps
// version, per the "server has no op payload" case of transformX.
func neutralize(op *ot.Op) {
	op.Kind = ot.OpKindEdit
	op.HasEdit = false
	op.Edit = nil
	op.Create = nil
}

// advanceBase moves a rebased client op's recorded base version forward by
// one, mirroring ot.Transform's bookkeeping at the server.
func advanceBase(op *ot.Op) {
	if op.V == nil {
		return
	}
	v := *op.V + 1
	op.V = &v
}
