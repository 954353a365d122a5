package otserver

import (
	"context"
	"fmt"
	"log"

	"otsync/internal/wireproto"
)

// Agent is a per-connected-client session (spec.md §4.7): it dispatches
// inbound messages by action and owns the set of (collection, id) pairs
// the client is subscribed to.
type Agent struct {
	ClientID      string
	subscriptions map[string]map[string]struct{}

	backend *Backend
	send    func(wireproto.Message) error
}

// Handshake returns the once-at-connect message assigning this agent's id.
func (a *Agent) Handshake() wireproto.Message {
	return wireproto.Handshake(a.ClientID)
}

// Dispatch routes an inbound message to the matching handler.
func (a *Agent) Dispatch(ctx context.Context, msg wireproto.Message) {
	switch msg.A {
	case wireproto.ActionSubscribe:
		a.handleSubscribe(ctx, msg)
	case wireproto.ActionUnsubscribe:
		a.handleUnsubscribe(msg)
	case wireproto.ActionFetch:
		a.handleFetch(ctx, msg)
	case wireproto.ActionOp:
		a.handleOp(ctx, msg)
	default:
		log.Printf("otserver: agent %s sent unknown action %q", a.ClientID, msg.A)
	}
}

func (a *Agent) handleSubscribe(ctx context.Context, msg wireproto.Message) {
	snapshot, err := a.backend.Subscribe(ctx, a, msg.C, msg.D)
	if err != nil {
		a.reply(wireproto.ErrorReply(wireproto.ActionSubscribe, msg.C, msg.D, err))
		return
	}
	reply, err := wireproto.SnapshotReply(wireproto.ActionSubscribe, msg.C, msg.D, snapshot)
	if err != nil {
		log.Printf("otserver: agent %s subscribe reply: %v", a.ClientID, err)
		return
	}
	a.reply(reply)
}

func (a *Agent) handleUnsubscribe(msg wireproto.Message) {
	a.backend.Unsubscribe(a, msg.C, msg.D)
	a.reply(wireproto.Message{A: wireproto.ActionUnsubscribe, C: msg.C, D: msg.D})
}

func (a *Agent) handleFetch(ctx context.Context, msg wireproto.Message) {
	snapshot, err := a.backend.Store.GetSnapshot(ctx, msg.C, msg.D)
	if err != nil {
		a.reply(wireproto.ErrorReply(wireproto.ActionFetch, msg.C, msg.D, err))
		return
	}
	reply, err := wireproto.SnapshotReply(wireproto.ActionFetch, msg.C, msg.D, snapshot)
	if err != nil {
		log.Printf("otserver: agent %s fetch reply: %v", a.ClientID, err)
		return
	}
	a.reply(reply)
}

func (a *Agent) handleOp(ctx context.Context, msg wireproto.Message) {
	if msg.Op == nil {
		a.reply(wireproto.ErrorReply(wireproto.ActionOp, msg.C, msg.D, fmt.Errorf("op message carries no op payload")))
		return
	}
	if _, err := a.backend.Submit(ctx, a, msg.C, msg.D, msg.Op); err != nil {
		a.reply(wireproto.ErrorReply(wireproto.ActionOp, msg.C, msg.D, err))
	}
}

func (a *Agent) reply(msg wireproto.Message) {
	if err := a.send(msg); err != nil {
		log.Printf("otserver: agent %s send failed: %v", a.ClientID, err)
	}
}

// Close tears down this agent's subscriptions in the backend.
func (a *Agent) Close() {
	a.backend.removeAgent(a)
}
