package otserver

import (
	"context"
	"log"
	"strconv"
	"sync"

	"otsync/internal/ot"
	"otsync/internal/ottypes"
	"otsync/internal/serverstore"
	"otsync/internal/wireproto"
)

// presenceTracker is the subset of presence.Tracker the backend needs;
// declared locally so otserver doesn't import the Redis-backed package
// directly and Backend stays testable without a live Redis.
type presenceTracker interface {
	Join(ctx context.Context, collection, id, clientID string) (int64, error)
	Leave(ctx context.Context, collection, id, clientID string) error
	AllowSubmit(ctx context.Context, clientID string) (bool, error)
}

// docKey indexes the subscription registry by (collection, id).
type docKey struct {
	collection string
	id         string
}

// Backend owns the store, the registry of connected agents, and the
// subscription index collection -> id -> set<Agent> (spec.md §4.7).
type Backend struct {
	Store    serverstore.Store
	Registry *ottypes.Registry

	mu         sync.Mutex
	agents     map[string]*Agent
	subs       map[docKey]map[*Agent]struct{}
	nextClient int64
	maxRetries int
	presence   presenceTracker
}

// SetMaxRetries overrides DefaultMaxRetries for every subsequent Submit.
func (b *Backend) SetMaxRetries(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.maxRetries = n
	b.mu.Unlock()
}

// SetPresence wires a presence tracker in; nil disables presence/rate
// tracking entirely (the default), since it is an ambient convenience, not
// a correctness dependency of the commit loop.
func (b *Backend) SetPresence(p presenceTracker) {
	b.mu.Lock()
	b.presence = p
	b.mu.Unlock()
}

// NewBackend wires a Backend over store using reg for type resolution.
func NewBackend(store serverstore.Store, reg *ottypes.Registry) *Backend {
	return &Backend{
		Store:      store,
		Registry:   reg,
		agents:     make(map[string]*Agent),
		subs:       make(map[docKey]map[*Agent]struct{}),
		maxRetries: DefaultMaxRetries,
	}
}

// CreateAgent mints an incrementing base-36 client id and registers a new
// session bound to send.
func (b *Backend) CreateAgent(send func(wireproto.Message) error) *Agent {
	b.mu.Lock()
	b.nextClient++
	id := strconv.FormatInt(b.nextClient, 36)
	agent := &Agent{
		ClientID:      id,
		backend:       b,
		send:          send,
		subscriptions: make(map[string]map[string]struct{}),
	}
	b.agents[id] = agent
	b.mu.Unlock()

	log.Printf("otserver: agent %s connected", id)
	return agent
}

// removeAgent tears down an agent's subscriptions and registration. Called
// by Agent.Close.
func (b *Backend) removeAgent(agent *Agent) {
	b.mu.Lock()
	var left []docKey
	for collection, ids := range agent.subscriptions {
		for id := range ids {
			b.unsubscribeLocked(agent, collection, id)
			left = append(left, docKey{collection, id})
		}
	}
	delete(b.agents, agent.ClientID)
	presence := b.presence
	b.mu.Unlock()

	if presence != nil {
		for _, key := range left {
			if err := presence.Leave(context.Background(), key.collection, key.id, agent.ClientID); err != nil {
				log.Printf("otserver: presence leave failed for %s/%s: %v", key.collection, key.id, err)
			}
		}
	}
	log.Printf("otserver: agent %s disconnected", agent.ClientID)
}

func (b *Backend) subscribeLocked(agent *Agent, collection, id string) {
	key := docKey{collection, id}
	set, ok := b.subs[key]
	if !ok {
		set = make(map[*Agent]struct{})
		b.subs[key] = set
	}
	set[agent] = struct{}{}

	if _, ok := agent.subscriptions[collection]; !ok {
		agent.subscriptions[collection] = make(map[string]struct{})
	}
	agent.subscriptions[collection][id] = struct{}{}
}

func (b *Backend) unsubscribeLocked(agent *Agent, collection, id string) {
	key := docKey{collection, id}
	if set, ok := b.subs[key]; ok {
		delete(set, agent)
		if len(set) == 0 {
			delete(b.subs, key)
		}
	}
	if ids, ok := agent.subscriptions[collection]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(agent.subscriptions, collection)
		}
	}
}

// Subscribe registers agent as a subscriber of (collection, id) and returns
// the current snapshot.
func (b *Backend) Subscribe(ctx context.Context, agent *Agent, collection, id string) (*ot.Snapshot, error) {
	snapshot, err := b.Store.GetSnapshot(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subscribeLocked(agent, collection, id)
	presence := b.presence
	b.mu.Unlock()

	if presence != nil {
		if _, err := presence.Join(ctx, collection, id, agent.ClientID); err != nil {
			log.Printf("otserver: presence join failed for %s/%s: %v", collection, id, err)
		}
	}

	return snapshot, nil
}

// Unsubscribe removes agent from (collection, id)'s subscriber set.
func (b *Backend) Unsubscribe(agent *Agent, collection, id string) {
	b.mu.Lock()
	b.unsubscribeLocked(agent, collection, id)
	presence := b.presence
	b.mu.Unlock()

	if presence != nil {
		if err := presence.Leave(context.Background(), collection, id, agent.ClientID); err != nil {
			log.Printf("otserver: presence leave failed for %s/%s: %v", collection, id, err)
		}
	}
}

// Submit rate-limits the agent (if presence tracking is enabled), then runs
// the commit loop and, on success, acks the submitter and broadcasts the
// committed op to every other subscriber of (collection, id). Broadcasts
// are skipped on failure; the error is returned to the caller to package
// into the submitter's reply.
func (b *Backend) Submit(ctx context.Context, agent *Agent, collection, id string, op *ot.Op) (*SubmitResult, error) {
	b.mu.Lock()
	presence := b.presence
	maxRetries := b.maxRetries
	b.mu.Unlock()

	if presence != nil {
		allowed, err := presence.AllowSubmit(ctx, agent.ClientID)
		if err != nil {
			log.Printf("otserver: presence rate check failed for agent %s: %v", agent.ClientID, err)
		} else if !allowed {
			return nil, &ot.Error{Code: ot.CodeBadlyFormed, Message: "submit rate exceeded"}
		}
	}

	result, err := SubmitOp(ctx, b.Store, b.Registry, collection, id, op, SubmitOptions{MaxRetries: maxRetries})
	if err != nil {
		return nil, err
	}

	src, seq := "", int64(0)
	if result.Op.Src != nil {
		src = *result.Op.Src
	}
	if result.Op.Seq != nil {
		seq = *result.Op.Seq
	}

	if err := agent.send(wireproto.AckMessage(collection, id, result.Snapshot.V, src, seq)); err != nil {
		log.Printf("otserver: ack to agent %s failed: %v", agent.ClientID, err)
	}

	b.broadcast(collection, id, wireproto.OpMessage(collection, id, result.Op), agent)
	return result, nil
}

// broadcast visits exactly the subscriber set for (collection, id), except
// the agent (if any) passed in except.
func (b *Backend) broadcast(collection, id string, msg wireproto.Message, except *Agent) {
	b.mu.Lock()
	set := b.subs[docKey{collection, id}]
	recipients := make([]*Agent, 0, len(set))
	for a := range set {
		if a != except {
			recipients = append(recipients, a)
		}
	}
	b.mu.Unlock()

	for _, a := range recipients {
		if err := a.send(msg); err != nil {
			log.Printf("otserver: broadcast to agent %s failed: %v", a.ClientID, err)
		}
	}
}

// OpenDocCount returns the number of distinct (collection, id) documents
// with at least one subscriber, for health reporting.
func (b *Backend) OpenDocCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close tears down every registered agent's subscriptions.
func (b *Backend) Close() {
	b.mu.Lock()
	agents := make([]*Agent, 0, len(b.agents))
	for _, a := range b.agents {
		agents = append(agents, a)
	}
	b.mu.Unlock()

	for _, a := range agents {
		b.removeAgent(a)
	}
}
