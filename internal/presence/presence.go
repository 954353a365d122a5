// Package presence tracks which clients are connected to which documents
// and rate-limits submissions per client, backed by Redis the way the
// teacher's redis package wires go-redis/v9. This is purely an ambient
// convenience layer: op replication and the authoritative document log
// never touch Redis (spec.md's single-process non-goal), only the
// connection-count and rate-limit caches do.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records live (collection, id) -> client-count presence and
// enforces a fixed-window submit-rate cap per client, both in Redis so multiple
// otserver processes behind a load balancer share the same counters even
// though they do not share the OT log itself.
type Tracker struct {
	client *redis.Client

	submitLimit  int
	submitWindow time.Duration
}

// Connect dials addr with password, mirroring the teacher's
// redis.Connect but parameterized through internal/config instead of
// reading the environment itself.
func Connect(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("presence: connect to redis: %w", err)
	}
	return client, nil
}

// NewTracker wraps client with the default submit-rate cap of 50 ops per
// 10-second window per client.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client, submitLimit: 50, submitWindow: 10 * time.Second}
}

func presenceKey(collection, id string) string {
	return fmt.Sprintf("otsync:presence:%s:%s", collection, id)
}

func rateKey(clientID string) string {
	return fmt.Sprintf("otsync:rate:%s", clientID)
}

// Join records clientID as present on (collection, id) and returns the new
// subscriber count.
func (t *Tracker) Join(ctx context.Context, collection, id, clientID string) (int64, error) {
	key := presenceKey(collection, id)
	if err := t.client.SAdd(ctx, key, clientID).Err(); err != nil {
		return 0, fmt.Errorf("presence: join: %w", err)
	}
	t.client.Expire(ctx, key, time.Hour)
	return t.client.SCard(ctx, key).Result()
}

// Leave removes clientID from (collection, id)'s presence set.
func (t *Tracker) Leave(ctx context.Context, collection, id, clientID string) error {
	if err := t.client.SRem(ctx, presenceKey(collection, id), clientID).Err(); err != nil {
		return fmt.Errorf("presence: leave: %w", err)
	}
	return nil
}

// Count returns the current number of distinct clients present on
// (collection, id).
func (t *Tracker) Count(ctx context.Context, collection, id string) (int64, error) {
	return t.client.SCard(ctx, presenceKey(collection, id)).Result()
}

// AllowSubmit increments clientID's submit counter for the current window
// and reports whether it is still under the cap. Used by Backend.Submit to
// reject abusive clients before they ever reach the commit loop.
func (t *Tracker) AllowSubmit(ctx context.Context, clientID string) (bool, error) {
	key := rateKey(clientID)
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("presence: rate incr: %w", err)
	}
	if count == 1 {
		t.client.Expire(ctx, key, t.submitWindow)
	}
	return count <= int64(t.submitLimit), nil
}
