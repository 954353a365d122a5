// Package archive periodically writes document snapshots to S3 for
// cold-storage retention, adapting the teacher's storage.S3Client into a
// generic (collection, id) -> snapshot archiver driven off the Store
// rather than canvas-specific state.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"otsync/internal/ot"
	"otsync/internal/serverstore"
)

// Client wraps an S3 bucket the way storage.S3Client does, scoped to
// snapshot archival instead of canvas PNGs.
type Client struct {
	s3     *s3.S3
	bucket string
}

// NewClient opens an AWS session in region and targets bucket.
func NewClient(region, bucket string) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("archive: new aws session: %w", err)
	}
	return &Client{s3: s3.New(sess), bucket: bucket}, nil
}

// PutSnapshot uploads snapshot under a fresh uuid-keyed object name and
// returns the key. Each archived object is immutable — later archival
// passes never overwrite an earlier one, so a full version history
// survives in the bucket even though the live store prunes nothing itself
// (history pruning is explicitly out of scope for the live log).
func (c *Client) PutSnapshot(ctx context.Context, collection, id string, snapshot *ot.Snapshot) (string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s/%s.json", collection, id, uuid.NewString())
	_, err = c.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put object: %w", err)
	}
	return key, nil
}

// Sweeper periodically archives every document it is told to watch.
// Watching is explicit (Track/Untrack) rather than a bucket scan, since the
// reference Store has no "list all documents" operation.
type Sweeper struct {
	client   *Client
	store    serverstore.Store
	interval time.Duration

	watch chan docRef
	stop  chan struct{}
}

type docRef struct {
	collection, id string
}

// NewSweeper builds a Sweeper that archives each tracked document's
// current snapshot every interval.
func NewSweeper(client *Client, store serverstore.Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		client:   client,
		store:    store,
		interval: interval,
		watch:    make(chan docRef, 256),
		stop:     make(chan struct{}),
	}
}

// Track registers (collection, id) for periodic archival.
func (s *Sweeper) Track(collection, id string) {
	select {
	case s.watch <- docRef{collection, id}:
	default:
		// Watch queue full: this doc's archival is skipped until the next
		// explicit Track call succeeds.
	}
}

// Run archives every tracked document once per interval until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	tracked := make(map[docRef]struct{})
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case ref := <-s.watch:
			tracked[ref] = struct{}{}
		case <-ticker.C:
			for ref := range tracked {
				snapshot, err := s.store.GetSnapshot(ctx, ref.collection, ref.id)
				if err != nil {
					log.Printf("archive: get snapshot for %s/%s failed: %v", ref.collection, ref.id, err)
					continue
				}
				if _, err := s.client.PutSnapshot(ctx, ref.collection, ref.id, snapshot); err != nil {
					log.Printf("archive: put snapshot for %s/%s failed: %v", ref.collection, ref.id, err)
				}
			}
		}
	}
}

// Stop halts Run.
func (s *Sweeper) Stop() {
	close(s.stop)
}
