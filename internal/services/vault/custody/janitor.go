package custody

import (
	"context"
	"errors"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
)

const (
	defaultUnpinQueue = 256
	failureBuffer     = 64
	recentUnpinTTL    = 10 * time.Minute
)

// RefCounter reports how many live references still name a content hash.
type RefCounter interface {
	CountContentRefs(ctx context.Context, contentHash string) (int, error)
}

// UnpinFailure reports a best-effort unpin that did not happen.
type UnpinFailure struct {
	Hash string
	Err  error
	At   time.Time
}

// ErrQueueFull is reported when an unpin is dropped because the queue is full.
var ErrQueueFull = errors.New("unpin queue full")

// Janitor releases blobs after their last reference is removed. It runs
// apart from the authoritative mutation, and its failures go to its own
// channel instead of the caller of Delete or PurgeSubject.
type Janitor struct {
	refs     RefCounter
	blobs    blobstore.Store
	queue    chan string
	failures chan UnpinFailure
	recent   *gocache.Cache
	locks    *hashLocks
	now      func() time.Time
}

// NewJanitor creates a janitor with a queue of queueSize pending hashes.
func NewJanitor(refs RefCounter, blobs blobstore.Store, queueSize int) (*Janitor, error) {
	if refs == nil {
		return nil, errors.New("ref counter is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if queueSize <= 0 {
		queueSize = defaultUnpinQueue
	}
	return &Janitor{
		refs:     refs,
		blobs:    blobs,
		queue:    make(chan string, queueSize),
		failures: make(chan UnpinFailure, failureBuffer),
		recent:   gocache.New(recentUnpinTTL, recentUnpinTTL),
		locks:    newHashLocks(),
		now:      time.Now,
	}, nil
}

// Failures streams unpin failures. Failures are dropped when nobody reads.
func (j *Janitor) Failures() <-chan UnpinFailure {
	return j.failures
}

// Enqueue schedules hash for release without blocking. It reports false
// when the queue is full; the orphan sweep collects such blobs later.
func (j *Janitor) Enqueue(hash string) bool {
	if hash == "" {
		return false
	}
	select {
	case j.queue <- hash:
		return true
	default:
		j.report(hash, ErrQueueFull)
		return false
	}
}

// Forget clears the recently-released mark on hash, so bytes uploaded again
// are released again when their new references go away.
func (j *Janitor) Forget(hash string) {
	j.recent.Delete(hash)
}

// Observe schedules releases for document removals seen on the journal,
// including ones whose process exited before its own enqueue ran.
func (j *Janitor) Observe(evt event.Event) {
	if evt.Type != event.TypeDocumentRemoved {
		return
	}
	var payload event.DocumentPayload
	if err := evt.Decode(&payload); err != nil {
		log.Printf("janitor: skip event %d: %v", evt.Seq, err)
		return
	}
	j.Enqueue(payload.ContentHash)
}

// Run releases queued hashes until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case hash := <-j.queue:
			_ = j.Release(ctx, hash)
		}
	}
}

// Release unpins hash if nothing references it any more. It is idempotent.
// A hash with an upload in flight is left alone: the upload either indexes
// it or leaves it for the orphan sweep.
func (j *Janitor) Release(ctx context.Context, hash string) error {
	if _, found := j.recent.Get(hash); found {
		return nil
	}
	unlock, ok := j.locks.tryLock(hash)
	if !ok {
		return nil
	}
	defer unlock()

	refs, err := j.refs.CountContentRefs(ctx, hash)
	if err != nil {
		j.report(hash, err)
		return err
	}
	if refs > 0 {
		return nil
	}

	unpinCtx, cancel := context.WithTimeout(ctx, timeouts.Unpin)
	defer cancel()
	if err := j.blobs.Unpin(unpinCtx, hash); err != nil {
		j.report(hash, err)
		return err
	}
	j.recent.SetDefault(hash, struct{}{})
	return nil
}

func (j *Janitor) report(hash string, err error) {
	log.Printf("janitor: unpin %s: %v", hash, err)
	select {
	case j.failures <- UnpinFailure{Hash: hash, Err: err, At: j.now().UTC()}:
	default:
	}
}
