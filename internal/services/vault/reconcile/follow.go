package reconcile

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

// Subscriber streams confirmed journal events.
type Subscriber interface {
	Subscribe(ctx context.Context, afterSeq uint64, filter ledger.Filter) iter.Seq2[event.Event, error]
}

// Observer receives every followed event in sequence order.
type Observer interface {
	Observe(evt event.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(evt event.Event)

// Observe calls f(evt).
func (f ObserverFunc) Observe(evt event.Event) { f(evt) }

// FollowOptions configures a follower.
type FollowOptions struct {
	// Name identifies the follower's checkpoint.
	Name string
	// Checkpoints persists the follower position. Without it the follower
	// starts at AfterSeq on every run.
	Checkpoints ledger.CheckpointStore
	AfterSeq    uint64
	// CheckpointEvery saves the position after this many events. Defaults to 1.
	CheckpointEvery int
}

// Follow subscribes after the stored position and hands every event to
// state (when not nil) and then to each observer, until ctx is cancelled. A
// gap in the sequence stops the follower with a *GapError. Cancellation
// returns nil.
func Follow(ctx context.Context, source Subscriber, state *State, options FollowOptions, observers ...Observer) error {
	if source == nil {
		return ErrSourceRequired
	}
	name := strings.TrimSpace(options.Name)
	if options.Checkpoints != nil && name == "" {
		return ErrNameRequired
	}
	lastSeq := options.AfterSeq
	if options.Checkpoints != nil {
		seq, err := resumeSeq(ctx, options.Checkpoints, name, options.AfterSeq)
		if err != nil {
			return err
		}
		lastSeq = seq
	}
	every := options.CheckpointEvery
	if every <= 0 {
		every = 1
	}

	pending := 0
	flush := func() error {
		if options.Checkpoints == nil || pending == 0 {
			return nil
		}
		pending = 0
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		return save(saveCtx, options.Checkpoints, name, lastSeq)
	}

	for evt, err := range source.Subscribe(ctx, lastSeq, ledger.Filter{}) {
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return flush()
			}
			_ = flush()
			return err
		}
		if expected := lastSeq + 1; evt.Seq != expected {
			_ = flush()
			return &GapError{Expected: expected, Got: evt.Seq}
		}
		if state != nil {
			if _, err := state.Apply(evt); err != nil {
				_ = flush()
				return err
			}
		}
		for _, observer := range observers {
			observer.Observe(evt)
		}
		lastSeq = evt.Seq
		pending++
		if pending >= every {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
