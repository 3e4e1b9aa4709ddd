package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

const defaultPageSize = 200

var (
	// ErrSourceRequired indicates a missing event source.
	ErrSourceRequired = errors.New("event source is required")
	// ErrCheckpointStoreRequired indicates a missing checkpoint store.
	ErrCheckpointStoreRequired = errors.New("checkpoint store is required")
	// ErrStateRequired indicates a missing state.
	ErrStateRequired = errors.New("state is required")
	// ErrNameRequired indicates a missing checkpoint name.
	ErrNameRequired = errors.New("checkpoint name is required")
)

// GapError reports a hole in the journal sequence.
type GapError struct {
	Expected uint64
	Got      uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("event sequence gap: expected %d got %d", e.Expected, e.Got)
}

// EventSource lists journal events for replay.
type EventSource interface {
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
}

// Options configures replay behavior.
type Options struct {
	// Name identifies the consumer's checkpoint.
	Name     string
	AfterSeq uint64
	UntilSeq uint64
	PageSize int
}

// Result captures replay outcomes.
type Result struct {
	LastSeq uint64
	Applied int
	Skipped int
}

// Replay pages through the journal from the later of options.AfterSeq and
// the stored checkpoint, folds every event into state and saves a checkpoint
// after each page. The caller must pass a state consistent with that
// starting position.
func Replay(ctx context.Context, source EventSource, checkpoints ledger.CheckpointStore, state *State, options Options) (Result, error) {
	if source == nil {
		return Result{}, ErrSourceRequired
	}
	if checkpoints == nil {
		return Result{}, ErrCheckpointStoreRequired
	}
	if state == nil {
		return Result{}, ErrStateRequired
	}
	name := strings.TrimSpace(options.Name)
	if name == "" {
		return Result{}, ErrNameRequired
	}

	lastSeq, err := resumeSeq(ctx, checkpoints, name, options.AfterSeq)
	if err != nil {
		return Result{}, err
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{LastSeq: lastSeq}
	for {
		events, err := source.ListEvents(ctx, result.LastSeq, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return result, save(ctx, checkpoints, name, result.LastSeq)
			}
			if err := apply(state, evt, result.LastSeq, &result); err != nil {
				return result, err
			}
		}
		if err := save(ctx, checkpoints, name, result.LastSeq); err != nil {
			return result, err
		}
	}
}

func apply(state *State, evt event.Event, lastSeq uint64, result *Result) error {
	if expected := lastSeq + 1; evt.Seq != expected {
		return &GapError{Expected: expected, Got: evt.Seq}
	}
	applied, err := state.Apply(evt)
	if err != nil {
		return err
	}
	if applied {
		result.Applied++
	} else {
		result.Skipped++
	}
	result.LastSeq = evt.Seq
	return nil
}

func resumeSeq(ctx context.Context, checkpoints ledger.CheckpointStore, name string, afterSeq uint64) (uint64, error) {
	cp, err := checkpoints.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return afterSeq, nil
		}
		return 0, err
	}
	return max(afterSeq, cp.LastSeq), nil
}

func save(ctx context.Context, checkpoints ledger.CheckpointStore, name string, seq uint64) error {
	return checkpoints.Save(ctx, ledger.Checkpoint{Name: name, LastSeq: seq, UpdatedAt: time.Now().UTC()})
}

// MemoryCheckpoints stores checkpoints in memory.
type MemoryCheckpoints struct {
	mu          sync.Mutex
	checkpoints map[string]ledger.Checkpoint
}

// NewMemoryCheckpoints creates an empty in-memory checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{checkpoints: make(map[string]ledger.Checkpoint)}
}

// Get retrieves a checkpoint by name.
func (m *MemoryCheckpoints) Get(ctx context.Context, name string) (ledger.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Checkpoint{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Checkpoint{}, ErrNameRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[name]
	if !ok {
		return ledger.Checkpoint{}, ledger.ErrNotFound
	}
	return cp, nil
}

// Save persists a checkpoint.
func (m *MemoryCheckpoints) Save(ctx context.Context, cp ledger.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp.Name = strings.TrimSpace(cp.Name)
	if cp.Name == "" {
		return ErrNameRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.Name] = cp
	return nil
}
