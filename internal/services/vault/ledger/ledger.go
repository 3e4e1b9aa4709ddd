// Package ledger defines the permission ledger: the single authoritative store
// of identity, grant and document-index state, and the journal of confirmed
// mutations that produced it.
//
// Every write is a Mutation submitted with Guards. The ledger evaluates the
// guards and applies the change atomically, so each mutating operation is a
// compare-and-swap against confirmed state. A guard that no longer holds
// rejects the mutation with a *GuardError and nothing is written.
package ledger

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// ErrNotFound indicates a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Confirmation is returned once a mutation is durably applied.
type Confirmation struct {
	Seq         uint64
	EventID     string
	EventType   event.Type
	ConfirmedAt time.Time
}

// Reader exposes the current-state views.
type Reader interface {
	// GetIdentity returns the identity at address, active or not.
	GetIdentity(ctx context.Context, address string) (identity.Identity, error)
	// ListIdentities returns identities with role (all roles when empty).
	ListIdentities(ctx context.Context, role identity.Role, activeOnly bool) ([]identity.Identity, error)
	// GetGrant returns the grant for the pair; absent pairs report StateNone.
	GetGrant(ctx context.Context, subject, handler string) (grant.Grant, error)
	// ListGrants returns the subject's grants in state (all states when empty).
	ListGrants(ctx context.Context, subject string, state grant.State) ([]grant.Grant, error)
	// ListGrantsForHandler returns the handler's grants in state (all states when empty).
	ListGrantsForHandler(ctx context.Context, handler string, state grant.State) ([]grant.Grant, error)
	GetDocument(ctx context.Context, subject, contentHash string) (document.Document, error)
	ListDocuments(ctx context.Context, subject string) ([]document.Document, error)
	// CountContentRefs counts index entries and active profile refs naming contentHash.
	CountContentRefs(ctx context.Context, contentHash string) (int, error)
}

// Submitter applies guarded mutations.
type Submitter interface {
	Submit(ctx context.Context, mutation Mutation) (Confirmation, error)
}

// Journal exposes the ordered event history.
type Journal interface {
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
	LatestSeq(ctx context.Context) (uint64, error)
	// Subscribe yields confirmed events after afterSeq that match filter, in
	// sequence order, until ctx is cancelled or an error is yielded.
	Subscribe(ctx context.Context, afterSeq uint64, filter Filter) iter.Seq2[event.Event, error]
}

// Ledger is the full collaborator surface.
type Ledger interface {
	Reader
	Submitter
	Journal
}

// Snapshot is a complete dump of the current views, used to cross-check replay.
type Snapshot struct {
	LastSeq    uint64
	Identities []identity.Identity
	Grants     []grant.Grant
	Documents  []document.Document
}

// Snapshotter can dump all views at a single journal position.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Filter selects journal events for a subscription. Empty fields match all.
type Filter struct {
	Types []event.Type
	// Party matches events whose payload names this address.
	Party string
}

// Match reports whether evt passes the filter.
func (f Filter) Match(evt event.Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == evt.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Party != "" {
		for _, party := range evt.Parties() {
			if party == f.Party {
				return true
			}
		}
		return false
	}
	return true
}

// Checkpoint records how far a named journal consumer has applied events.
type Checkpoint struct {
	Name      string
	LastSeq   uint64
	UpdatedAt time.Time
}

// CheckpointStore persists consumer checkpoints. Get returns ErrNotFound for
// a consumer that has never saved one.
type CheckpointStore interface {
	Get(ctx context.Context, name string) (Checkpoint, error)
	Save(ctx context.Context, checkpoint Checkpoint) error
}
