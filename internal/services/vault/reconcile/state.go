// Package reconcile rebuilds registry, consent and custody views from the
// journal. Within each key the event with the highest sequence wins, so a
// deactivation or removal is never undone by an earlier creation that
// arrives late.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// State is a fold of journal events. It is not safe for concurrent use.
type State struct {
	LastSeq uint64

	identities map[string]identity.Identity
	grants     map[string]grant.Grant
	documents  map[string]document.Document
	// seqs records the highest sequence applied per key, including keys whose
	// entry was removed.
	seqs map[string]uint64
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		identities: make(map[string]identity.Identity),
		grants:     make(map[string]grant.Grant),
		documents:  make(map[string]document.Document),
		seqs:       make(map[string]uint64),
	}
}

// Apply folds evt into the state. It reports false when evt is at or below
// the sequence already recorded for its key.
func (s *State) Apply(evt event.Event) (bool, error) {
	if evt.Key == "" {
		return false, fmt.Errorf("event %d has no key", evt.Seq)
	}
	if seen, ok := s.seqs[evt.Key]; ok && evt.Seq <= seen {
		return false, nil
	}

	var err error
	switch evt.Type.Category() {
	case "identity":
		err = s.applyIdentity(evt)
	case "grant":
		err = s.applyGrant(evt)
	case "document":
		err = s.applyDocument(evt)
	default:
		err = fmt.Errorf("unknown event type %q", evt.Type)
	}
	if err != nil {
		return false, err
	}

	s.seqs[evt.Key] = evt.Seq
	if evt.Seq > s.LastSeq {
		s.LastSeq = evt.Seq
	}
	return true, nil
}

func (s *State) applyIdentity(evt event.Event) error {
	var p event.IdentityPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	at := evt.Timestamp
	current := s.identities[p.Address]
	current.Address = p.Address
	current.UpdatedAt = at

	switch evt.Type {
	case event.TypeIdentityAdded:
		current = identity.Identity{
			Address:     p.Address,
			DisplayName: p.DisplayName,
			Role:        identity.Role(p.Role),
			ProfileRef:  p.ProfileRef,
			Active:      true,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
	case event.TypeIdentityUpdated:
		current.DisplayName = p.DisplayName
		current.ProfileRef = p.ProfileRef
		if p.Role != "" {
			current.Role = identity.Role(p.Role)
		}
		// Updates are only accepted for active identities.
		current.Active = true
		current.DeactivatedAt = nil
	case event.TypeIdentityDeactivated:
		current.Active = false
		current.DeactivatedAt = &at
	default:
		return fmt.Errorf("unknown identity event %q", evt.Type)
	}
	s.identities[p.Address] = current
	return nil
}

func (s *State) applyGrant(evt event.Event) error {
	var p event.GrantPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	state := grant.State(p.To)
	if !state.Valid() || state == grant.StateNone {
		return fmt.Errorf("event %d has invalid grant state %q", evt.Seq, p.To)
	}
	s.grants[evt.Key] = grant.Grant{
		Subject:   p.Subject,
		Handler:   p.Handler,
		State:     state,
		UpdatedBy: evt.Actor,
		UpdatedAt: evt.Timestamp,
		Seq:       evt.Seq,
	}
	return nil
}

func (s *State) applyDocument(evt event.Event) error {
	var p event.DocumentPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	switch evt.Type {
	case event.TypeDocumentAdded:
		s.documents[evt.Key] = document.Document{
			Subject:     p.Subject,
			Name:        p.Name,
			ContentHash: p.ContentHash,
			UploadedBy:  p.UploadedBy,
			UploadedAt:  evt.Timestamp,
			Size:        p.Size,
		}
	case event.TypeDocumentRemoved:
		delete(s.documents, evt.Key)
	default:
		return fmt.Errorf("unknown document event %q", evt.Type)
	}
	return nil
}

// Identity returns the folded identity for address.
func (s *State) Identity(address string) (identity.Identity, bool) {
	ident, ok := s.identities[address]
	return ident, ok
}

// GrantState returns the folded grant state, StateNone when never seen.
func (s *State) GrantState(subject, handler string) grant.State {
	g, ok := s.grants[event.GrantKey(subject, handler)]
	if !ok {
		return grant.StateNone
	}
	return g.State
}

// Identities returns every folded identity ordered by address.
func (s *State) Identities() []identity.Identity {
	out := make([]identity.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Grants returns every folded grant ordered by subject then handler.
func (s *State) Grants() []grant.Grant {
	out := make([]grant.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Handler < out[j].Handler
	})
	return out
}

// Documents returns every indexed document ordered by subject then hash.
func (s *State) Documents() []document.Document {
	out := make([]document.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	return out
}
