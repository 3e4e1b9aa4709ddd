package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// Mutation is a state change submitted to the ledger. Each kind carries an
// implicit precondition of its own plus any extra Guards.
type Mutation interface {
	// ActorAddress is the identity on whose behalf the change is made.
	ActorAddress() string
	// Preconditions lists every guard, implicit ones first.
	Preconditions() []Guard
	validate() error
}

// AddIdentity registers an identity. Implicit guard: no active identity at
// the address.
type AddIdentity struct {
	Actor    string
	Identity identity.Identity
	Guards   []Guard
}

// UpdateIdentity changes display name and profile reference. Implicit guard:
// the identity is active.
type UpdateIdentity struct {
	Actor       string
	Address     string
	DisplayName string
	ProfileRef  string
	Guards      []Guard
}

// DeactivateIdentity soft-deletes an identity. Implicit guard: the identity
// is active.
type DeactivateIdentity struct {
	Actor   string
	Address string
	Guards  []Guard
}

// TransitionGrant moves a grant to To. Implicit guard: the current state is
// one of From.
type TransitionGrant struct {
	Actor   string
	Subject string
	Handler string
	From    []grant.State
	To      grant.State
	Guards  []Guard
}

// AddDocument appends an index entry. Implicit guard: no entry exists for
// (subject, content hash).
type AddDocument struct {
	Actor    string
	Document document.Document
	Guards   []Guard
}

// RemoveDocument deletes an index entry. Implicit guard: the entry exists.
type RemoveDocument struct {
	Actor       string
	Subject     string
	ContentHash string
	Guards      []Guard
}

func (m AddIdentity) ActorAddress() string        { return m.Actor }
func (m UpdateIdentity) ActorAddress() string     { return m.Actor }
func (m DeactivateIdentity) ActorAddress() string { return m.Actor }
func (m TransitionGrant) ActorAddress() string    { return m.Actor }
func (m AddDocument) ActorAddress() string        { return m.Actor }
func (m RemoveDocument) ActorAddress() string     { return m.Actor }

func (m AddIdentity) Preconditions() []Guard {
	return prepend(IdentityAbsent{Address: m.Identity.Address}, m.Guards)
}

func (m UpdateIdentity) Preconditions() []Guard {
	return prepend(IdentityActive{Address: m.Address}, m.Guards)
}

func (m DeactivateIdentity) Preconditions() []Guard {
	return prepend(IdentityActive{Address: m.Address}, m.Guards)
}

func (m TransitionGrant) Preconditions() []Guard {
	return prepend(GrantIn{Subject: m.Subject, Handler: m.Handler, States: m.From}, m.Guards)
}

func (m AddDocument) Preconditions() []Guard {
	return prepend(DocumentAbsent{Subject: m.Document.Subject, ContentHash: m.Document.ContentHash}, m.Guards)
}

func (m RemoveDocument) Preconditions() []Guard {
	return prepend(DocumentPresent{Subject: m.Subject, ContentHash: m.ContentHash}, m.Guards)
}

func (m AddIdentity) validate() error {
	if strings.TrimSpace(m.Identity.Address) == "" {
		return errors.New("identity address is required")
	}
	if !m.Identity.Role.Valid() {
		return fmt.Errorf("identity role %q is invalid", m.Identity.Role)
	}
	return nil
}

func (m UpdateIdentity) validate() error {
	if strings.TrimSpace(m.Address) == "" {
		return errors.New("identity address is required")
	}
	return nil
}

func (m DeactivateIdentity) validate() error {
	if strings.TrimSpace(m.Address) == "" {
		return errors.New("identity address is required")
	}
	return nil
}

func (m TransitionGrant) validate() error {
	if m.Subject == "" || m.Handler == "" {
		return errors.New("grant subject and handler are required")
	}
	if len(m.From) == 0 {
		return errors.New("grant transition needs at least one source state")
	}
	if !m.To.Valid() || m.To == grant.StateNone {
		return fmt.Errorf("grant target state %q is invalid", m.To)
	}
	return nil
}

func (m AddDocument) validate() error {
	if m.Document.Subject == "" || m.Document.ContentHash == "" {
		return errors.New("document subject and content hash are required")
	}
	return nil
}

func (m RemoveDocument) validate() error {
	if m.Subject == "" || m.ContentHash == "" {
		return errors.New("document subject and content hash are required")
	}
	return nil
}

// Validate checks a mutation's own fields before it is submitted.
func Validate(m Mutation) error {
	if m == nil {
		return errors.New("mutation is required")
	}
	return m.validate()
}

func prepend(first Guard, rest []Guard) []Guard {
	out := make([]Guard, 0, len(rest)+1)
	out = append(out, first)
	return append(out, rest...)
}
