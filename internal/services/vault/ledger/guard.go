package ledger

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// ErrGuardFailed matches every *GuardError.
var ErrGuardFailed = errors.New("ledger guard failed")

// Guard is a precondition evaluated inside the same transaction as the write.
// Store implementations switch on the concrete type.
type Guard interface {
	guard()
	String() string
}

// IdentityActive requires an active identity at Address, optionally with one
// of Roles.
type IdentityActive struct {
	Address string
	Roles   []identity.Role
}

// IdentityAbsent requires that Address was never registered. Deactivated
// addresses stay taken.
type IdentityAbsent struct {
	Address string
}

// GrantIn requires the (Subject, Handler) grant to be in one of States.
type GrantIn struct {
	Subject string
	Handler string
	States  []grant.State
}

// DocumentPresent requires an index entry for (Subject, ContentHash).
type DocumentPresent struct {
	Subject     string
	ContentHash string
}

// DocumentAbsent requires no index entry for (Subject, ContentHash).
type DocumentAbsent struct {
	Subject     string
	ContentHash string
}

func (IdentityActive) guard()  {}
func (IdentityAbsent) guard()  {}
func (GrantIn) guard()         {}
func (DocumentPresent) guard() {}
func (DocumentAbsent) guard()  {}

func (g IdentityActive) String() string {
	if len(g.Roles) == 0 {
		return fmt.Sprintf("identity %s active", g.Address)
	}
	roles := make([]string, len(g.Roles))
	for i, r := range g.Roles {
		roles[i] = string(r)
	}
	return fmt.Sprintf("identity %s active as %s", g.Address, strings.Join(roles, "|"))
}

func (g IdentityAbsent) String() string {
	return fmt.Sprintf("identity %s absent", g.Address)
}

func (g GrantIn) String() string {
	states := make([]string, len(g.States))
	for i, s := range g.States {
		states[i] = string(s)
	}
	return fmt.Sprintf("grant %s/%s in %s", g.Subject, g.Handler, strings.Join(states, "|"))
}

func (g DocumentPresent) String() string {
	return fmt.Sprintf("document %s/%s present", g.Subject, g.ContentHash)
}

func (g DocumentAbsent) String() string {
	return fmt.Sprintf("document %s/%s absent", g.Subject, g.ContentHash)
}

// AllowsRole reports whether role satisfies the guard's role list.
func (g IdentityActive) AllowsRole(role identity.Role) bool {
	return len(g.Roles) == 0 || slices.Contains(g.Roles, role)
}

// GuardError reports the first guard that did not hold and what was found.
type GuardError struct {
	Guard Guard
	// Observed describes the state found, e.g. "approved" or "inactive".
	Observed string
}

func (e *GuardError) Error() string {
	if e.Observed == "" {
		return fmt.Sprintf("guard failed: %s", e.Guard)
	}
	return fmt.Sprintf("guard failed: %s (found %s)", e.Guard, e.Observed)
}

// Is matches ErrGuardFailed.
func (e *GuardError) Is(target error) bool {
	return target == ErrGuardFailed
}

// FailedGuard returns the guard error in err's chain, if any.
func FailedGuard(err error) (*GuardError, bool) {
	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return guardErr, true
	}
	return nil, false
}
