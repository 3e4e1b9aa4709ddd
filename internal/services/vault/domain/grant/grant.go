// Package grant defines the consent state machine between a subject and a handler.
//
// Transitions are pure: Next decides the target state from the current one,
// and storage layers enforce the same rule by guarding each write with From.
package grant

import (
	"slices"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
)

// State is the consent state of one (subject, handler) pair.
type State string

const (
	// StateNone is the implicit state when no grant record exists.
	StateNone State = "none"
	// StatePending indicates the handler asked and the subject has not decided.
	StatePending State = "pending"
	// StateApproved indicates the handler may read and write the subject's records.
	StateApproved State = "approved"
	// StateRejected indicates the subject declined a pending request.
	StateRejected State = "rejected"
	// StateRevoked indicates previously approved access was withdrawn.
	StateRevoked State = "revoked"
)

// Action is one edge of the state machine.
type Action string

const (
	ActionRequest Action = "request"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevoke  Action = "revoke"
)

// Grant is the current consent record for a pair.
type Grant struct {
	Subject   string
	Handler   string
	State     State
	UpdatedBy string
	UpdatedAt time.Time
	// Seq is the journal sequence of the event that produced this state.
	Seq uint64
}

var transitions = map[Action]struct {
	from []State
	to   State
	code apperrors.Code
}{
	ActionRequest: {from: []State{StateNone, StateRejected, StateRevoked}, to: StatePending, code: apperrors.CodeAlreadyPendingOrApproved},
	ActionApprove: {from: []State{StatePending}, to: StateApproved, code: apperrors.CodeGrantNotPending},
	ActionReject:  {from: []State{StatePending}, to: StateRejected, code: apperrors.CodeGrantNotPending},
	ActionRevoke:  {from: []State{StateApproved}, to: StateRevoked, code: apperrors.CodeGrantNotApproved},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNone, StatePending, StateApproved, StateRejected, StateRevoked:
		return true
	default:
		return false
	}
}

// Terminal reports whether a new request may reopen the pair from s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateRevoked
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := transitions[a]
	return ok
}

// From returns the states in which action is allowed.
func From(action Action) []State {
	return slices.Clone(transitions[action].from)
}

// Target returns the state action moves a grant into.
func Target(action Action) State {
	return transitions[action].to
}

// RejectionCode is the error code reported when action is attempted from a
// state that does not allow it.
func RejectionCode(action Action) apperrors.Code {
	return transitions[action].code
}

// Next returns the state reached by applying action to current.
func Next(current State, action Action) (State, error) {
	rule, ok := transitions[action]
	if !ok {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "grant action is invalid")
	}
	if current == "" {
		current = StateNone
	}
	if !slices.Contains(rule.from, current) {
		return "", apperrors.WithMetadata(rule.code, "grant transition not allowed", map[string]string{
			apperrors.MetaState: string(current),
		})
	}
	return rule.to, nil
}
