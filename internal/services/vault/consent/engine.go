// Package consent owns grant state: the consent relation between a subject
// and a handler, and the single authorization predicate Check that every
// document operation consults.
package consent

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

// cascadePasses bounds how often CascadeSubject re-reads grants that moved
// while it was running.
const cascadePasses = 3

// Store is the ledger surface the engine needs.
type Store interface {
	ledger.Reader
	ledger.Submitter
}

// Engine applies grant transitions as guarded ledger mutations. It keeps no
// state of its own; every decision reads confirmed ledger state.
type Engine struct {
	store Store
}

// New creates an engine over store.
func New(store Store) (*Engine, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	return &Engine{store: store}, nil
}

// Request opens a pending grant from handler to subject. It is allowed from
// NONE, REJECTED and REVOKED; there is no cooldown between requests.
func (e *Engine) Request(ctx context.Context, subject, handler string) error {
	subject, handler, err := normalizePair(subject, handler)
	if err != nil {
		return err
	}

	subj, err := e.store.GetIdentity(ctx, subject)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return apperrors.WithMetadata(apperrors.CodeSubjectNotFound, "subject not found", pairMeta(subject, handler))
	case err != nil:
		return err
	case subj.Role != identity.RoleSubject:
		return apperrors.WithMetadata(apperrors.CodeSubjectRoleInvalid, "address is not a subject", pairMeta(subject, handler))
	case !subj.Active:
		return apperrors.WithMetadata(apperrors.CodeSubjectInactive, "subject is inactive", pairMeta(subject, handler))
	}

	hand, err := e.store.GetIdentity(ctx, handler)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return apperrors.WithMetadata(apperrors.CodeHandlerNotFound, "handler not found", pairMeta(subject, handler))
	case err != nil:
		return err
	case hand.Role != identity.RoleHandler:
		return apperrors.WithMetadata(apperrors.CodeHandlerMustBeHandlerRole, "requester is not a handler", pairMeta(subject, handler))
	case !hand.Active:
		return apperrors.WithMetadata(apperrors.CodeHandlerInactive, "handler is inactive", pairMeta(subject, handler))
	}

	return e.transition(ctx, grant.ActionRequest, subject, handler, handler, []ledger.Guard{
		ledger.IdentityActive{Address: subject, Roles: []identity.Role{identity.RoleSubject}},
		ledger.IdentityActive{Address: handler, Roles: []identity.Role{identity.RoleHandler}},
	})
}

// Approve moves a pending grant to approved. Only the subject may approve.
func (e *Engine) Approve(ctx context.Context, subject, handler, caller string) error {
	return e.subjectDecision(ctx, grant.ActionApprove, subject, handler, caller)
}

// Reject moves a pending grant to rejected. Only the subject may reject.
func (e *Engine) Reject(ctx context.Context, subject, handler, caller string) error {
	return e.subjectDecision(ctx, grant.ActionReject, subject, handler, caller)
}

func (e *Engine) subjectDecision(ctx context.Context, action grant.Action, subject, handler, caller string) error {
	subject, handler, err := normalizePair(subject, handler)
	if err != nil {
		return err
	}
	caller = identity.NormalizeAddress(caller)
	if caller != subject {
		return unauthorized(caller, subject, handler, "only the subject may decide a request")
	}
	if _, err := e.activeIdentity(ctx, caller, subject, handler); err != nil {
		return err
	}
	return e.transition(ctx, action, subject, handler, caller, []ledger.Guard{
		ledger.IdentityActive{Address: caller, Roles: []identity.Role{identity.RoleSubject}},
	})
}

// Revoke moves an approved grant to revoked. The subject or an active
// administrator may revoke.
func (e *Engine) Revoke(ctx context.Context, subject, handler, caller string) error {
	subject, handler, err := normalizePair(subject, handler)
	if err != nil {
		return err
	}
	caller = identity.NormalizeAddress(caller)
	callerIdent, err := e.activeIdentity(ctx, caller, subject, handler)
	if err != nil {
		return err
	}
	var roles []identity.Role
	switch {
	case caller == subject:
		roles = []identity.Role{identity.RoleSubject}
	case callerIdent.IsAdmin():
		roles = []identity.Role{identity.RoleAdmin}
	default:
		return unauthorized(caller, subject, handler, "only the subject or an administrator may revoke")
	}
	return e.transition(ctx, grant.ActionRevoke, subject, handler, caller, []ledger.Guard{
		ledger.IdentityActive{Address: caller, Roles: roles},
	})
}

// Check reports whether the pair's grant is approved. It always reads the
// ledger so a confirmed revoke takes effect on the next call.
func (e *Engine) Check(ctx context.Context, subject, handler string) (bool, error) {
	g, err := e.Grant(ctx, subject, handler)
	if err != nil {
		return false, err
	}
	return g.State == grant.StateApproved, nil
}

// Grant returns the pair's grant, with StateNone when it was never requested.
func (e *Engine) Grant(ctx context.Context, subject, handler string) (grant.Grant, error) {
	subject, handler, err := normalizePair(subject, handler)
	if err != nil {
		return grant.Grant{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.LedgerQuery)
	defer cancel()
	return e.store.GetGrant(ctx, subject, handler)
}

// ListPending returns the handlers with a pending request to subject.
func (e *Engine) ListPending(ctx context.Context, subject string) ([]string, error) {
	return e.handlersIn(ctx, subject, grant.StatePending)
}

// ListApproved returns the handlers subject has approved.
func (e *Engine) ListApproved(ctx context.Context, subject string) ([]string, error) {
	return e.handlersIn(ctx, subject, grant.StateApproved)
}

func (e *Engine) handlersIn(ctx context.Context, subject string, state grant.State) ([]string, error) {
	subject = identity.NormalizeAddress(subject)
	if subject == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "subject is required")
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.LedgerQuery)
	defer cancel()
	grants, err := e.store.ListGrants(ctx, subject, state)
	if err != nil {
		return nil, err
	}
	handlers := make([]string, 0, len(grants))
	for _, g := range grants {
		handlers = append(handlers, g.Handler)
	}
	return handlers, nil
}

// ListForHandler returns the handler's grants in state, or in every state
// when state is empty.
func (e *Engine) ListForHandler(ctx context.Context, handler string, state grant.State) ([]grant.Grant, error) {
	handler = identity.NormalizeAddress(handler)
	if handler == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "handler is required")
	}
	if state != "" && !state.Valid() {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "grant state is invalid",
			map[string]string{apperrors.MetaState: string(state)})
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.LedgerQuery)
	defer cancel()
	return e.store.ListGrantsForHandler(ctx, handler, state)
}

// CascadeSubject closes every open grant of a deactivated subject: pending
// requests are rejected first, then approved grants are revoked. It is safe
// to re-run.
func (e *Engine) CascadeSubject(ctx context.Context, actor, subject string) error {
	subject = identity.NormalizeAddress(subject)
	actor = identity.NormalizeAddress(actor)
	for pass := 0; pass < cascadePasses; pass++ {
		open := 0
		for _, step := range []struct {
			action grant.Action
			state  grant.State
		}{
			{action: grant.ActionReject, state: grant.StatePending},
			{action: grant.ActionRevoke, state: grant.StateApproved},
		} {
			grants, err := e.store.ListGrants(ctx, subject, step.state)
			if err != nil {
				return err
			}
			open += len(grants)
			for _, g := range grants {
				err := e.transition(ctx, step.action, subject, g.Handler, actor, nil)
				if err != nil && apperrors.KindOf(err) != apperrors.KindInvalidStateTransition {
					return err
				}
			}
		}
		if open == 0 {
			return nil
		}
	}

	remaining, err := e.store.ListGrants(ctx, subject, "")
	if err != nil {
		return err
	}
	for _, g := range remaining {
		if g.State == grant.StatePending || g.State == grant.StateApproved {
			return apperrors.WithMetadata(apperrors.CodeStaleState, "subject grants kept changing during cascade",
				map[string]string{apperrors.MetaSubject: subject})
		}
	}
	return nil
}

// transition checks the transition against current state, then submits it
// guarded on that state so a concurrent change fails cleanly.
func (e *Engine) transition(ctx context.Context, action grant.Action, subject, handler, actor string, guards []ledger.Guard) error {
	current, err := e.store.GetGrant(ctx, subject, handler)
	if err != nil {
		return err
	}
	target, err := grant.Next(current.State, action)
	if err != nil {
		return apperrors.WrapWithMetadata(grant.RejectionCode(action), fmt.Sprintf("cannot %s grant", action),
			withState(pairMeta(subject, handler), current.State), err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerSubmit)
	defer cancel()
	_, err = e.store.Submit(submitCtx, ledger.TransitionGrant{
		Actor:   actor,
		Subject: subject,
		Handler: handler,
		From:    grant.From(action),
		To:      target,
		Guards:  guards,
	})
	if err != nil {
		return guardFailure(err, action, subject, handler, actor)
	}
	return nil
}

// guardFailure maps a guard that stopped holding before confirmation onto
// the engine's codes.
func guardFailure(err error, action grant.Action, subject, handler, actor string) error {
	guardErr, ok := ledger.FailedGuard(err)
	if !ok {
		return err
	}
	meta := pairMeta(subject, handler)
	switch g := guardErr.Guard.(type) {
	case ledger.GrantIn:
		return apperrors.WrapWithMetadata(grant.RejectionCode(action), "grant changed before confirmation",
			withState(meta, grant.State(guardErr.Observed)), err)
	case ledger.IdentityActive:
		if action == grant.ActionRequest {
			if g.Address == subject {
				return apperrors.WrapWithMetadata(apperrors.CodeSubjectInactive, "subject changed before confirmation", meta, err)
			}
			return apperrors.WrapWithMetadata(apperrors.CodeHandlerInactive, "handler changed before confirmation", meta, err)
		}
		meta[apperrors.MetaCaller] = actor
		return apperrors.WrapWithMetadata(apperrors.CodeUnauthorized, "caller authority changed before confirmation", meta, err)
	}
	return apperrors.WrapWithMetadata(apperrors.CodeStaleState, "state changed before confirmation", meta, err)
}

func (e *Engine) activeIdentity(ctx context.Context, caller, subject, handler string) (identity.Identity, error) {
	if caller == "" {
		return identity.Identity{}, unauthorized(caller, subject, handler, "caller is required")
	}
	ident, err := e.store.GetIdentity(ctx, caller)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && !ident.Active) {
		return identity.Identity{}, unauthorized(caller, subject, handler, "caller is not an active identity")
	}
	if err != nil {
		return identity.Identity{}, err
	}
	return ident, nil
}

func normalizePair(subject, handler string) (string, string, error) {
	subject = identity.NormalizeAddress(subject)
	handler = identity.NormalizeAddress(handler)
	if subject == "" || handler == "" {
		return "", "", apperrors.New(apperrors.CodeInvalidArgument, "subject and handler are required")
	}
	return subject, handler, nil
}

func pairMeta(subject, handler string) map[string]string {
	return map[string]string{apperrors.MetaSubject: subject, apperrors.MetaHandler: handler}
}

func withState(meta map[string]string, state grant.State) map[string]string {
	meta[apperrors.MetaState] = string(state)
	return meta
}

func unauthorized(caller, subject, handler, message string) error {
	meta := pairMeta(subject, handler)
	meta[apperrors.MetaCaller] = caller
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, message, meta)
}
