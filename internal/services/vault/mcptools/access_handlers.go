package mcptools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// AccessRequestHandler asks a subject for access on behalf of the calling handler.
func AccessRequestHandler(s Services) mcp.ToolHandlerFor[AccessInput, GrantResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AccessInput) (*mcp.CallToolResult, GrantResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, GrantResult{}, toolError(err, s.Locale)
		}
		subject := identity.NormalizeAddress(input.Subject)
		if subject == "" {
			return nil, GrantResult{}, toolError(invalidArgument("subject is required"), s.Locale)
		}
		if handler := identity.NormalizeAddress(input.Handler); handler != "" && handler != inv.address() {
			return nil, GrantResult{}, toolError(apperrors.WithMetadata(apperrors.CodeUnauthorized,
				"handlers request access for themselves", map[string]string{
					apperrors.MetaCaller:  inv.address(),
					apperrors.MetaHandler: handler,
				}), s.Locale)
		}
		if err := s.Access.Request(ctx, subject, inv.address()); err != nil {
			return nil, GrantResult{}, toolError(err, s.Locale)
		}
		return s.grantView(ctx, inv, subject, inv.address())
	}
}

// AccessApproveHandler approves a pending request as the calling subject.
func AccessApproveHandler(s Services) mcp.ToolHandlerFor[AccessInput, GrantResult] {
	return decisionHandler(s, s.Access.Approve)
}

// AccessRejectHandler rejects a pending request as the calling subject.
func AccessRejectHandler(s Services) mcp.ToolHandlerFor[AccessInput, GrantResult] {
	return decisionHandler(s, s.Access.Reject)
}

// AccessRevokeHandler revokes approved access as the subject or an administrator.
func AccessRevokeHandler(s Services) mcp.ToolHandlerFor[AccessInput, GrantResult] {
	return decisionHandler(s, s.Access.Revoke)
}

func decisionHandler(s Services, decide func(ctx context.Context, subject, handler, caller string) error) mcp.ToolHandlerFor[AccessInput, GrantResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AccessInput) (*mcp.CallToolResult, GrantResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, GrantResult{}, toolError(err, s.Locale)
		}
		subject := inv.or(input.Subject)
		handler := identity.NormalizeAddress(input.Handler)
		if handler == "" {
			return nil, GrantResult{}, toolError(invalidArgument("handler is required"), s.Locale)
		}
		if err := decide(ctx, subject, handler, inv.address()); err != nil {
			return nil, GrantResult{}, toolError(err, s.Locale)
		}
		return s.grantView(ctx, inv, subject, handler)
	}
}

func (s Services) grantView(ctx context.Context, inv invocation, subject, handler string) (*mcp.CallToolResult, GrantResult, error) {
	g, err := s.Access.Grant(ctx, subject, handler)
	if err != nil {
		return nil, GrantResult{}, toolError(err, s.Locale)
	}
	return inv.result(), grantResult(g), nil
}

// AccessCheckHandler reports whether a handler holds approved access. Only
// the two parties and administrators may ask.
func AccessCheckHandler(s Services) mcp.ToolHandlerFor[AccessInput, AccessCheckResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AccessInput) (*mcp.CallToolResult, AccessCheckResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, AccessCheckResult{}, toolError(err, s.Locale)
		}
		subject, handler := inv.or(input.Subject), inv.or(input.Handler)
		if err := requireParty(inv, subject, handler); err != nil {
			return nil, AccessCheckResult{}, toolError(err, s.Locale)
		}
		approved, err := s.Access.Check(ctx, subject, handler)
		if err != nil {
			return nil, AccessCheckResult{}, toolError(err, s.Locale)
		}
		return inv.result(), AccessCheckResult{Subject: subject, Handler: handler, Approved: approved}, nil
	}
}

// AccessListHandler lists the grants a handler holds when handler is given,
// otherwise the pending and approved grants of a subject.
func AccessListHandler(s Services) mcp.ToolHandlerFor[AccessListInput, AccessListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AccessListInput) (*mcp.CallToolResult, AccessListResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, AccessListResult{}, toolError(err, s.Locale)
		}
		state, err := parseState(input.State)
		if err != nil {
			return nil, AccessListResult{}, toolError(err, s.Locale)
		}

		result := AccessListResult{Grants: []GrantResult{}}
		if handler := identity.NormalizeAddress(input.Handler); handler != "" {
			if err := requireParty(inv, handler); err != nil {
				return nil, AccessListResult{}, toolError(err, s.Locale)
			}
			grants, err := s.Access.ListForHandler(ctx, handler, state)
			if err != nil {
				return nil, AccessListResult{}, toolError(err, s.Locale)
			}
			for _, g := range grants {
				result.Grants = append(result.Grants, grantResult(g))
			}
			return inv.result(), result, nil
		}

		subject := inv.or(input.Subject)
		if err := requireParty(inv, subject); err != nil {
			return nil, AccessListResult{}, toolError(err, s.Locale)
		}
		lists := []struct {
			state grant.State
			list  func(context.Context, string) ([]string, error)
		}{
			{grant.StatePending, s.Access.ListPending},
			{grant.StateApproved, s.Access.ListApproved},
		}
		switch state {
		case "", grant.StatePending, grant.StateApproved:
		default:
			return nil, AccessListResult{}, toolError(apperrors.WithMetadata(apperrors.CodeInvalidArgument,
				"subject listings cover pending and approved grants", map[string]string{apperrors.MetaState: string(state)}), s.Locale)
		}
		for _, entry := range lists {
			if state != "" && state != entry.state {
				continue
			}
			handlers, err := entry.list(ctx, subject)
			if err != nil {
				return nil, AccessListResult{}, toolError(err, s.Locale)
			}
			for _, handler := range handlers {
				result.Grants = append(result.Grants, GrantResult{Subject: subject, Handler: handler, State: string(entry.state)})
			}
		}
		return inv.result(), result, nil
	}
}

// requireParty allows the call when the caller is one of parties or an administrator.
func requireParty(inv invocation, parties ...string) error {
	if inv.caller.IsAdmin() {
		return nil
	}
	for _, party := range parties {
		if party == inv.address() {
			return nil
		}
	}
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, "caller is not a party to this grant",
		map[string]string{apperrors.MetaCaller: inv.address()})
}

func parseState(value string) (grant.State, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", nil
	}
	state := grant.State(value)
	if !state.Valid() || state == grant.StateNone {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidArgument, "grant state is invalid",
			map[string]string{apperrors.MetaState: value})
	}
	return state, nil
}
