package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

// IdentityAddHandler registers an identity as the calling administrator.
func IdentityAddHandler(s Services) mcp.ToolHandlerFor[IdentityAddInput, IdentityResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IdentityAddInput) (*mcp.CallToolResult, IdentityResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		role, err := identity.ParseRole(input.Role)
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		ident, err := s.Identities.AddIdentity(ctx, inv.address(), identity.AddInput{
			Address:     input.Address,
			DisplayName: input.DisplayName,
			Role:        role,
			ProfileRef:  input.ProfileRef,
		})
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		return inv.result(), identityResult(ident), nil
	}
}

// IdentityUpdateHandler updates the caller's profile, or another identity's
// when the caller is an administrator.
func IdentityUpdateHandler(s Services) mcp.ToolHandlerFor[IdentityUpdateInput, IdentityResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IdentityUpdateInput) (*mcp.CallToolResult, IdentityResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		ident, err := s.Identities.UpdateIdentity(ctx, inv.address(), identity.UpdateInput{
			Address:     inv.or(input.Address),
			DisplayName: input.DisplayName,
			ProfileRef:  input.ProfileRef,
		})
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		return inv.result(), identityResult(ident), nil
	}
}

// IdentityDeactivateHandler deactivates an identity and waits for its cascade.
func IdentityDeactivateHandler(s Services) mcp.ToolHandlerFor[IdentityAddressInput, IdentityDeactivateResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IdentityAddressInput) (*mcp.CallToolResult, IdentityDeactivateResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, IdentityDeactivateResult{}, toolError(err, s.Locale)
		}
		if identity.NormalizeAddress(input.Address) == "" {
			return nil, IdentityDeactivateResult{}, toolError(invalidArgument("address is required"), s.Locale)
		}
		if err := s.Identities.DeactivateIdentity(ctx, inv.address(), input.Address); err != nil {
			return nil, IdentityDeactivateResult{}, toolError(err, s.Locale)
		}
		return inv.result(), IdentityDeactivateResult{Address: identity.NormalizeAddress(input.Address)}, nil
	}
}

// IdentityListHandler lists active identities.
func IdentityListHandler(s Services) mcp.ToolHandlerFor[IdentityListInput, IdentityListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IdentityListInput) (*mcp.CallToolResult, IdentityListResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, IdentityListResult{}, toolError(err, s.Locale)
		}
		var role identity.Role
		if input.Role != "" {
			if role, err = identity.ParseRole(input.Role); err != nil {
				return nil, IdentityListResult{}, toolError(err, s.Locale)
			}
		}
		list, err := s.Identities.ListActive(ctx, role)
		if err != nil {
			return nil, IdentityListResult{}, toolError(err, s.Locale)
		}
		result := IdentityListResult{Identities: make([]IdentityResult, 0, len(list))}
		for _, ident := range list {
			result.Identities = append(result.Identities, identityResult(ident))
		}
		return inv.result(), result, nil
	}
}

// IdentityResolveHandler returns the identity at an address, active or not.
func IdentityResolveHandler(s Services) mcp.ToolHandlerFor[IdentityAddressInput, IdentityResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IdentityAddressInput) (*mcp.CallToolResult, IdentityResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		ident, err := s.Identities.Lookup(ctx, input.Address)
		if err != nil {
			return nil, IdentityResult{}, toolError(err, s.Locale)
		}
		return inv.result(), identityResult(ident), nil
	}
}
