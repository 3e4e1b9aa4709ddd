package mcptools

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName = "recordvault"
	// ServerVersion identifies the MCP server version.
	ServerVersion = "0.1.0"
)

// NewServer builds an MCP server with every vault tool registered.
func NewServer(s Services) (*mcp.Server, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: ServerVersion}, &mcp.ServerOptions{
		Instructions: "Consent-gated access to subject records. Every tool requires a caller_token.",
	})
	Register(server, s)
	return server, nil
}

// Register adds every vault tool to server.
func Register(server *mcp.Server, s Services) {
	mcp.AddTool(server, IdentityAddTool(), IdentityAddHandler(s))
	mcp.AddTool(server, IdentityUpdateTool(), IdentityUpdateHandler(s))
	mcp.AddTool(server, IdentityDeactivateTool(), IdentityDeactivateHandler(s))
	mcp.AddTool(server, IdentityListTool(), IdentityListHandler(s))
	mcp.AddTool(server, IdentityResolveTool(), IdentityResolveHandler(s))

	mcp.AddTool(server, AccessRequestTool(), AccessRequestHandler(s))
	mcp.AddTool(server, AccessApproveTool(), AccessApproveHandler(s))
	mcp.AddTool(server, AccessRejectTool(), AccessRejectHandler(s))
	mcp.AddTool(server, AccessRevokeTool(), AccessRevokeHandler(s))
	mcp.AddTool(server, AccessCheckTool(), AccessCheckHandler(s))
	mcp.AddTool(server, AccessListTool(), AccessListHandler(s))

	mcp.AddTool(server, DocumentUploadTool(), DocumentUploadHandler(s))
	mcp.AddTool(server, DocumentListTool(), DocumentListHandler(s))
	mcp.AddTool(server, DocumentFetchTool(), DocumentFetchHandler(s))
	mcp.AddTool(server, DocumentDeleteTool(), DocumentDeleteHandler(s))

	mcp.AddTool(server, EventsPollTool(), EventsPollHandler(s))
}

// Serve runs server on transport until ctx ends or the client disconnects.
// Cancellation and end of input are clean stops.
func Serve(ctx context.Context, server *mcp.Server, transport mcp.Transport) error {
	if server == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	err := server.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}
