package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	platformgrpc "github.com/louisbranch/recordvault/internal/platform/grpc"
	"github.com/louisbranch/recordvault/internal/services/vault/mcptools"
	"github.com/louisbranch/recordvault/internal/services/vault/reconcile"
)

// FollowerName is the checkpoint name of the in-process journal follower.
const FollowerName = "recordvault-follower"

// Health components.
const (
	ComponentLedger   = "recordvault.ledger"
	ComponentFollower = "recordvault.follower"
	ComponentMCP      = "recordvault.mcp"
)

// Serve runs the MCP server on transport alongside the journal follower, the
// unpin janitor and, when configured, the health endpoint. It returns when
// ctx ends, the MCP session closes or any component fails.
func (v *Vault) Serve(ctx context.Context, transport mcp.Transport) error {
	reg, err := v.registry(ctx)
	if err != nil {
		return err
	}
	callers, err := verifier(v.cfg.CallerToken)
	if err != nil {
		return fmt.Errorf("caller tokens: %w", err)
	}
	server, err := mcptools.NewServer(mcptools.Services{
		Identities: reg,
		Access:     v.consent,
		Documents:  v.manager,
		Events:     v.store,
		Callers:    callers,
		Locale:     v.cfg.Locale,
	})
	if err != nil {
		return err
	}

	var health *platformgrpc.HealthServer
	var listener net.Listener
	if addr := strings.TrimSpace(v.cfg.HealthAddr); addr != "" {
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen health on %s: %w", addr, err)
		}
		health = platformgrpc.NewHealthServer(ComponentLedger, ComponentFollower, ComponentMCP)
		log.Printf("health listening at %v", listener.Addr())
	}
	setServing := func(component string, serving bool) {
		if health != nil {
			health.SetServing(component, serving)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if health != nil {
		g.Go(func() error { return health.Serve(gctx, listener) })
	}
	setServing(ComponentLedger, true)

	g.Go(func() error { return v.janitor.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case failure := <-v.janitor.Failures():
				log.Printf("unpin %s failed: %v", failure.Hash, failure.Err)
			}
		}
	})
	g.Go(func() error {
		setServing(ComponentFollower, true)
		defer setServing(ComponentFollower, false)
		err := reconcile.Follow(gctx, v.store, nil, reconcile.FollowOptions{
			Name:        FollowerName,
			Checkpoints: v.store.Checkpoints(),
		}, reg, v.janitor)
		if err != nil {
			return fmt.Errorf("journal follower: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// The MCP session ending stops the whole process.
		defer cancel()
		setServing(ComponentMCP, true)
		defer setServing(ComponentMCP, false)
		return mcptools.Serve(gctx, server, transport)
	})

	return g.Wait()
}
