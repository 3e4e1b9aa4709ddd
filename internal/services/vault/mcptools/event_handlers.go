package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

const (
	defaultPollLimit = 50
	maxPollLimit     = 200
	// maxPollPages bounds how much journal one poll scans for a sparse filter.
	maxPollPages = 10
)

// EventsPollHandler returns journal events after a sequence. Administrators
// see every event; other callers see the events that name them.
func EventsPollHandler(s Services) mcp.ToolHandlerFor[EventsPollInput, EventsPollResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EventsPollInput) (*mcp.CallToolResult, EventsPollResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, EventsPollResult{}, toolError(err, s.Locale)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = defaultPollLimit
		}
		if limit > maxPollLimit {
			limit = maxPollLimit
		}
		filter := ledger.Filter{}
		if !inv.caller.IsAdmin() {
			filter.Party = inv.address()
		}
		for _, typ := range input.Types {
			filter.Types = append(filter.Types, event.Type(typ))
		}

		ctx, cancel := context.WithTimeout(ctx, timeouts.LedgerQuery)
		defer cancel()

		result := EventsPollResult{Events: []EventResult{}, NextSeq: input.AfterSeq}
		for page := 0; page < maxPollPages && len(result.Events) < limit; page++ {
			events, err := s.Events.ListEvents(ctx, result.NextSeq, maxPollLimit)
			if err != nil {
				return nil, EventsPollResult{}, toolError(err, s.Locale)
			}
			for _, evt := range events {
				result.NextSeq = evt.Seq
				if !filter.Match(evt) {
					continue
				}
				result.Events = append(result.Events, eventResult(evt))
				if len(result.Events) == limit {
					break
				}
			}
			if len(events) < maxPollLimit {
				break
			}
		}
		return inv.result(), result, nil
	}
}

func eventResult(evt event.Event) EventResult {
	return EventResult{
		Seq:       evt.Seq,
		Type:      string(evt.Type),
		Key:       evt.Key,
		Actor:     evt.Actor,
		Payload:   string(evt.Payload),
		Timestamp: formatTime(evt.Timestamp),
	}
}
