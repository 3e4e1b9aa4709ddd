package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/ledgertest"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/sqlite"
)

func submit(t *testing.T, store *sqlite.Store, mutation ledger.Mutation) {
	t.Helper()
	if _, err := store.Submit(context.Background(), mutation); err != nil {
		t.Fatalf("submit %T: %v", mutation, err)
	}
}

// populate writes a short history touching every kind of view.
func populate(t *testing.T, store *sqlite.Store) {
	t.Helper()
	for address, role := range map[string]identity.Role{
		"0xadmin": identity.RoleAdmin,
		"0xalice": identity.RoleSubject,
		"0xbob":   identity.RoleHandler,
		"0xcarol": identity.RoleHandler,
	} {
		submit(t, store, ledger.AddIdentity{
			Actor:    "0xadmin",
			Identity: identity.Identity{Address: address, DisplayName: address, Role: role},
		})
	}
	submit(t, store, ledger.TransitionGrant{Actor: "0xbob", Subject: "0xalice", Handler: "0xbob", From: []grant.State{grant.StateNone}, To: grant.StatePending})
	submit(t, store, ledger.TransitionGrant{Actor: "0xalice", Subject: "0xalice", Handler: "0xbob", From: []grant.State{grant.StatePending}, To: grant.StateApproved})
	submit(t, store, ledger.TransitionGrant{Actor: "0xcarol", Subject: "0xalice", Handler: "0xcarol", From: []grant.State{grant.StateNone}, To: grant.StatePending})
	submit(t, store, ledger.AddDocument{Actor: "0xalice", Document: document.Document{Subject: "0xalice", Name: "a.pdf", ContentHash: "QmA", UploadedBy: "0xalice", Size: 10}})
	submit(t, store, ledger.AddDocument{Actor: "0xbob", Document: document.Document{Subject: "0xalice", Name: "b.pdf", ContentHash: "QmB", UploadedBy: "0xbob", Size: 20}})
	submit(t, store, ledger.RemoveDocument{Actor: "0xalice", Subject: "0xalice", ContentHash: "QmA"})
	submit(t, store, ledger.UpdateIdentity{Actor: "0xalice", Address: "0xalice", DisplayName: "Alice", ProfileRef: "QmProfile"})
	submit(t, store, ledger.DeactivateIdentity{Actor: "0xadmin", Address: "0xcarol"})
}

func TestReplayMatchesLedgerViews(t *testing.T) {
	store := ledgertest.Open(t)
	populate(t, store)
	ctx := context.Background()

	state := NewState()
	result, err := Replay(ctx, store, NewMemoryCheckpoints(), state, Options{Name: "verify", PageSize: 3})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.LastSeq != 12 || result.Applied != 12 {
		t.Fatalf("result = %+v, want 12 applied through seq 12", result)
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if diff := Diff(state, snap); len(diff) != 0 {
		t.Fatalf("unexpected mismatches: %v", diff)
	}
}

func TestDiffReportsDivergence(t *testing.T) {
	store := ledgertest.Open(t)
	populate(t, store)
	ctx := context.Background()

	state := NewState()
	if _, err := Replay(ctx, store, NewMemoryCheckpoints(), state, Options{Name: "verify", UntilSeq: 10}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	diff := Diff(state, snap)
	keys := make(map[string]bool, len(diff))
	for _, m := range diff {
		keys[m.Key] = true
	}
	for _, want := range []string{"journal/last_seq", event.IdentityKey("0xalice"), event.IdentityKey("0xcarol")} {
		if !keys[want] {
			t.Fatalf("missing mismatch %s in %v", want, diff)
		}
	}
}

func TestReplayResumesFromCheckpoint(t *testing.T) {
	store := ledgertest.Open(t)
	populate(t, store)
	ctx := context.Background()
	checkpoints := store.Checkpoints()

	state := NewState()
	first, err := Replay(ctx, store, checkpoints, state, Options{Name: "projector", UntilSeq: 5})
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if first.LastSeq != 5 {
		t.Fatalf("first last seq = %d, want 5", first.LastSeq)
	}
	cp, err := checkpoints.Get(ctx, "projector")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.LastSeq != 5 {
		t.Fatalf("checkpoint = %d, want 5", cp.LastSeq)
	}

	second, err := Replay(ctx, store, checkpoints, state, Options{Name: "projector"})
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if second.Applied != 7 || second.LastSeq != 12 {
		t.Fatalf("second = %+v, want 7 applied through 12", second)
	}

	third, err := Replay(ctx, store, checkpoints, state, Options{Name: "projector"})
	if err != nil {
		t.Fatalf("third replay: %v", err)
	}
	if third.Applied != 0 {
		t.Fatalf("third applied %d, want 0", third.Applied)
	}
}

type gappySource struct {
	events []event.Event
}

func (s gappySource) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	var out []event.Event
	for _, evt := range s.events {
		if evt.Seq > afterSeq && len(out) < limit {
			out = append(out, evt)
		}
	}
	return out, nil
}

func TestReplayDetectsGaps(t *testing.T) {
	source := gappySource{events: []event.Event{
		identityEvent(1, event.TypeIdentityAdded, "0xalice"),
		identityEvent(3, event.TypeIdentityDeactivated, "0xalice"),
	}}
	result, err := Replay(context.Background(), source, NewMemoryCheckpoints(), NewState(), Options{Name: "gap"})
	var gap *GapError
	if !errors.As(err, &gap) {
		t.Fatalf("replay error = %v, want gap", err)
	}
	if gap.Expected != 2 || gap.Got != 3 || result.LastSeq != 1 {
		t.Fatalf("gap = %+v, result = %+v", gap, result)
	}
}

func TestReplayValidatesArguments(t *testing.T) {
	ctx := context.Background()
	source := gappySource{}
	cps := NewMemoryCheckpoints()
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"source", func() error { _, err := Replay(ctx, nil, cps, NewState(), Options{Name: "x"}); return err }, ErrSourceRequired},
		{"checkpoints", func() error { _, err := Replay(ctx, source, nil, NewState(), Options{Name: "x"}); return err }, ErrCheckpointStoreRequired},
		{"state", func() error { _, err := Replay(ctx, source, cps, nil, Options{Name: "x"}); return err }, ErrStateRequired},
		{"name", func() error { _, err := Replay(ctx, source, cps, NewState(), Options{}); return err }, ErrNameRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMemoryCheckpoints(t *testing.T) {
	ctx := context.Background()
	cps := NewMemoryCheckpoints()
	if _, err := cps.Get(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("get missing = %v, want not found", err)
	}
	if err := cps.Save(ctx, ledger.Checkpoint{Name: " follower ", LastSeq: 4}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err := cps.Get(ctx, "follower")
	if err != nil || cp.LastSeq != 4 {
		t.Fatalf("get = %+v, %v", cp, err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := cps.Save(cancelled, ledger.Checkpoint{Name: "follower"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("save cancelled = %v", err)
	}
}

func TestFollowDeliversLiveEventsAndCheckpoints(t *testing.T) {
	store := ledgertest.Open(t)
	populate(t, store)
	checkpoints := store.Checkpoints()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan event.Event, 32)
	state := NewState()
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, store, state, FollowOptions{Name: "follower", Checkpoints: checkpoints},
			ObserverFunc(func(evt event.Event) { seen <- evt }))
	}()

	for want := uint64(1); want <= 12; want++ {
		evt := receive(t, seen)
		if evt.Seq != want {
			t.Fatalf("seq = %d, want %d", evt.Seq, want)
		}
	}

	submit(t, store, ledger.RemoveDocument{Actor: "0xalice", Subject: "0xalice", ContentHash: "QmB"})
	if evt := receive(t, seen); evt.Type != event.TypeDocumentRemoved || evt.Seq != 13 {
		t.Fatalf("live event = %s #%d", evt.Type, evt.Seq)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop")
	}

	cp, err := checkpoints.Get(context.Background(), "follower")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.LastSeq != 13 {
		t.Fatalf("checkpoint = %d, want 13", cp.LastSeq)
	}
	if len(state.Documents()) != 0 {
		t.Fatalf("followed state still has documents: %+v", state.Documents())
	}
}

func TestFollowResumesAfterCheckpoint(t *testing.T) {
	store := ledgertest.Open(t)
	populate(t, store)
	checkpoints := store.Checkpoints()
	if err := checkpoints.Save(context.Background(), ledger.Checkpoint{Name: "follower", LastSeq: 10}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := make(chan event.Event, 32)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, store, nil, FollowOptions{Name: "follower", Checkpoints: checkpoints},
			ObserverFunc(func(evt event.Event) { seen <- evt }))
	}()

	if evt := receive(t, seen); evt.Seq != 11 {
		t.Fatalf("first seq = %d, want 11", evt.Seq)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("follow: %v", err)
	}
}

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}
