package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/integrity"
)

func testKeyring(t *testing.T) *integrity.Keyring {
	t.Helper()
	keyring, err := integrity.NewKeyring(
		map[string][]byte{"test-key-1": []byte("0123456789abcdef0123456789abcdef")},
		"test-key-1",
	)
	if err != nil {
		t.Fatalf("create test keyring: %v", err)
	}
	return keyring
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var mu sync.Mutex
	store, err := Open(path, testKeyring(t), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close ledger: %v", err)
		}
	})
	return store
}

func mustSubmit(t *testing.T, store *Store, m ledger.Mutation) ledger.Confirmation {
	t.Helper()
	conf, err := store.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("submit %T: %v", m, err)
	}
	return conf
}

func addIdentity(t *testing.T, store *Store, address string, role identity.Role) {
	t.Helper()
	mustSubmit(t, store, ledger.AddIdentity{
		Actor:    "root",
		Identity: identity.Identity{Address: address, DisplayName: address, Role: role},
	})
}

func TestOpenRequiresPathAndKeyring(t *testing.T) {
	if _, err := Open("  ", testKeyring(t)); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "x.sqlite"), nil); err == nil {
		t.Fatal("expected error for missing keyring")
	}
}

func TestSubmitIdentityLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conf := mustSubmit(t, store, ledger.AddIdentity{
		Actor:    "root",
		Identity: identity.Identity{Address: "alice", DisplayName: "Alice", Role: identity.RoleSubject},
	})
	if conf.Seq != 1 || conf.EventType != event.TypeIdentityAdded {
		t.Fatalf("confirmation = %+v", conf)
	}

	_, err := store.Submit(ctx, ledger.AddIdentity{
		Actor:    "root",
		Identity: identity.Identity{Address: "alice", DisplayName: "Again", Role: identity.RoleSubject},
	})
	if !errors.Is(err, ledger.ErrGuardFailed) {
		t.Fatalf("duplicate add error = %v, want guard failure", err)
	}

	mustSubmit(t, store, ledger.UpdateIdentity{Actor: "alice", Address: "alice", DisplayName: "Alice B", ProfileRef: "Qmprofile"})
	got, err := store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.DisplayName != "Alice B" || got.ProfileRef != "Qmprofile" || !got.Active {
		t.Fatalf("identity = %+v", got)
	}

	mustSubmit(t, store, ledger.DeactivateIdentity{Actor: "root", Address: "alice"})
	got, err = store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.Active || got.DeactivatedAt == nil {
		t.Fatalf("expected inactive identity, got %+v", got)
	}

	_, err = store.Submit(ctx, ledger.UpdateIdentity{Actor: "alice", Address: "alice", DisplayName: "Nope"})
	guardErr, ok := ledger.FailedGuard(err)
	if !ok || guardErr.Observed != "inactive" {
		t.Fatalf("update inactive error = %v", err)
	}

	// A deactivated address is never registered again.
	_, err = store.Submit(ctx, ledger.AddIdentity{
		Actor:    "root",
		Identity: identity.Identity{Address: "alice", DisplayName: "Alice", Role: identity.RoleHandler},
	})
	guardErr, ok = ledger.FailedGuard(err)
	if !ok || guardErr.Observed != "inactive" {
		t.Fatalf("re-add deactivated error = %v", err)
	}
	got, err = store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.Active || got.Role != identity.RoleSubject {
		t.Fatalf("identity after refused re-add = %+v", got)
	}
}

func TestGetIdentityNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetIdentity(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListIdentitiesFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addIdentity(t, store, "bob", identity.RoleHandler)
	addIdentity(t, store, "alice", identity.RoleSubject)
	addIdentity(t, store, "carol", identity.RoleHandler)
	mustSubmit(t, store, ledger.DeactivateIdentity{Actor: "root", Address: "carol"})

	handlers, err := store.ListIdentities(ctx, identity.RoleHandler, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(handlers) != 1 || handlers[0].Address != "bob" {
		t.Fatalf("active handlers = %+v", handlers)
	}

	all, err := store.ListIdentities(ctx, "", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Address != "alice" {
		t.Fatalf("all identities = %+v", all)
	}
}

func TestIdentityActiveGuardChecksRole(t *testing.T) {
	store := openTestStore(t)
	addIdentity(t, store, "alice", identity.RoleSubject)
	addIdentity(t, store, "bob", identity.RoleSubject)

	_, err := store.Submit(context.Background(), ledger.TransitionGrant{
		Actor:   "bob",
		Subject: "alice",
		Handler: "bob",
		From:    grant.From(grant.ActionRequest),
		To:      grant.StatePending,
		Guards:  []ledger.Guard{ledger.IdentityActive{Address: "bob", Roles: []identity.Role{identity.RoleHandler}}},
	})
	guardErr, ok := ledger.FailedGuard(err)
	if !ok {
		t.Fatalf("expected guard error, got %v", err)
	}
	if guardErr.Observed != "role subject" {
		t.Fatalf("observed = %q", guardErr.Observed)
	}
}

func TestGrantTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	g, err := store.GetGrant(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if g.State != grant.StateNone {
		t.Fatalf("absent grant state = %q", g.State)
	}

	request := ledger.TransitionGrant{Actor: "bob", Subject: "alice", Handler: "bob", From: grant.From(grant.ActionRequest), To: grant.StatePending}
	conf := mustSubmit(t, store, request)
	if conf.EventType != event.TypeGrantRequested {
		t.Fatalf("event type = %q", conf.EventType)
	}

	if _, err := store.Submit(ctx, request); !errors.Is(err, ledger.ErrGuardFailed) {
		t.Fatalf("second request error = %v", err)
	}

	mustSubmit(t, store, ledger.TransitionGrant{Actor: "alice", Subject: "alice", Handler: "bob", From: grant.From(grant.ActionApprove), To: grant.StateApproved})

	approved, err := store.ListGrants(ctx, "alice", grant.StateApproved)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(approved) != 1 || approved[0].Handler != "bob" || approved[0].UpdatedBy != "alice" || approved[0].Seq != 2 {
		t.Fatalf("approved = %+v", approved)
	}
	forHandler, err := store.ListGrantsForHandler(ctx, "bob", "")
	if err != nil {
		t.Fatalf("list handler grants: %v", err)
	}
	if len(forHandler) != 1 || forHandler[0].Subject != "alice" {
		t.Fatalf("handler grants = %+v", forHandler)
	}

	events, err := store.ListEvents(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var payload event.GrantPayload
	if err := events[0].Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.From != "pending" || payload.To != "approved" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestConcurrentApproveAndRejectExactlyOneWins(t *testing.T) {
	store := openTestStore(t)
	mustSubmit(t, store, ledger.TransitionGrant{Actor: "bob", Subject: "alice", Handler: "bob", From: grant.From(grant.ActionRequest), To: grant.StatePending})

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures int
	)
	for i := 0; i < racers; i++ {
		to := grant.StateApproved
		if i%2 == 1 {
			to = grant.StateRejected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Submit(context.Background(), ledger.TransitionGrant{
				Actor:   "alice",
				Subject: "alice",
				Handler: "bob",
				From:    []grant.State{grant.StatePending},
				To:      to,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ledger.ErrGuardFailed):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || failures != racers-1 {
		t.Fatalf("wins = %d failures = %d", wins, failures)
	}
	latest, err := store.LatestSeq(context.Background())
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 2 {
		t.Fatalf("latest seq = %d, want 2", latest)
	}
}

func TestDocumentsAndContentRefs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := document.Document{Subject: "alice", Name: "scan.pdf", ContentHash: "QmA", UploadedBy: "bob", Size: 42}
	mustSubmit(t, store, ledger.AddDocument{Actor: "bob", Document: doc})
	mustSubmit(t, store, ledger.AddDocument{Actor: "bob", Document: document.Document{Subject: "carol", Name: "x", ContentHash: "QmA", UploadedBy: "bob"}})

	if _, err := store.Submit(ctx, ledger.AddDocument{Actor: "bob", Document: doc}); !errors.Is(err, ledger.ErrGuardFailed) {
		t.Fatalf("duplicate document error = %v", err)
	}

	got, err := store.GetDocument(ctx, "alice", "QmA")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Name != "scan.pdf" || got.Size != 42 || got.UploadedAt.IsZero() {
		t.Fatalf("document = %+v", got)
	}

	mustSubmit(t, store, ledger.AddIdentity{
		Actor:    "root",
		Identity: identity.Identity{Address: "dave", DisplayName: "Dave", Role: identity.RoleSubject, ProfileRef: "QmA"},
	})
	refs, err := store.CountContentRefs(ctx, "QmA")
	if err != nil {
		t.Fatalf("count refs: %v", err)
	}
	if refs != 3 {
		t.Fatalf("refs = %d, want 3", refs)
	}

	mustSubmit(t, store, ledger.RemoveDocument{Actor: "bob", Subject: "alice", ContentHash: "QmA"})
	if _, err := store.GetDocument(ctx, "alice", "QmA"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("removed document error = %v", err)
	}
	if _, err := store.Submit(ctx, ledger.RemoveDocument{Actor: "bob", Subject: "alice", ContentHash: "QmA"}); !errors.Is(err, ledger.ErrGuardFailed) {
		t.Fatalf("second remove error = %v", err)
	}

	mustSubmit(t, store, ledger.DeactivateIdentity{Actor: "root", Address: "dave"})
	refs, err = store.CountContentRefs(ctx, "QmA")
	if err != nil {
		t.Fatalf("count refs: %v", err)
	}
	if refs != 1 {
		t.Fatalf("refs after removals = %d, want 1", refs)
	}
}

func TestSubmitRejectsInvalidMutation(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Submit(context.Background(), ledger.TransitionGrant{Subject: "alice", Handler: "bob", To: grant.StateApproved})
	if !apperrors.HasCode(err, apperrors.CodeLedgerRejected) {
		t.Fatalf("error = %v, want ledger rejected", err)
	}
}

func TestSubmitCancelledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Submit(ctx, ledger.DeactivateIdentity{Actor: "root", Address: "alice"})
	if !apperrors.HasCode(err, apperrors.CodeLedgerTimeout) {
		t.Fatalf("error = %v, want ledger timeout", err)
	}
}

func TestJournalChainVerifies(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addIdentity(t, store, "alice", identity.RoleSubject)
	addIdentity(t, store, "bob", identity.RoleHandler)
	mustSubmit(t, store, ledger.TransitionGrant{Actor: "bob", Subject: "alice", Handler: "bob", From: grant.From(grant.ActionRequest), To: grant.StatePending})

	events, err := store.ListEvents(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d", len(events))
	}
	for i, evt := range events {
		if evt.Seq != uint64(i+1) {
			t.Fatalf("event %d seq = %d", i, evt.Seq)
		}
		if i > 0 && evt.PrevHash != events[i-1].ChainHash {
			t.Fatalf("event %d not linked to predecessor", evt.Seq)
		}
		if evt.KeyID != "test-key-1" || evt.Signature == "" {
			t.Fatalf("event %d not signed: %+v", evt.Seq, evt)
		}
	}

	verified, err := store.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified != 3 {
		t.Fatalf("verified = %d", verified)
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addIdentity(t, store, "alice", identity.RoleSubject)
	addIdentity(t, store, "bob", identity.RoleHandler)

	if _, err := store.DB().ExecContext(ctx, `UPDATE events SET actor = 'mallory' WHERE seq = 2`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	verified, err := store.VerifyIntegrity(ctx)
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("error = %v, want IntegrityError", err)
	}
	if integrityErr.Seq != 2 || verified != 1 {
		t.Fatalf("integrity error = %+v verified = %d", integrityErr, verified)
	}
}

func TestSubscribeDeliversLiveEvents(t *testing.T) {
	store := openTestStore(t)
	addIdentity(t, store, "alice", identity.RoleSubject)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan event.Event, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		filter := ledger.Filter{Types: []event.Type{event.TypeGrantRequested}}
		for evt, err := range store.Subscribe(ctx, 0, filter) {
			if err != nil {
				t.Errorf("subscribe: %v", err)
				return
			}
			received <- evt
			return
		}
	}()

	addIdentity(t, store, "bob", identity.RoleHandler)
	mustSubmit(t, store, ledger.TransitionGrant{Actor: "bob", Subject: "alice", Handler: "bob", From: grant.From(grant.ActionRequest), To: grant.StatePending})

	select {
	case evt := <-received:
		if evt.Seq != 3 || evt.Type != event.TypeGrantRequested {
			t.Fatalf("event = %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscribed event")
	}
	<-done
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range store.Subscribe(ctx, 0, ledger.Filter{}) {
		}
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestSnapshotAndCheckpoints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addIdentity(t, store, "alice", identity.RoleSubject)
	mustSubmit(t, store, ledger.TransitionGrant{Actor: "bob", Subject: "alice", Handler: "bob", From: grant.From(grant.ActionRequest), To: grant.StatePending})
	mustSubmit(t, store, ledger.AddDocument{Actor: "bob", Document: document.Document{Subject: "alice", Name: "a", ContentHash: "QmA", UploadedBy: "bob"}})

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.LastSeq != 3 || len(snap.Identities) != 1 || len(snap.Grants) != 1 || len(snap.Documents) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	checkpoints := store.Checkpoints()
	if _, err := checkpoints.Get(ctx, "janitor"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing checkpoint error = %v", err)
	}
	if err := checkpoints.Save(ctx, ledger.Checkpoint{Name: "janitor", LastSeq: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := checkpoints.Save(ctx, ledger.Checkpoint{Name: "janitor", LastSeq: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err := checkpoints.Get(ctx, "janitor")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp.LastSeq != 3 || cp.UpdatedAt.IsZero() {
		t.Fatalf("checkpoint = %+v", cp)
	}
}
