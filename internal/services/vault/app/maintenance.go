package app

import (
	"context"
	"fmt"
	"io"

	"github.com/louisbranch/recordvault/internal/services/vault/custody"
	"github.com/louisbranch/recordvault/internal/services/vault/reconcile"
)

// MismatchError reports projection rows that disagree with a journal replay.
type MismatchError struct {
	Mismatches []reconcile.Mismatch
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%d projection mismatches", len(e.Mismatches))
}

// Verify checks the journal signatures, replays the journal into a fresh
// state and compares it with the ledger views. It writes a report to out.
func (v *Vault) Verify(ctx context.Context, out io.Writer) error {
	verified, err := v.store.VerifyIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("verify journal: %w", err)
	}
	fmt.Fprintf(out, "journal signatures verified through seq %d\n", verified)

	snap, err := v.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	state := reconcile.NewState()
	result, err := reconcile.Replay(ctx, v.store, reconcile.NewMemoryCheckpoints(), state, reconcile.Options{
		Name:     "verify",
		UntilSeq: snap.LastSeq,
	})
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	fmt.Fprintf(out, "replayed %d events through seq %d\n", result.Applied, result.LastSeq)

	mismatches := reconcile.Diff(state, snap)
	for _, m := range mismatches {
		fmt.Fprintln(out, m.String())
	}
	if len(mismatches) > 0 {
		return &MismatchError{Mismatches: mismatches}
	}
	fmt.Fprintln(out, "ledger views match the journal")
	return nil
}

// Sweep runs one orphan blob sweep and writes its report to out.
func (v *Vault) Sweep(ctx context.Context, out io.Writer) (custody.SweepReport, error) {
	report, err := v.manager.Sweep(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep blobs: %w", err)
	}
	fmt.Fprintf(out, "swept %d pins: %d removed, %d failed\n", report.Scanned, report.Removed, report.Failed)
	return report, nil
}
