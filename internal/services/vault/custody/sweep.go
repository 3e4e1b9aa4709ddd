package custody

import (
	"context"
	"errors"
	"log"

	"github.com/louisbranch/recordvault/internal/platform/otel"
	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	"go.opentelemetry.io/otel/attribute"
)

// ErrSweepUnsupported is returned when the blob store cannot enumerate pins.
var ErrSweepUnsupported = errors.New("blob store does not list pins")

// SweepReport summarizes one orphan sweep.
type SweepReport struct {
	Scanned int
	Removed int
	Failed  int
}

// Sweep unpins blobs that no index entry or profile references and that are
// older than the configured grace period. A pin's age restarts on every
// Put, and a hash an upload currently holds is skipped.
func (m *Manager) Sweep(ctx context.Context) (report SweepReport, err error) {
	ctx, span := tracer.Start(ctx, "custody.Sweep")
	defer func() { otel.End(span, err) }()

	lister, ok := m.blobs.(blobstore.Lister)
	if !ok {
		return report, ErrSweepUnsupported
	}
	pins, err := lister.Pins(ctx)
	if err != nil {
		return report, err
	}
	cutoff := m.now().Add(-m.cfg.SweepGrace)
	for _, pin := range pins {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		if pin.PinnedAt.After(cutoff) {
			continue
		}
		outcome, err := m.sweepPin(ctx, pin.Hash)
		if err != nil {
			return report, err
		}
		switch outcome {
		case sweepRemoved:
			report.Removed++
		case sweepFailed:
			report.Failed++
		}
	}
	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.removed", report.Removed),
	)
	return report, nil
}

type sweepOutcome int

const (
	sweepKept sweepOutcome = iota
	sweepRemoved
	sweepFailed
)

// sweepPin unpins hash when it is unreferenced and no upload holds it.
func (m *Manager) sweepPin(ctx context.Context, hash string) (sweepOutcome, error) {
	unlock, ok := m.janitor.locks.tryLock(hash)
	if !ok {
		return sweepKept, nil
	}
	defer unlock()

	refs, err := m.store.CountContentRefs(ctx, hash)
	if err != nil {
		return sweepKept, err
	}
	if refs > 0 {
		return sweepKept, nil
	}
	if err := m.blobs.Unpin(ctx, hash); err != nil {
		log.Printf("custody: sweep unpin %s: %v", hash, err)
		return sweepFailed, nil
	}
	return sweepRemoved, nil
}
