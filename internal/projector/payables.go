// Package projector implements the Payables Projector (C5): a pure,
// read-only computation of effective payable instances for an order.
// It never writes to the Fact Store.
package projector

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// ObligationLine is one (party, obligation_type) line surviving the
// last-writer-wins projection, with its signed contribution applied.
type ObligationLine struct {
	PartyType      string
	PartyID        string
	ObligationType string
	Amount         int64
	Currency       string
}

// Payable is one computed instance: baseline plus net obligations.
type Payable struct {
	Instance    domain.SupplierInstanceKey
	Status      string
	Baseline    int64
	Obligations []ObligationLine
	Total       int64
}

// Projector computes Payables for an order from the Fact Store.
type Projector struct {
	store domain.SupplierStore
	log   logger.Logger
}

func New(store domain.SupplierStore, log logger.Logger) *Projector {
	return &Projector{store: store, log: log}
}

// ComputeOrderPayables returns one Payable per distinct instance key
// under order_id, plus any non-fatal per-instance warnings. A warning
// on one instance never suppresses the others (§4.5 "partial results").
func (p *Projector) ComputeOrderPayables(ctx context.Context, orderID string) ([]Payable, []error, error) {
	keys, err := p.store.InstanceKeys(ctx, orderID)
	if err != nil {
		return nil, nil, &domain.StorageError{Op: "InstanceKeys", Err: err}
	}

	var (
		mu       sync.Mutex
		results  = make([]Payable, 0, len(keys))
		warnings = make([]error, 0)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			payable, warn := p.computeInstance(gctx, orderID, key)
			mu.Lock()
			defer mu.Unlock()
			if warn != nil {
				warnings = append(warnings, warn)
				p.log.WithFields(map[string]interface{}{
					"order_id": orderID,
					"instance": key,
				}).Warn(warn.Error())
			}
			if payable != nil {
				results = append(results, *payable)
			}
			return nil // never fail the group; errors are captured above
		})
	}
	_ = g.Wait() // no goroutine above returns a non-nil error

	return results, warnings, nil
}

// computeInstance never returns a hard error: a failure to read or
// reconcile one instance becomes a ProjectionError warning and a nil
// Payable, so the caller can keep the rest of the order's instances.
func (p *Projector) computeInstance(ctx context.Context, orderID string, key domain.SupplierInstanceKey) (*Payable, error) {
	latest, err := p.store.SupplierLatestByInstance(ctx, orderID, key)
	if err != nil {
		return nil, &domain.ProjectionError{InstanceKey: instanceKeyString(key), Reason: err.Error()}
	}

	baseline, unknownStatus := baselineForStatus(latest.Status, latest.Amount)

	lines, err := p.store.PayableLinesByInstance(ctx, orderID, key)
	if err != nil {
		return nil, &domain.ProjectionError{InstanceKey: instanceKeyString(key), Reason: err.Error()}
	}
	obligations := partyProjection(latest.Status, lines)

	var adjustment int64
	out := make([]ObligationLine, 0, len(obligations))
	for _, l := range obligations {
		signed := int64(l.Amount) * l.AmountEffect.Sign()
		adjustment += signed
		out = append(out, ObligationLine{
			PartyType:      l.PartyType,
			PartyID:        l.PartyID,
			ObligationType: l.ObligationType,
			Amount:         signed,
			Currency:       l.Currency,
		})
	}

	payable := &Payable{
		Instance:    key,
		Status:      latest.Status,
		Baseline:    baseline,
		Obligations: out,
		Total:       baseline + adjustment,
	}

	if unknownStatus {
		return payable, &domain.ProjectionError{InstanceKey: instanceKeyString(key), Reason: "unknown status " + latest.Status + "; treated as amount baseline"}
	}
	return payable, nil
}

// baselineForStatus implements §4.5's baseline_for_status table.
func baselineForStatus(status string, amount int64) (baseline int64, unknown bool) {
	switch status {
	case domain.SupplierStatusConfirmed, domain.SupplierStatusIssued,
		domain.SupplierStatusInvoiced, domain.SupplierStatusSettled:
		return amount, false
	case domain.SupplierStatusCancelledWithFee, domain.SupplierStatusCancelledNoFee, domain.SupplierStatusVoided:
		return 0, false
	default:
		return amount, true
	}
}

func includeTimelineLines(status string) bool {
	switch status {
	case domain.SupplierStatusConfirmed, domain.SupplierStatusIssued,
		domain.SupplierStatusInvoiced, domain.SupplierStatusSettled,
		domain.SupplierStatusCancelledWithFee:
		return true
	default:
		return false
	}
}

// partyProjection implements §4.5's last-writer-wins table: timeline
// lines (v >= 1) are deduped to the highest version per
// (party_id, obligation_type) and included only for the statuses
// where obligations still apply; standalone lines (v = -1) are always
// included, one row each, never deduped against anything.
func partyProjection(status string, lines []domain.SupplierPayableLine) []domain.SupplierPayableLine {
	type key struct{ party, obligation string }
	latest := make(map[key]domain.SupplierPayableLine)
	standalone := make([]domain.SupplierPayableLine, 0)

	for _, l := range lines {
		if l.IsStandalone() {
			standalone = append(standalone, l)
			continue
		}
		if !includeTimelineLines(status) {
			continue
		}
		k := key{l.PartyID, l.ObligationType}
		if existing, ok := latest[k]; !ok || l.SupplierTimelineVersion > existing.SupplierTimelineVersion {
			latest[k] = l
		}
	}

	out := make([]domain.SupplierPayableLine, 0, len(latest)+len(standalone))
	for _, l := range latest {
		out = append(out, l)
	}
	out = append(out, standalone...)
	return out
}

func instanceKeyString(key domain.SupplierInstanceKey) string {
	return key.OrderDetailID + "/" + key.SupplierReferenceID + "/" + key.FulfillmentInstanceID
}
