// Package views implements the Latest-State Views (C6): four
// read-only derived views, each a MAX(version) reduction over its
// family's scope (§4.6). The reductions are kept here as pure
// functions over already-fetched rows so they can be unit tested
// without a database, even though the Postgres Fact Store also
// pushes the same MAX(version) logic into SQL for its *Latest reads.
package views

import (
	"context"

	"github.com/saan-system/uprl-core/internal/domain"
)

type Service struct {
	store domain.FactStore
}

func New(store domain.FactStore) *Service {
	return &Service{store: store}
}

// PricingLatest returns, per component_semantic_id, the row with the
// highest version, tie-broken by emitted_at then ingested_at.
func (s *Service) PricingLatest(ctx context.Context, orderID string) ([]domain.PricingComponentFact, error) {
	rows, err := s.store.PricingComponentsByOrder(ctx, orderID)
	if err != nil {
		return nil, &domain.StorageError{Op: "PricingComponentsByOrder", Err: err}
	}
	return ReducePricingLatest(rows), nil
}

func ReducePricingLatest(rows []domain.PricingComponentFact) []domain.PricingComponentFact {
	latest := make(map[string]domain.PricingComponentFact, len(rows))
	for _, r := range rows {
		existing, ok := latest[r.ComponentSemanticID]
		if !ok || pricingRowWins(r, existing) {
			latest[r.ComponentSemanticID] = r
		}
	}
	out := make([]domain.PricingComponentFact, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	return out
}

func pricingRowWins(candidate, current domain.PricingComponentFact) bool {
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	if !candidate.EmittedAt.Equal(current.EmittedAt) {
		return candidate.EmittedAt.After(current.EmittedAt)
	}
	return candidate.IngestedAt.After(current.IngestedAt)
}

// PaymentLatest returns the row with the highest timeline_version.
func (s *Service) PaymentLatest(ctx context.Context, orderID string) (*domain.PaymentTimelineFact, error) {
	row, err := s.store.PaymentLatest(ctx, orderID)
	if err != nil {
		return nil, &domain.StorageError{Op: "PaymentLatest", Err: err}
	}
	return row, nil
}

// SupplierLatest returns, per instance key, the row with the highest
// supplier_timeline_version.
func (s *Service) SupplierLatest(ctx context.Context, orderID string) ([]domain.SupplierTimelineFact, error) {
	rows, err := s.store.SupplierLatestAll(ctx, orderID)
	if err != nil {
		return nil, &domain.StorageError{Op: "SupplierLatestAll", Err: err}
	}
	return rows, nil
}

// RefundLatest returns, per refund_id, the row with the highest
// refund_timeline_version.
func (s *Service) RefundLatest(ctx context.Context, orderID string) ([]domain.RefundTimelineFact, error) {
	rows, err := s.store.RefundLatest(ctx, orderID)
	if err != nil {
		return nil, &domain.StorageError{Op: "RefundLatest", Err: err}
	}
	return ReduceRefundLatest(rows), nil
}

func ReduceRefundLatest(rows []domain.RefundTimelineFact) []domain.RefundTimelineFact {
	latest := make(map[string]domain.RefundTimelineFact, len(rows))
	for _, r := range rows {
		existing, ok := latest[r.RefundID]
		if !ok || r.RefundTimelineVersion > existing.RefundTimelineVersion {
			latest[r.RefundID] = r
		}
	}
	out := make([]domain.RefundTimelineFact, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	return out
}
