package domain

import "context"

// VersionFamily names one of the five independent version families of §4.2.
type VersionFamily string

const (
	FamilyPricing  VersionFamily = "pricing"
	FamilyPayment  VersionFamily = "payment"
	FamilySupplier VersionFamily = "supplier"
	FamilyRefund   VersionFamily = "refund"
	FamilyIssuance VersionFamily = "issuance"
)

// SupplierInstanceKey identifies one payable instance within an order:
// (order_detail_id, supplier_reference_id, fulfillment_instance_id_or_BOOKING).
type SupplierInstanceKey struct {
	OrderDetailID         string `db:"order_detail_id"`
	SupplierReferenceID   string `db:"supplier_reference_id"`
	FulfillmentInstanceID string `db:"fulfillment_instance_id"` // already coalesced to BookingLevel when absent
}

// VersionReader answers MAX(version) reads for the Version Registry
// (C2). The registry serializes read+write per scope with a lock it
// owns (internal/version); the store only needs to answer the read.
type VersionReader interface {
	MaxVersion(ctx context.Context, family VersionFamily, scopeKey string) (int, error)
}

// PricingStore persists and reads PricingComponentFact rows.
type PricingStore interface {
	AppendPricingComponents(ctx context.Context, rows []PricingComponentFact) error
	PricingComponentsByOrder(ctx context.Context, orderID string) ([]PricingComponentFact, error)
	PricingLatest(ctx context.Context, orderID string) ([]PricingComponentFact, error)
}

// PaymentStore persists and reads PaymentTimelineFact rows.
type PaymentStore interface {
	AppendPaymentEvent(ctx context.Context, row PaymentTimelineFact) error
	PaymentTimelineByOrder(ctx context.Context, orderID string) ([]PaymentTimelineFact, error)
	PaymentLatest(ctx context.Context, orderID string) (*PaymentTimelineFact, error)
}

// SupplierStore persists and reads SupplierTimelineFact and
// SupplierPayableLine rows.
type SupplierStore interface {
	// AppendSupplierEvent commits the parent timeline row and its
	// payable lines (possibly empty) as a single atomic unit (§4.4 step 4).
	AppendSupplierEvent(ctx context.Context, row SupplierTimelineFact, lines []SupplierPayableLine) error
	// AppendStandaloneLine commits a PartnerAdjustment line with no
	// timeline parent.
	AppendStandaloneLine(ctx context.Context, line SupplierPayableLine) error

	InstanceKeys(ctx context.Context, orderID string) ([]SupplierInstanceKey, error)
	SupplierTimelineByInstance(ctx context.Context, orderID string, key SupplierInstanceKey) ([]SupplierTimelineFact, error)
	SupplierLatestByInstance(ctx context.Context, orderID string, key SupplierInstanceKey) (*SupplierTimelineFact, error)
	PayableLinesByInstance(ctx context.Context, orderID string, key SupplierInstanceKey) ([]SupplierPayableLine, error)
	SupplierLatestAll(ctx context.Context, orderID string) ([]SupplierTimelineFact, error)
}

// RefundStore persists and reads RefundTimelineFact rows.
type RefundStore interface {
	AppendRefundEvent(ctx context.Context, row RefundTimelineFact) error
	RefundTimelineByOrder(ctx context.Context, orderID string) ([]RefundTimelineFact, error)
	RefundLatest(ctx context.Context, orderID string) ([]RefundTimelineFact, error)
}

// DLQStore persists and reads dead-lettered events.
type DLQStore interface {
	AppendDLQEntry(ctx context.Context, entry DLQEntry) error
	ListDLQ(ctx context.Context, filter DLQFilter) ([]DLQEntry, error)
	IncrementRetry(ctx context.Context, dlqID string) error
	PendingForReplay(ctx context.Context, maxRetries, limit int) ([]DLQEntry, error)
}

// IdempotencyChecker answers whether an event_id has already been
// committed for a given family, so the pipeline can silently skip
// redelivered events (§4.4 "Idempotency").
type IdempotencyChecker interface {
	EventAlreadyCommitted(ctx context.Context, family VersionFamily, eventID string) (bool, error)
}

// FactStore (C3) is the append-only persistence layer the Ingestion
// Pipeline writes to and the Projector/Views read from.
type FactStore interface {
	VersionReader
	PricingStore
	PaymentStore
	SupplierStore
	RefundStore
	DLQStore
	IdempotencyChecker
}
