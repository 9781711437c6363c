// Package ingest implements the Ingestion Pipeline (C4): shape
// validation, routing, handler-specific normalization, and atomic
// commit to the Fact Store, with failures routed to the DLQ instead of
// blocking the pipeline.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/saan-system/uprl-core/internal/domain"
)

// Canonical event_type values (§6.1). Producer-facing aliases are
// folded into these by ParseEnvelope before routing, so the rest
// of the pipeline only ever sees one spelling per kind — the
// "versioned envelope + tagged variants" redesign of SPEC_FULL.md §13.
const (
	EventPricingUpdated    = "PricingUpdated"
	EventPaymentLifecycle  = "PaymentLifecycle"
	EventSupplierLifecycle = "SupplierLifecycle"
	EventRefundIssued      = "RefundIssued"
	EventRefundLifecycle   = "RefundLifecycle"
	EventPartnerAdjustment = "PartnerAdjustment"
)

var eventTypeAliases = map[string]string{
	"PricingUpdated":            EventPricingUpdated,
	"PaymentLifecycle":          EventPaymentLifecycle,
	"IssuanceSupplierLifecycle": EventSupplierLifecycle,
	"SupplierLifecycleEvent":    EventSupplierLifecycle,
	"refund.issued":             EventRefundIssued,
	"RefundLifecycle":           EventRefundLifecycle,
	"PartnerAdjustmentEvent":    EventPartnerAdjustment,
}

// Exhaustive schema_version tokens (§6.1).
const (
	SchemaPricingV1         = "pricing.commerce.v1"
	SchemaPaymentV1         = "payment.timeline.v1"
	SchemaSupplierV1        = "supplier.timeline.v1"
	SchemaSupplierV2        = "supplier.timeline.v2"
	SchemaRefundComponentV1 = "refund.components.v1"
	SchemaRefundLifecycleV1 = "refund.lifecycle.v1"
	SchemaPartnerAdjustV1   = "partner.adjustment.v1"
)

var knownSchemaVersions = map[string]bool{
	SchemaPricingV1: true, SchemaPaymentV1: true,
	SchemaSupplierV1: true, SchemaSupplierV2: true,
	SchemaRefundComponentV1: true, SchemaRefundLifecycleV1: true,
	SchemaPartnerAdjustV1: true,
}

// Envelope is the inbound event envelope, common to every event_type.
// Unknown fields in the outer object are preserved by keeping the raw
// bytes around (RawBody) for DLQ replay rather than by round-tripping
// through a generic map.
type Envelope struct {
	EventID        string                 `json:"event_id,omitempty"`
	EventType      string                 `json:"event_type" validate:"required"`
	SchemaVersion  string                 `json:"schema_version" validate:"required"`
	OrderID        string                 `json:"order_id" validate:"required"`
	EmittedAt      time.Time              `json:"emitted_at"`
	EmitterService string                 `json:"emitter_service,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Meta           map[string]interface{} `json:"meta,omitempty"`

	RawBody json.RawMessage `json:"-"`
}

// ParseEnvelope decodes the outer envelope and normalizes its
// event_type alias. It does not validate the payload shape beyond JSON
// well-formedness; the required envelope fields are checked in
// Pipeline.Process.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &domain.ValidationError{Field: "(body)", Reason: "malformed JSON: " + err.Error()}
	}
	env.RawBody = raw

	if canonical, ok := eventTypeAliases[env.EventType]; ok {
		env.EventType = canonical
	}

	return &env, nil
}

// ValidateSchemaVersion rejects any schema_version token outside the
// exhaustive list in §6.1.
func ValidateSchemaVersion(schemaVersion string) error {
	if !knownSchemaVersions[schemaVersion] {
		return &domain.ValidationError{Field: "schema_version", Reason: "unrecognized token: " + schemaVersion}
	}
	return nil
}
