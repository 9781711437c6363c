package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/internal/identity"
)

type pricingComponentPayload struct {
	ComponentType               string                 `json:"component_type" validate:"required"`
	Amount                      int64                  `json:"amount"`
	Currency                    string                 `json:"currency" validate:"required,len=3"`
	Dimensions                  map[string]interface{} `json:"dimensions"`
	Description                 string                 `json:"description,omitempty"`
	IsRefund                    bool                   `json:"is_refund,omitempty"`
	RefundOfComponentSemanticID string                 `json:"refund_of_component_semantic_id,omitempty"`
}

type detailContextPayload struct {
	OrderDetailID string          `json:"order_detail_id" validate:"required"`
	EntityContext json.RawMessage `json:"entity_context,omitempty"`
	FXContext     json.RawMessage `json:"fx_context,omitempty"`
}

type totalsPayload struct {
	CustomerTotal int64 `json:"customer_total"`
}

type pricingUpdatedPayload struct {
	RefundID       string                     `json:"refund_id,omitempty"`
	Components     []pricingComponentPayload `json:"components" validate:"required,min=1,dive"`
	DetailContext  *detailContextPayload     `json:"detail_context,omitempty"`
	DetailContexts []detailContextPayload    `json:"detail_contexts,omitempty"`
	Totals         *totalsPayload            `json:"totals,omitempty"`
}

// normalizedPricing holds everything a PricingUpdated or RefundIssued
// event needs committed, except the fields assigned at commit time under
// the Version Registry's lock (version, pricing_snapshot_id,
// component_instance_id, ingested_at).
type normalizedPricing struct {
	rows    []domain.PricingComponentFact
	warning string // non-fatal totals mismatch, if any
}

var structValidator = validator.New()

// normalizePricingUpdated implements §4.4's PricingUpdated handler:
// build the semantic ID per component (instance IDs are derived at
// commit time, once the snapshot ID exists) and warn (not DLQ) on a
// components-sum vs totals.customer_total mismatch. detail_context and
// detail_contexts are decoded but not resolved: nothing from them is
// attached to the rows.
func normalizePricingUpdated(env *Envelope, isRefundEvent bool) (*normalizedPricing, error) {
	var payload pricingUpdatedPayload
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, &domain.ValidationError{Field: "components", Reason: "malformed payload: " + err.Error()}
	}
	refundID := payload.RefundID

	if err := structValidator.Struct(&payload); err != nil {
		return nil, &domain.ValidationError{Field: "components", Reason: err.Error()}
	}
	if len(payload.Components) == 0 {
		return nil, &domain.ValidationError{Field: "components", Reason: "must contain at least 1 component"}
	}

	now := time.Now()
	emittedAt := env.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = now
	}

	rows := make([]domain.PricingComponentFact, 0, len(payload.Components))
	var sum int64

	for _, c := range payload.Components {
		if c.ComponentType == "" {
			return nil, &domain.IdentityError{Reason: "component_type missing"}
		}

		dims, err := identity.ValidateDimensions(c.Dimensions)
		if err != nil {
			return nil, err
		}

		isRefund := isRefundEvent || c.IsRefund
		refundOf := c.RefundOfComponentSemanticID

		if isRefundEvent {
			if refundOf == "" {
				return nil, &domain.ValidationError{Field: "refund_of_component_semantic_id", Reason: "required on RefundIssued components"}
			}
			if c.Amount > 0 {
				return nil, &domain.ValidationError{Field: "amount", Reason: "RefundIssued components must have amount <= 0"}
			}
		}

		semanticID, err := identity.SemanticID(env.OrderID, refundID, dims, c.ComponentType)
		if err != nil {
			return nil, err
		}

		sum += c.Amount

		var refundOfPtr *string
		if refundOf != "" {
			refundOfPtr = &refundOf
		}

		rows = append(rows, domain.PricingComponentFact{
			ComponentSemanticID:       semanticID,
			OrderID:                   env.OrderID,
			ComponentType:             c.ComponentType,
			CanonicalComponentType:    domain.CanonicalizeComponentType(c.ComponentType),
			Amount:                    c.Amount,
			Currency:                  c.Currency,
			Dimensions:                dims,
			IsRefund:                  isRefund,
			RefundOfComponentSemantic: refundOfPtr,
			EmittedAt:                 emittedAt,
		})
	}

	result := &normalizedPricing{rows: rows}
	if payload.Totals != nil && sum != payload.Totals.CustomerTotal {
		result.warning = fmt.Sprintf("components sum %d does not match totals.customer_total %d", sum, payload.Totals.CustomerTotal)
	}
	return result, nil
}
