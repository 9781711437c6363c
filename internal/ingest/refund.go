package ingest

import (
	"encoding/json"
	"time"

	"github.com/saan-system/uprl-core/internal/domain"
)

var knownRefundStatuses = map[string]bool{
	domain.RefundStatusRequested: true, domain.RefundStatusApproved: true,
	domain.RefundStatusIssued: true, domain.RefundStatusRejected: true,
}

type refundLifecyclePayload struct {
	RefundID     string `json:"refund_id" validate:"required"`
	Status       string `json:"status" validate:"required"`
	RefundAmount int64  `json:"refund_amount"`
	Currency     string `json:"currency" validate:"required,len=3"`
	Reason       string `json:"reason,omitempty"`
}

// normalizeRefundLifecycle implements §4.4's RefundLifecycle handler:
// a status-only timeline row scoped per (order_id, refund_id), wholly
// separate from the RefundIssued pricing components it accompanies.
func normalizeRefundLifecycle(env *Envelope) (*domain.RefundTimelineFact, error) {
	var payload refundLifecyclePayload
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, &domain.ValidationError{Field: "refund", Reason: "malformed payload: " + err.Error()}
	}

	if payload.RefundID == "" {
		return nil, &domain.ValidationError{Field: "refund_id", Reason: "required"}
	}
	if !knownRefundStatuses[payload.Status] {
		return nil, &domain.ValidationError{Field: "status", Reason: "unrecognized: " + payload.Status}
	}
	if err := structValidator.Struct(&payload); err != nil {
		return nil, &domain.ValidationError{Field: "refund", Reason: err.Error()}
	}

	emittedAt := env.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = time.Now()
	}

	return &domain.RefundTimelineFact{
		OrderID:      env.OrderID,
		RefundID:     payload.RefundID,
		Status:       payload.Status,
		RefundAmount: payload.RefundAmount,
		Currency:     payload.Currency,
		Reason:       payload.Reason,
		EmittedAt:    emittedAt,
	}, nil
}
