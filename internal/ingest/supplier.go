package ingest

import (
	"encoding/json"
	"time"

	"github.com/saan-system/uprl-core/internal/domain"
)

var knownSupplierStatuses = map[string]bool{
	domain.SupplierStatusConfirmed: true, domain.SupplierStatusIssued: true,
	domain.SupplierStatusInvoiced: true, domain.SupplierStatusSettled: true,
	domain.SupplierStatusCancelledWithFee: true, domain.SupplierStatusCancelledNoFee: true,
	domain.SupplierStatusVoided: true,
}

type payableLinePayload struct {
	ObligationType string          `json:"obligation_type" validate:"required"`
	Amount         uint64          `json:"amount"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	AmountEffect   string          `json:"amount_effect" validate:"required,oneof=INCREASES_PAYABLE DECREASES_PAYABLE"`
	Calculation    json.RawMessage `json:"calculation,omitempty"`
	Description    string          `json:"description,omitempty"`
}

type partyPayload struct {
	PartyType string                `json:"party_type" validate:"required"`
	PartyID   string                `json:"party_id" validate:"required"`
	PartyName string                `json:"party_name,omitempty"`
	Lines     []payableLinePayload  `json:"lines" validate:"dive"`
}

type supplierLifecyclePayload struct {
	Status                string          `json:"status" validate:"required"`
	SupplierID            string          `json:"supplier_id" validate:"required"`
	SupplierRef           string          `json:"supplier_ref,omitempty"`
	OrderDetailID         string          `json:"order_detail_id" validate:"required"`
	FulfillmentInstanceID *string         `json:"fulfillment_instance_id"`
	AmountDue             int64           `json:"amount_due"`
	AmountBasis           string          `json:"amount_basis" validate:"required"`
	Currency              string          `json:"currency" validate:"required,len=3"`
	FXContext             json.RawMessage `json:"fx_context,omitempty"`
	EntityContext         json.RawMessage `json:"entity_context,omitempty"`
	Cancellation          json.RawMessage `json:"cancellation,omitempty"`
	Parties               []partyPayload  `json:"parties" validate:"dive"`
}

// normalizeSupplierLifecycle implements §4.4's SupplierLifecycle
// handler. It returns the parent timeline row (version left zero; the
// pipeline fills it under the Version Registry's lock) and the
// payable lines carried forward from the same event. An empty or
// absent parties[] yields zero lines for this version, which is
// exactly what the Payables Projector needs to carry prior obligations
// forward (§4.5) — no separate "was parties provided" flag required.
func normalizeSupplierLifecycle(env *Envelope) (*domain.SupplierTimelineFact, []domain.SupplierPayableLine, error) {
	var payload supplierLifecyclePayload
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, nil, &domain.ValidationError{Field: "supplier", Reason: "malformed payload: " + err.Error()}
	}

	if payload.Status == "" {
		return nil, nil, &domain.ValidationError{Field: "status", Reason: "required"}
	}
	if !knownSupplierStatuses[payload.Status] {
		return nil, nil, &domain.ValidationError{Field: "status", Reason: "unrecognized: " + payload.Status}
	}
	if payload.OrderDetailID == "" {
		return nil, nil, &domain.ValidationError{Field: "order_detail_id", Reason: "required"}
	}
	if payload.FulfillmentInstanceID != nil && *payload.FulfillmentInstanceID == "" {
		return nil, nil, &domain.ValidationError{Field: "fulfillment_instance_id", Reason: "empty string is not a valid fulfillment instance id; omit or use null for booking-level"}
	}
	if err := structValidator.Struct(&payload); err != nil {
		return nil, nil, &domain.ValidationError{Field: "supplier", Reason: err.Error()}
	}

	supplierRef := payload.SupplierRef
	if supplierRef == "" {
		supplierRef = payload.SupplierID
	}

	emittedAt := env.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = time.Now()
	}

	row := &domain.SupplierTimelineFact{
		OrderID:               env.OrderID,
		OrderDetailID:         payload.OrderDetailID,
		SupplierReferenceID:   supplierRef,
		FulfillmentInstanceID: payload.FulfillmentInstanceID,
		Status:                payload.Status,
		Amount:                payload.AmountDue,
		AmountBasis:           payload.AmountBasis,
		Currency:              payload.Currency,
		FXContext:             payload.FXContext,
		EntityContext:         payload.EntityContext,
		EmittedAt:             emittedAt,
	}

	lines := make([]domain.SupplierPayableLine, 0, len(payload.Parties))
	for _, party := range payload.Parties {
		if party.PartyType == "" || party.PartyID == "" {
			return nil, nil, &domain.ValidationError{Field: "parties", Reason: "party_type and party_id are required"}
		}
		for _, l := range party.Lines {
			effect := domain.AmountEffect(l.AmountEffect)
			if effect != domain.IncreasesPayable && effect != domain.DecreasesPayable {
				return nil, nil, &domain.ValidationError{Field: "amount_effect", Reason: "must be INCREASES_PAYABLE or DECREASES_PAYABLE"}
			}
			lines = append(lines, domain.SupplierPayableLine{
				OrderID:               env.OrderID,
				OrderDetailID:         payload.OrderDetailID,
				SupplierReferenceID:   supplierRef,
				FulfillmentInstanceID: payload.FulfillmentInstanceID,
				PartyType:             party.PartyType,
				PartyID:               party.PartyID,
				ObligationType:        l.ObligationType,
				Amount:                l.Amount,
				AmountEffect:          effect,
				Currency:              l.Currency,
			})
		}
	}

	return row, lines, nil
}

// normalizePartnerAdjustment implements §4.4's PartnerAdjustment
// handler: a single-line standalone obligation with
// supplier_timeline_version = -1 and no timeline parent.
func normalizePartnerAdjustment(env *Envelope) (*domain.SupplierPayableLine, error) {
	var payload struct {
		OrderDetailID         string  `json:"order_detail_id" validate:"required"`
		SupplierReferenceID   string  `json:"supplier_reference_id" validate:"required"`
		FulfillmentInstanceID *string `json:"fulfillment_instance_id"`
		PartyType             string  `json:"party_type" validate:"required"`
		PartyID               string  `json:"party_id" validate:"required"`
		ObligationType        string  `json:"obligation_type" validate:"required"`
		Amount                uint64  `json:"amount"`
		AmountEffect          string  `json:"amount_effect" validate:"required"`
		Currency              string  `json:"currency" validate:"required,len=3"`
	}
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, &domain.ValidationError{Field: "adjustment", Reason: "malformed payload: " + err.Error()}
	}
	if payload.OrderDetailID == "" || payload.SupplierReferenceID == "" || payload.PartyID == "" || payload.ObligationType == "" {
		return nil, &domain.ValidationError{Field: "adjustment", Reason: "order_detail_id, supplier_reference_id, party_id and obligation_type are required"}
	}
	if payload.FulfillmentInstanceID != nil && *payload.FulfillmentInstanceID == "" {
		return nil, &domain.ValidationError{Field: "fulfillment_instance_id", Reason: "empty string is not a valid fulfillment instance id"}
	}
	if err := structValidator.Struct(&payload); err != nil {
		return nil, &domain.ValidationError{Field: "adjustment", Reason: err.Error()}
	}
	effect := domain.AmountEffect(payload.AmountEffect)
	if effect != domain.IncreasesPayable && effect != domain.DecreasesPayable {
		return nil, &domain.ValidationError{Field: "amount_effect", Reason: "must be INCREASES_PAYABLE or DECREASES_PAYABLE"}
	}

	return &domain.SupplierPayableLine{
		OrderID:                 env.OrderID,
		OrderDetailID:           payload.OrderDetailID,
		SupplierReferenceID:     payload.SupplierReferenceID,
		FulfillmentInstanceID:   payload.FulfillmentInstanceID,
		SupplierTimelineVersion: domain.StandaloneVersion,
		PartyType:               payload.PartyType,
		PartyID:                 payload.PartyID,
		ObligationType:          payload.ObligationType,
		Amount:                  payload.Amount,
		AmountEffect:            effect,
		Currency:                payload.Currency,
	}, nil
}
