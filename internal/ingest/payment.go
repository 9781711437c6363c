package ingest

import (
	"encoding/json"
	"time"

	"github.com/saan-system/uprl-core/internal/domain"
)

type instrumentPayload struct {
	Type string `json:"type" validate:"required"`
	// Typed sub-payloads; at most one may be populated, and a payload
	// with more than one is rejected.
	VA       json.RawMessage `json:"va,omitempty"`
	Card     json.RawMessage `json:"card,omitempty"`
	EWallet  json.RawMessage `json:"ewallet,omitempty"`
	BNPL     json.RawMessage `json:"bnpl_plan,omitempty"`
	QR       json.RawMessage `json:"qr,omitempty"`
	Loyalty  json.RawMessage `json:"loyalty,omitempty"`
}

func (p *instrumentPayload) populatedCount() int {
	n := 0
	for _, raw := range []json.RawMessage{p.VA, p.Card, p.EWallet, p.BNPL, p.QR, p.Loyalty} {
		if len(raw) > 0 {
			n++
		}
	}
	return n
}

type paymentMethodPayload struct {
	Channel  string `json:"channel"`
	Provider string `json:"provider"`
	Brand    string `json:"brand,omitempty"`
}

type paymentNestedPayload struct {
	Status                string                `json:"status" validate:"required"`
	PaymentMethod         *paymentMethodPayload `json:"payment_method"`
	Currency              string                `json:"currency" validate:"required,len=3"`
	AuthorizedAmount      *int64                `json:"authorized_amount,omitempty"`
	CapturedAmount        *int64                `json:"captured_amount,omitempty"`
	CapturedAmountTotal   *int64                `json:"captured_amount_total,omitempty"`
	Instrument            *instrumentPayload    `json:"instrument,omitempty"`
}

// paymentLifecyclePayload accepts either the legacy flat shape or the
// nested "payment" object (§4.4's PaymentLifecycle normalization).
type paymentLifecyclePayload struct {
	Payment *paymentNestedPayload `json:"payment,omitempty"`

	// Legacy flat fields, canonicalized into Payment when present.
	Status           string                `json:"status,omitempty"`
	PaymentMethod    *paymentMethodPayload `json:"payment_method,omitempty"`
	Currency         string                `json:"currency,omitempty"`
	AuthorizedAmount *int64                `json:"authorized_amount,omitempty"`
	CapturedAmount   *int64                `json:"captured_amount,omitempty"`
	Instrument       *instrumentPayload    `json:"instrument,omitempty"`
}

func (p *paymentLifecyclePayload) canonical() *paymentNestedPayload {
	if p.Payment != nil {
		return p.Payment
	}
	return &paymentNestedPayload{
		Status:           p.Status,
		PaymentMethod:    p.PaymentMethod,
		Currency:         p.Currency,
		AuthorizedAmount: p.AuthorizedAmount,
		CapturedAmount:   p.CapturedAmount,
		Instrument:       p.Instrument,
	}
}

// normalizePaymentLifecycle implements §4.4's PaymentLifecycle handler.
func normalizePaymentLifecycle(env *Envelope) (*domain.PaymentTimelineFact, error) {
	var payload paymentLifecyclePayload
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, &domain.ValidationError{Field: "payment", Reason: "malformed payload: " + err.Error()}
	}

	nested := payload.canonical()
	if nested.Status == "" {
		return nil, &domain.ValidationError{Field: "status", Reason: "required"}
	}
	if nested.Currency == "" {
		return nil, &domain.ValidationError{Field: "currency", Reason: "required"}
	}
	if err := structValidator.Struct(nested); err != nil {
		return nil, &domain.ValidationError{Field: "payment", Reason: err.Error()}
	}
	if nested.Instrument != nil && nested.Instrument.populatedCount() > 1 {
		return nil, &domain.ValidationError{Field: "instrument", Reason: "more than one sub-payload populated"}
	}

	methodJSON, err := json.Marshal(nested.PaymentMethod)
	if err != nil {
		return nil, &domain.ValidationError{Field: "payment_method", Reason: err.Error()}
	}
	instrumentJSON, err := json.Marshal(nested.Instrument)
	if err != nil {
		return nil, &domain.ValidationError{Field: "instrument", Reason: err.Error()}
	}

	emittedAt := env.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = time.Now()
	}

	return &domain.PaymentTimelineFact{
		OrderID:          env.OrderID,
		Status:           nested.Status,
		PaymentMethod:    methodJSON,
		Instrument:       instrumentJSON,
		AuthorizedAmount: nested.AuthorizedAmount,
		CapturedAmount:   nested.CapturedAmount,
		Currency:         nested.Currency,
		EmittedAt:        emittedAt,
	}, nil
}
