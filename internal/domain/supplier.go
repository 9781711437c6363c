package domain

import (
	"encoding/json"
	"time"
)

// BookingLevel is the sentinel fulfillment_instance_id used when an
// event carries no fulfillment_instance_id. It is a meaningful, distinct
// key in every index and scope — never a wildcard (§4.3).
const BookingLevel = "__BOOKING_LEVEL__"

// InstanceKeyOf returns the coalesced fulfillment_instance_id_or_BOOKING
// dimension used to scope supplier timeline versions and payable lines.
func InstanceKeyOf(fulfillmentInstanceID *string) string {
	if fulfillmentInstanceID == nil {
		return BookingLevel
	}
	return *fulfillmentInstanceID
}

// Supplier lifecycle statuses (§6.1, schema_version supplier.timeline.v2).
const (
	SupplierStatusConfirmed        = "Confirmed"
	SupplierStatusIssued           = "ISSUED"
	SupplierStatusInvoiced         = "Invoiced"
	SupplierStatusSettled          = "Settled"
	SupplierStatusCancelledWithFee = "CancelledWithFee"
	SupplierStatusCancelledNoFee   = "CancelledNoFee"
	SupplierStatusVoided           = "Voided"
)

// SupplierTimelineFact is one supplier lifecycle event for one
// fulfillment instance (or the booking level when none is given).
type SupplierTimelineFact struct {
	EventID                 string          `json:"event_id" db:"event_id"`
	OrderID                 string          `json:"order_id" db:"order_id"`
	OrderDetailID           string          `json:"order_detail_id" db:"order_detail_id"`
	SupplierReferenceID     string          `json:"supplier_reference_id" db:"supplier_reference_id"`
	FulfillmentInstanceID   *string         `json:"fulfillment_instance_id,omitempty" db:"fulfillment_instance_id"`
	SupplierTimelineVersion int             `json:"supplier_timeline_version" db:"supplier_timeline_version"`
	Status                  string          `json:"status" db:"status"`
	Amount                  int64           `json:"amount" db:"amount"`
	AmountBasis             string          `json:"amount_basis" db:"amount_basis"`
	Currency                string          `json:"currency" db:"currency"`
	FXContext               json.RawMessage `json:"fx_context,omitempty" db:"fx_context"`
	EntityContext           json.RawMessage `json:"entity_context,omitempty" db:"entity_context"`
	EmittedAt               time.Time       `json:"emitted_at" db:"emitted_at"`
}

// InstanceKey returns the fulfillment_instance_id_or_BOOKING partition
// key for this row.
func (f *SupplierTimelineFact) InstanceKey() string {
	return InstanceKeyOf(f.FulfillmentInstanceID)
}

// AmountEffect is the directional flag on a payable line.
type AmountEffect string

const (
	IncreasesPayable AmountEffect = "INCREASES_PAYABLE"
	DecreasesPayable AmountEffect = "DECREASES_PAYABLE"
)

// Sign returns +1 for INCREASES_PAYABLE and -1 for DECREASES_PAYABLE.
func (e AmountEffect) Sign() int64 {
	if e == DecreasesPayable {
		return -1
	}
	return 1
}

// StandaloneVersion is the sentinel supplier_timeline_version written
// verbatim by a PartnerAdjustment that bypasses the Version Registry.
const StandaloneVersion = -1

// SupplierPayableLine is one obligation line attached to a supplier
// timeline event, or a standalone partner adjustment when
// SupplierTimelineVersion == StandaloneVersion.
type SupplierPayableLine struct {
	LineID                  string       `json:"line_id" db:"line_id"`
	OrderID                 string       `json:"order_id" db:"order_id"`
	OrderDetailID           string       `json:"order_detail_id" db:"order_detail_id"`
	SupplierReferenceID     string       `json:"supplier_reference_id" db:"supplier_reference_id"`
	FulfillmentInstanceID   *string      `json:"fulfillment_instance_id,omitempty" db:"fulfillment_instance_id"`
	SupplierTimelineVersion int          `json:"supplier_timeline_version" db:"supplier_timeline_version"`
	PartyType               string       `json:"party_type" db:"party_type"`
	PartyID                 string       `json:"party_id" db:"party_id"`
	ObligationType          string       `json:"obligation_type" db:"obligation_type"`
	Amount                  uint64       `json:"amount" db:"amount"`
	AmountEffect            AmountEffect `json:"amount_effect" db:"amount_effect"`
	Currency                string       `json:"currency" db:"currency"`
}

// InstanceKey returns the fulfillment_instance_id_or_BOOKING partition
// key for this line.
func (l *SupplierPayableLine) InstanceKey() string {
	return InstanceKeyOf(l.FulfillmentInstanceID)
}

// IsStandalone reports whether this line is a partner adjustment with
// no parent supplier timeline row.
func (l *SupplierPayableLine) IsStandalone() bool {
	return l.SupplierTimelineVersion == StandaloneVersion
}

// Party types accepted by §6.1.
const (
	PartySupplier   = "SUPPLIER"
	PartyAffiliate  = "AFFILIATE"
	PartyTaxAuthority = "TAX_AUTHORITY"
	PartyInternal   = "INTERNAL"
)
