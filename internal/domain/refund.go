package domain

import "time"

// Refund lifecycle statuses carried by schema_version refund.lifecycle.v1.
const (
	RefundStatusRequested = "Requested"
	RefundStatusApproved  = "Approved"
	RefundStatusIssued    = "Issued"
	RefundStatusRejected  = "Rejected"
)

// RefundTimelineFact is one refund lifecycle status event (distinct
// from the RefundIssued pricing components themselves).
type RefundTimelineFact struct {
	EventID               string    `json:"event_id" db:"event_id"`
	OrderID               string    `json:"order_id" db:"order_id"`
	RefundID              string    `json:"refund_id" db:"refund_id"`
	RefundTimelineVersion int       `json:"refund_timeline_version" db:"refund_timeline_version"`
	Status                string    `json:"status" db:"status"`
	RefundAmount          int64     `json:"refund_amount" db:"refund_amount"`
	Currency              string    `json:"currency" db:"currency"`
	Reason                string    `json:"reason,omitempty" db:"reason"`
	EmittedAt             time.Time `json:"emitted_at" db:"emitted_at"`
}
