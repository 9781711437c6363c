package domain

import "time"

// PricingComponentFact is one pricing component occurrence in one
// pricing snapshot. Rows are append-only: a repricing or a refund
// creates a new row, never updates an old one.
type PricingComponentFact struct {
	ComponentInstanceID       string            `json:"component_instance_id" db:"component_instance_id"`
	ComponentSemanticID       string            `json:"component_semantic_id" db:"component_semantic_id"`
	OrderID                   string            `json:"order_id" db:"order_id"`
	PricingSnapshotID         string            `json:"pricing_snapshot_id" db:"pricing_snapshot_id"`
	Version                   int               `json:"version" db:"version"`
	ComponentType             string            `json:"component_type" db:"component_type"`
	CanonicalComponentType    string            `json:"canonical_component_type" db:"canonical_component_type"`
	Amount                    int64             `json:"amount" db:"amount"`
	Currency                  string            `json:"currency" db:"currency"`
	Dimensions                map[string]string `json:"dimensions" db:"dimensions"`
	IsRefund                  bool              `json:"is_refund" db:"is_refund"`
	RefundOfComponentSemantic *string           `json:"refund_of_component_semantic_id,omitempty" db:"refund_of_component_semantic_id"`
	EmittedAt                 time.Time         `json:"emitted_at" db:"emitted_at"`
	IngestedAt                time.Time         `json:"ingested_at" db:"ingested_at"`
}

// KnownComponentTypes is the enumerated set that gets a non-empty
// CanonicalComponentType; anything else is persisted verbatim in
// ComponentType with an empty CanonicalComponentType, per the
// string-or-enum redesign in SPEC_FULL.md §13.
var KnownComponentTypes = map[string]bool{
	"RoomRate":  true,
	"Tax":       true,
	"Markup":    true,
	"Fee":       true,
	"Discount":  true,
	"Insurance": true,
}

func CanonicalizeComponentType(componentType string) string {
	if KnownComponentTypes[componentType] {
		return componentType
	}
	return ""
}
