// Package identity implements the Identity Builder (C1): deterministic
// semantic and instance identity for pricing/refund components.
package identity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/saan-system/uprl-core/internal/domain"
)

// SemanticID canonicalizes dimensions by sorting keys lexicographically
// and concatenating key-value pairs in order, dropping empty/null
// values, then builds:
//
//	cs-{order_id}[-{refund_id}]-{sorted_dims_joined_by_'-'}-{component_type}
//
// Components with empty dimensions yield an order-level id of the form
// cs-{order_id}-{component_type}. The result is stable across
// re-emissions with equivalent dimensions regardless of insertion
// order, since Go map iteration order is randomized and we sort here.
func SemanticID(orderID, refundID string, dimensions map[string]string, componentType string) (string, error) {
	if componentType == "" {
		return "", &domain.IdentityError{Reason: "component_type missing"}
	}

	keys := make([]string, 0, len(dimensions))
	for k, v := range dimensions {
		if k == "" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{"cs", orderID}
	if refundID != "" {
		parts = append(parts, refundID)
	}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s-%s", k, dimensions[k]))
	}
	parts = append(parts, componentType)

	return strings.Join(parts, "-"), nil
}

// ValidateDimensions rejects a raw dimensions map that contains any
// non-scalar (object/array) value, per §4.1's IdentityError trigger.
// Callers decode dimensions from JSON into map[string]interface{}
// first, then call this before flattening to map[string]string.
func ValidateDimensions(raw map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = trimFloat(val)
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		default:
			return nil, &domain.IdentityError{Reason: fmt.Sprintf("dimension %q is non-scalar", k)}
		}
	}
	return out, nil
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
