package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// instanceIDHexLen is the truncation length of the hex digest; at 24
// hex chars (96 bits) collisions are not a practical concern for a
// single order's component instances.
const instanceIDHexLen = 24

// InstanceID derives a short hex digest of the UTF-8 bytes of
// semanticID || "\0" || pricingSnapshotID. Truncating a cryptographic
// hash this way is collision-free in practice (§4.1).
func InstanceID(semanticID, pricingSnapshotID string) string {
	h := sha256.New()
	h.Write([]byte(semanticID))
	h.Write([]byte{0})
	h.Write([]byte(pricingSnapshotID))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:instanceIDHexLen]
}
