package news

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// identityDateLayout is the canonical serialization of published_at used as
// fingerprint input. It is deliberately date-only: historical identities were
// minted before time-of-day precision existed, and gaining a time component
// under a migration must not re-mint them.
const identityDateLayout = "2006-01-02"

// Fingerprint is a content-derived stable identifier used as the dedup key.
type Fingerprint string

// NewFingerprint derives the stable identity of a record from its agency,
// canonical published date and title. It is a pure function: equal inputs
// always yield the same fingerprint.
func NewFingerprint(r Record) (Fingerprint, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	input := fmt.Sprintf("%s_%s_%s", r.Agency, r.PublishedAt.Format(identityDateLayout), r.Title)
	sum := sha256.Sum256([]byte(input))
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
