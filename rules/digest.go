package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Digest returns "sha256:<hex>" over the RFC 8785 canonical form of the
// source document, so formatting changes do not change the digest.
func (r *RuleDefinition) Digest() (string, error) {
	if len(r.Raw) == 0 {
		return "", errors.New("rule has no source document")
	}

	canonical, err := jcs.Transform(r.Raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize rule %s: %w", r.ID, err)
	}

	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
