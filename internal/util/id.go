package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewTag returns a correlation tag for a new agreement lineage. Tags are
// opaque and stable for the life of the agreement; they deliberately carry
// no content derivation, since pre-signature edits change the content hash.
func NewTag() string {
	return "agr-" + uuid.NewString()
}
