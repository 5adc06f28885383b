package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ContentID computes the content-derived identifier for a document body
// text: the hex-encoded SHA-256 of the UTF-8 bytes. Deterministic for any
// input text.
func ContentID(bodyText string) string {
	sum := sha256.Sum256([]byte(bodyText))
	return hex.EncodeToString(sum[:])
}

// Fingerprint digests a signature list into a stable grouping key. Entries
// are serialized as sorted "signer<US>signedAt" lines joined by <RS>, then
// hashed, so insertion order and republishing do not change the key. The
// empty list has the fingerprint of the empty string.
func Fingerprint(signatures []SignatureEntry) string {
	lines := make([]string, 0, len(signatures))
	for _, sig := range signatures {
		lines = append(lines, fmt.Sprintf("%s\x1f%d", sig.SignerID, sig.SignedAt))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\x1e")))
	return hex.EncodeToString(sum[:])
}
