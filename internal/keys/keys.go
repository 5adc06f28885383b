// Package keys is the identity subsystem: it generates party keypairs,
// produces signatures over content ids, and verifies them. The
// reconciliation engine never touches key material; it only receives a
// signing callback from here.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Keypair is a party's signing identity. The public key, hex-encoded, is
// the party's signer id on published records.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh ed25519 keypair.
func Generate() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{Public: pub, Private: priv}, nil
}

// SignerID returns the hex encoding of the public key.
func (k Keypair) SignerID() string {
	return hex.EncodeToString(k.Public)
}

// Sign produces signature bytes over a content id.
func (k Keypair) Sign(contentID string) []byte {
	return ed25519.Sign(k.Private, []byte(contentID))
}

// Verify checks signature bytes against a signer id and content id. A
// malformed signer id simply fails verification.
func Verify(signerID, contentID string, signature []byte) bool {
	pub, err := hex.DecodeString(signerID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(contentID), signature)
}
