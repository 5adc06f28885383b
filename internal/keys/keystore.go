package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Keystore seals private keys for storage at rest using nacl/secretbox
// with a key derived from the server secret. Sealed blobs live in the
// parties table; the plaintext key only exists in memory while signing.
type Keystore struct {
	secret [32]byte
}

var ErrSealedKeyInvalid = errors.New("sealed key invalid")

func NewKeystore(secret string) *Keystore {
	return &Keystore{secret: sha256.Sum256([]byte(secret))}
}

// Seal encrypts a private key. The returned blob prepends the 24-byte nonce.
func (ks *Keystore) Seal(priv ed25519.PrivateKey) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], priv, &nonce, &ks.secret), nil
}

// Open decrypts a sealed private key blob.
func (ks *Keystore) Open(sealed []byte) (ed25519.PrivateKey, error) {
	if len(sealed) < 24 {
		return nil, ErrSealedKeyInvalid
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &ks.secret)
	if !ok {
		return nil, ErrSealedKeyInvalid
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, ErrSealedKeyInvalid
	}
	return ed25519.PrivateKey(plain), nil
}
