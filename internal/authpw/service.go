// Package authpw provides email/password accounts for signing parties.
// Each account carries an ed25519 keypair; the private key is sealed with
// the server keystore and only unlocked to sign.
package authpw

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"accord/api/internal/keys"
	"accord/api/internal/store"
	"accord/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

// PartyStore defines the storage interface for party accounts
type PartyStore interface {
	GetPartyByEmail(ctx context.Context, email string) (store.Party, error)
	CreateParty(ctx context.Context, party store.Party) error
}

// Service provides email/password authentication for parties
type Service struct {
	store    PartyStore
	keystore *keys.Keystore
}

// NewService creates a new auth service
func NewService(st PartyStore, ks *keys.Keystore) *Service {
	return &Service{store: st, keystore: ks}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	Party store.Party
}

// SignUp creates a new party account with a fresh signing keypair.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return nil, errors.New("email, password, and display name are required")
	}

	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	// Check if email already exists
	if _, err := s.store.GetPartyByEmail(ctx, req.Email); err == nil {
		return nil, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	kp, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	sealed, err := s.keystore.Seal(kp.Private)
	if err != nil {
		return nil, fmt.Errorf("seal private key: %w", err)
	}

	party := store.Party{
		ID:           util.NewID("pty"),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
		PubKey:       kp.SignerID(),
		SealedKey:    sealed,
	}

	if err := s.store.CreateParty(ctx, party); err != nil {
		return nil, fmt.Errorf("create party: %w", err)
	}

	return &SignUpResponse{Party: party}, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a party by email and password.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.Party, error) {
	if req.Email == "" || req.Password == "" {
		return store.Party{}, errors.New("email and password are required")
	}

	party, err := s.store.GetPartyByEmail(ctx, req.Email)
	if err != nil {
		return store.Party{}, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(party.PasswordHash), []byte(req.Password)); err != nil {
		return store.Party{}, errors.New("invalid email or password")
	}

	return party, nil
}

// UnlockKeypair opens a party's sealed private key for signing.
func (s *Service) UnlockKeypair(party store.Party) (keys.Keypair, error) {
	priv, err := s.keystore.Open(party.SealedKey)
	if err != nil {
		return keys.Keypair{}, fmt.Errorf("unseal key for %s: %w", party.ID, err)
	}
	return keys.Keypair{
		Public:  priv.Public().(ed25519.PublicKey),
		Private: priv,
	}, nil
}
