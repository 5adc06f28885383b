package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecords means nothing correlates to the requested agreement.
	ErrNoRecords = errors.New("no records for lineage")
	// ErrNoCommonAncestor means the forks do not share a base document.
	ErrNoCommonAncestor = errors.New("forks share no common ancestor")
	// ErrNotEnoughForks means a merge was requested for fewer than two forks.
	ErrNotEnoughForks = errors.New("merge requires at least two forks")
)

// UnresolvedForkError is returned when a signature is requested on a state
// with divergent lineages. The caller must merge before signing; signing on
// top of an unresolved fork would create a third lineage.
type UnresolvedForkError struct {
	Forks []Fork
}

func (e *UnresolvedForkError) Error() string {
	return fmt.Sprintf("lineage has %d unresolved forks", len(e.Forks))
}

// AlreadySignedError is the idempotency guard: the signer already has a
// signature on the latest revision.
type AlreadySignedError struct {
	SignerID string
}

func (e *AlreadySignedError) Error() string {
	return fmt.Sprintf("signer %s already signed this revision", e.SignerID)
}
