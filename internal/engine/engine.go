// Package engine reconciles an unordered set of immutable, signed records
// into the authoritative state of one logical agreement. It detects
// divergent continuations (forks) caused by signers racing to publish from
// the same prior revision, and merges them back into a single revision
// without losing or duplicating a valid signature.
//
// The engine is synchronous and side-effect-free: every state is recomputed
// from the record set on demand, and the two operations that produce a new
// record return an unpublished value for the caller to persist.
package engine

import (
	"time"

	"accord/api/internal/record"
)

// SignFunc produces the signature bytes for a content id. Key material is
// owned by the identity collaborator; the engine never inspects it.
type SignFunc func(contentID string) []byte

// Fork is one divergent signature lineage: the most recent record carrying
// a distinct signature fingerprint, plus a comparable snapshot of who has
// signed it and when.
type Fork struct {
	Head        record.Record `json:"head"`
	Fingerprint string        `json:"fingerprint"`
	Signers     []string      `json:"signers"`
	Timestamp   int64         `json:"timestamp"`
}

// Anomaly reports a record excluded from reduction. Corrupted records never
// block reduction of their valid siblings, but callers are told about them.
type Anomaly struct {
	RecordID string `json:"recordId"`
	Reason   string `json:"reason"`
}

// DocumentState is the reduced, authoritative view of one lineage. It is
// computed fresh on every query and never cached.
type DocumentState struct {
	Latest    record.Record   `json:"latest"`
	History   []record.Record `json:"history"`
	Forked    bool            `json:"forked"`
	Forks     []Fork          `json:"forks,omitempty"`
	Complete  bool            `json:"complete"`
	Anomalies []Anomaly       `json:"anomalies,omitempty"`
}

// AwaitingSignatureOf reports whether party was designated a required
// signer on the latest revision and has not signed it yet. Always false on
// a forked state, where no revision is authoritative.
func (s DocumentState) AwaitingSignatureOf(party string) bool {
	if s.Forked {
		return false
	}
	return s.Latest.RequiresSignatureOf(party) && !s.Latest.Payload.HasSignatureOf(party)
}

// Engine carries the injected clock used when producing new records.
type Engine struct {
	now func() time.Time
}

// New returns an engine using the wall clock.
func New() *Engine {
	return &Engine{now: time.Now}
}

// NewWithClock returns an engine with a fixed or synthetic clock, for
// deterministic tests.
func NewWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}
