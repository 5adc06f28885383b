package store

import "time"

// Party is a registered account that can author and sign agreements. The
// hex-encoded public key doubles as the signer id on published records.
type Party struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	PubKey       string
	SealedKey    []byte
	CreatedAt    time.Time
}

// Lineage is a per-correlation-tag summary used by list endpoints. It is a
// projection over the records table, not a mutable entity: the authoritative
// state always comes from reducing the full record set.
type Lineage struct {
	CorrelationTag string
	Title          string
	RecordCount    int
	LastPublished  time.Time
	CreatedBy      string
}
