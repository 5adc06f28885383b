// Package record defines the immutable unit of storage for co-signed
// agreements: a content-addressed document body carried by a published,
// externally identified record.
package record

import (
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SignatureEntry is one party's signature over a document body.
type SignatureEntry struct {
	SignerID       string `json:"signerId"`
	SignatureBytes []byte `json:"signatureBytes"`
	SignedAt       int64  `json:"signedAt"`
}

// DocumentBody is the content-addressed payload carried by a Record.
// DocumentID is the content hash of BodyText alone; the title, counters and
// signature list are not hash inputs, so appending a signature never changes
// the document identity.
type DocumentBody struct {
	DocumentID      string           `json:"documentId"`
	Title           string           `json:"title"`
	BodyText        string           `json:"bodyText"`
	Version         int              `json:"version"`
	CreatedAt       int64            `json:"createdAt"`
	SignersRequired int              `json:"signersRequired"`
	Signatures      []SignatureEntry `json:"signatures"`
}

// Record is one immutable log unit. RecordID is assigned by the store on
// publish; a Record produced locally carries an empty RecordID until then.
type Record struct {
	RecordID        string       `json:"recordId"`
	CorrelationTag  string       `json:"correlationTag"`
	AuthorID        string       `json:"authorId"`
	PublishedAt     int64        `json:"publishedAt"`
	RequiredSigners []string     `json:"requiredSigners"`
	Payload         DocumentBody `json:"payload"`
}

func (b DocumentBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.DocumentID, validation.Required, validation.Length(64, 64)),
		validation.Field(&b.BodyText, validation.Required),
		// Required forces the zero-value check; Min alone is skipped on 0.
		validation.Field(&b.SignersRequired, validation.Required, validation.Min(1)),
	)
}

func (r Record) Validate() error {
	if err := r.Payload.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.CorrelationTag, validation.Required),
		validation.Field(&r.AuthorID, validation.Required),
	)
}

// VerifyContent recomputes the content hash of BodyText and reports whether
// it matches the stored DocumentID. A mismatch means the record was
// corrupted or tampered with in transit.
func (b DocumentBody) VerifyContent() bool {
	return ContentID(b.BodyText) == b.DocumentID
}

// HasSignatureOf reports whether signerID already signed this body.
func (b DocumentBody) HasSignatureOf(signerID string) bool {
	for _, sig := range b.Signatures {
		if sig.SignerID == signerID {
			return true
		}
	}
	return false
}

// Fingerprint returns the grouping key for this body's signing state: a
// digest over the sorted (signer, signedAt) pairs. Two records with the same
// fingerprint represent the same point in the signing history, even when
// republished by different parties.
func (b DocumentBody) Fingerprint() string {
	return Fingerprint(b.Signatures)
}

// RequiresSignatureOf reports whether party was designated a necessary
// signer on this record. Membership is order-insensitive.
func (r Record) RequiresSignatureOf(party string) bool {
	for _, id := range r.RequiredSigners {
		if id == party {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the body. Records are treated as immutable;
// anything that derives a new revision copies first.
func (b DocumentBody) Clone() DocumentBody {
	out := b
	out.Signatures = make([]SignatureEntry, len(b.Signatures))
	copy(out.Signatures, b.Signatures)
	return out
}

// SortedSigners returns the distinct signer ids in lexicographic order.
func (b DocumentBody) SortedSigners() []string {
	seen := make(map[string]struct{}, len(b.Signatures))
	out := make([]string, 0, len(b.Signatures))
	for _, sig := range b.Signatures {
		if _, ok := seen[sig.SignerID]; ok {
			continue
		}
		seen[sig.SignerID] = struct{}{}
		out = append(out, sig.SignerID)
	}
	sort.Strings(out)
	return out
}

// PublishedTime converts the publish timestamp to a time.Time.
func (r Record) PublishedTime() time.Time {
	return time.Unix(r.PublishedAt, 0).UTC()
}
