package engine

import "accord/api/internal/record"

// AppendSignature produces the next revision of an agreement: the latest
// payload with exactly one new signature appended. The returned record is
// unpublished; RecordID stays empty until the store assigns one.
//
// Preconditions: the state must not be forked (merge first), and the signer
// must not already appear on the latest revision. Content-defining fields
// are never altered by a signature — the document id still identifies the
// agreed text, not the accumulated signature state.
func (e *Engine) AppendSignature(state DocumentState, signerID string, sign SignFunc) (record.Record, error) {
	if state.Forked {
		return record.Record{}, &UnresolvedForkError{Forks: state.Forks}
	}
	if state.Latest.Payload.HasSignatureOf(signerID) {
		return record.Record{}, &AlreadySignedError{SignerID: signerID}
	}

	now := e.now().Unix()
	body := state.Latest.Payload.Clone()
	body.Signatures = append(body.Signatures, record.SignatureEntry{
		SignerID:       signerID,
		SignatureBytes: sign(body.DocumentID),
		SignedAt:       now,
	})

	required := make([]string, len(state.Latest.RequiredSigners))
	copy(required, state.Latest.RequiredSigners)

	return record.Record{
		CorrelationTag:  state.Latest.CorrelationTag,
		AuthorID:        signerID,
		PublishedAt:     now,
		RequiredSigners: required,
		Payload:         body,
	}, nil
}
