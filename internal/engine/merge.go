package engine

import (
	"sort"

	"accord/api/internal/record"
)

// MergeForks deterministically combines two or more divergent lineages into
// one superseding revision. For each signer in the union of the forks'
// signature lists, the entry with the greatest SignedAt wins: a signer who
// re-signed later superseded their own earlier act, and different signers'
// entries never conflict. Content-defining fields come from the lineage's
// oldest record, which every fork must trace back to.
//
// The returned record is unpublished. Once published and observed, its
// fingerprint collapses all prior fingerprints into a single future group;
// the forks are resolved retroactively, not erased.
func (e *Engine) MergeForks(records []record.Record, forks []Fork, mergedBy string) (record.Record, error) {
	if len(forks) < 2 {
		return record.Record{}, ErrNotEnoughForks
	}
	ancestor, ok := oldestRecord(records)
	if !ok {
		return record.Record{}, ErrNoRecords
	}
	for _, fork := range forks {
		if fork.Head.Payload.DocumentID != ancestor.Payload.DocumentID {
			return record.Record{}, ErrNoCommonAncestor
		}
	}

	latest := make(map[string]record.SignatureEntry)
	for _, fork := range forks {
		for _, sig := range fork.Head.Payload.Signatures {
			existing, ok := latest[sig.SignerID]
			if !ok || sig.SignedAt > existing.SignedAt {
				latest[sig.SignerID] = sig
			}
		}
	}
	merged := make([]record.SignatureEntry, 0, len(latest))
	for _, sig := range latest {
		merged = append(merged, sig)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].SignedAt != merged[j].SignedAt {
			return merged[i].SignedAt < merged[j].SignedAt
		}
		return merged[i].SignerID < merged[j].SignerID
	})

	body := ancestor.Payload.Clone()
	body.Signatures = merged

	requiredSet := make(map[string]struct{})
	for _, fork := range forks {
		for _, id := range fork.Head.RequiredSigners {
			requiredSet[id] = struct{}{}
		}
	}
	required := make([]string, 0, len(requiredSet))
	for id := range requiredSet {
		required = append(required, id)
	}
	sort.Strings(required)

	return record.Record{
		CorrelationTag:  ancestor.CorrelationTag,
		AuthorID:        mergedBy,
		PublishedAt:     e.now().Unix(),
		RequiredSigners: required,
		Payload:         body,
	}, nil
}

// oldestRecord selects the lineage ancestor from the content-valid subset;
// a corrupted record must not define the merged body.
func oldestRecord(records []record.Record) (record.Record, bool) {
	var oldest record.Record
	found := false
	for _, rec := range records {
		if !rec.Payload.VerifyContent() {
			continue
		}
		if !found ||
			rec.PublishedAt < oldest.PublishedAt ||
			(rec.PublishedAt == oldest.PublishedAt && rec.RecordID < oldest.RecordID) {
			oldest = rec
			found = true
		}
	}
	return oldest, found
}
