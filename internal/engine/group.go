package engine

import (
	"sort"

	"accord/api/internal/record"
)

// GroupByFingerprint partitions records for one lineage by the signature
// fingerprint of their payloads. Each group is ordered newest-first by
// PublishedAt; equal timestamps fall back to RecordID, lexicographically
// descending, so the head of a group is deterministic. Byte-identical
// republishes from different sources collapse into one group and never
// count as a fork.
func GroupByFingerprint(records []record.Record) map[string][]record.Record {
	groups := make(map[string][]record.Record)
	for _, rec := range records {
		key := rec.Payload.Fingerprint()
		groups[key] = append(groups[key], rec)
	}
	for key, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].PublishedAt != group[j].PublishedAt {
				return group[i].PublishedAt > group[j].PublishedAt
			}
			return group[i].RecordID > group[j].RecordID
		})
		groups[key] = group
	}
	return groups
}

// DetectForks materializes the live signature states as Forks and reports
// whether the lineage has diverged. A fingerprint group is live only while
// no other group strictly supersedes it: earlier points in a single signing
// chain (the unsigned base under a signed revision, both sides of a fork
// under its merge record) are history, not divergence. One live state means
// a converged lineage; more than one means signers raced and every live
// state is a continuation someone could still build on. Forks are ordered
// newest head first, then by fingerprint, so callers see a stable list.
func DetectForks(groups map[string][]record.Record) ([]Fork, bool) {
	heads := make([]Fork, 0, len(groups))
	for fingerprint, group := range groups {
		if len(group) == 0 {
			continue
		}
		head := group[0]
		heads = append(heads, Fork{
			Head:        head,
			Fingerprint: fingerprint,
			Signers:     head.Payload.SortedSigners(),
			Timestamp:   head.PublishedAt,
		})
	}

	forks := make([]Fork, 0, len(heads))
	for i, candidate := range heads {
		superseded := false
		for j, other := range heads {
			if i == j {
				continue
			}
			if supersedes(other.Head.Payload, candidate.Head.Payload) {
				superseded = true
				break
			}
		}
		if !superseded {
			forks = append(forks, candidate)
		}
	}

	sort.Slice(forks, func(i, j int) bool {
		if forks[i].Timestamp != forks[j].Timestamp {
			return forks[i].Timestamp > forks[j].Timestamp
		}
		return forks[i].Fingerprint < forks[j].Fingerprint
	})
	return forks, len(forks) > 1
}

// supersedes reports whether signing state x strictly extends y: same
// document content, every signature on y matched on x by the same signer at
// the same or a later time, and not vice versa. Signature timestamps are
// compared per signer, mirroring the last-writer-wins rule merges apply.
// Records over different content never supersede each other.
func supersedes(x, y record.DocumentBody) bool {
	if x.DocumentID != y.DocumentID {
		return false
	}
	return covers(x.Signatures, y.Signatures) && !covers(y.Signatures, x.Signatures)
}

func covers(x, y []record.SignatureEntry) bool {
	newest := make(map[string]int64, len(x))
	for _, sig := range x {
		if t, ok := newest[sig.SignerID]; !ok || sig.SignedAt > t {
			newest[sig.SignerID] = sig.SignedAt
		}
	}
	for _, sig := range y {
		t, ok := newest[sig.SignerID]
		if !ok || t < sig.SignedAt {
			return false
		}
	}
	return true
}
