package engine

import (
	"sort"

	"accord/api/internal/record"
)

// Reduce folds a lineage's record set into its authoritative DocumentState.
// Records whose payload fails the content-hash invariant are excluded and
// reported in Anomalies rather than silently trusted or allowed to block
// their valid siblings. An empty (or fully corrupted) set yields
// ErrNoRecords.
func Reduce(records []record.Record) (DocumentState, error) {
	valid := make([]record.Record, 0, len(records))
	var anomalies []Anomaly
	for _, rec := range records {
		if !rec.Payload.VerifyContent() {
			anomalies = append(anomalies, Anomaly{
				RecordID: rec.RecordID,
				Reason:   "content hash mismatch",
			})
			continue
		}
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return DocumentState{}, ErrNoRecords
	}

	history := make([]record.Record, len(valid))
	copy(history, valid)
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].PublishedAt != history[j].PublishedAt {
			return history[i].PublishedAt > history[j].PublishedAt
		}
		return history[i].RecordID > history[j].RecordID
	})

	forks, forked := DetectForks(GroupByFingerprint(valid))
	state := DocumentState{
		History:   history,
		Forked:    forked,
		Anomalies: anomalies,
	}
	if forked {
		state.Forks = forks
		return state, nil
	}

	state.Latest = forks[0].Head
	state.Complete = len(state.Latest.Payload.Signatures) >= state.Latest.Payload.SignersRequired
	return state, nil
}
