package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"accord/api/internal/record"
)

const agreementText = "Agreement text"

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0).UTC() }
}

func baseRecord(recordID, author string, publishedAt int64, sigs ...record.SignatureEntry) record.Record {
	return record.Record{
		RecordID:        recordID,
		CorrelationTag:  "tag-agreement",
		AuthorID:        author,
		PublishedAt:     publishedAt,
		RequiredSigners: []string{"alice", "bob"},
		Payload: record.DocumentBody{
			DocumentID:      record.ContentID(agreementText),
			Title:           "Mutual Agreement",
			BodyText:        agreementText,
			Version:         1,
			CreatedAt:       50,
			SignersRequired: 2,
			Signatures:      sigs,
		},
	}
}

func TestReduceSingleRecordConverges(t *testing.T) {
	rec := baseRecord("rec-1", "alice", 100)
	state, err := Reduce([]record.Record{rec})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if state.Forked {
		t.Error("single record reported as forked")
	}
	if state.Latest.RecordID != "rec-1" {
		t.Errorf("expected rec-1 as latest, got %s", state.Latest.RecordID)
	}
	if state.Complete {
		t.Error("unsigned agreement reported complete")
	}
}

func TestReduceEmptySet(t *testing.T) {
	_, err := Reduce(nil)
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
}

func TestReduceIdempotent(t *testing.T) {
	records := []record.Record{
		baseRecord("rec-1", "alice", 100),
		baseRecord("rec-2", "alice", 200, record.SignatureEntry{SignerID: "alice", SignedAt: 200}),
	}
	first, err := Reduce(records)
	if err != nil {
		t.Fatalf("first Reduce failed: %v", err)
	}
	second, err := Reduce(records)
	if err != nil {
		t.Fatalf("second Reduce failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("reducing the same record set twice produced different states")
	}
}

func TestReduceExcludesCorruptedRecords(t *testing.T) {
	good := baseRecord("rec-1", "alice", 100)
	bad := baseRecord("rec-2", "bob", 200)
	bad.Payload.BodyText = "tampered content"

	state, err := Reduce([]record.Record{good, bad})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if state.Latest.RecordID != "rec-1" {
		t.Errorf("corrupted record should not win: latest is %s", state.Latest.RecordID)
	}
	if len(state.Anomalies) != 1 || state.Anomalies[0].RecordID != "rec-2" {
		t.Errorf("expected one anomaly for rec-2, got %+v", state.Anomalies)
	}
	if len(state.History) != 1 {
		t.Errorf("corrupted record leaked into history: %d entries", len(state.History))
	}
}

func TestReduceAllCorrupted(t *testing.T) {
	bad := baseRecord("rec-1", "alice", 100)
	bad.Payload.DocumentID = "0000"
	_, err := Reduce([]record.Record{bad})
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords for fully corrupted set, got %v", err)
	}
}

func TestGroupCollapsesRepublishes(t *testing.T) {
	// Same signing state republished by two relays: one group, no fork.
	a := baseRecord("rec-1", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 90})
	b := baseRecord("rec-2", "relay-mirror", 150, record.SignatureEntry{SignerID: "alice", SignedAt: 90})

	groups := GroupByFingerprint([]record.Record{a, b})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	state, err := Reduce([]record.Record{a, b})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if state.Forked {
		t.Error("republished identical content reported as fork")
	}
	if state.Latest.RecordID != "rec-2" {
		t.Errorf("expected newest republish as head, got %s", state.Latest.RecordID)
	}
}

func TestHeadTieBreakOnEqualTimestamps(t *testing.T) {
	a := baseRecord("rec-a", "alice", 100)
	b := baseRecord("rec-b", "bob", 100)
	state, err := Reduce([]record.Record{a, b})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	// Pinned, arbitrary: greater record id wins on equal publish times.
	if state.Latest.RecordID != "rec-b" {
		t.Errorf("expected rec-b as head, got %s", state.Latest.RecordID)
	}
}

func TestForkDetection(t *testing.T) {
	forkA := baseRecord("rec-a", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	forkB := baseRecord("rec-b", "bob", 101, record.SignatureEntry{SignerID: "bob", SignedAt: 101})

	state, err := Reduce([]record.Record{forkA, forkB})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !state.Forked {
		t.Fatal("disjoint signature lineages not reported as fork")
	}
	if len(state.Forks) != 2 {
		t.Fatalf("expected 2 forks, got %d", len(state.Forks))
	}
	if state.Forks[0].Timestamp < state.Forks[1].Timestamp {
		t.Error("forks not ordered newest head first")
	}
	if state.Complete {
		t.Error("forked state reported complete")
	}
}

func TestAwaitingSignatureOf(t *testing.T) {
	rec := baseRecord("rec-1", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	state, err := Reduce([]record.Record{rec})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if state.AwaitingSignatureOf("alice") {
		t.Error("alice already signed but is reported awaited")
	}
	if !state.AwaitingSignatureOf("bob") {
		t.Error("bob is required and unsigned but not reported awaited")
	}
	if state.AwaitingSignatureOf("outsider") {
		t.Error("party outside requiredSigners reported awaited")
	}
}

func TestAppendSignature(t *testing.T) {
	eng := NewWithClock(fixedClock(500))
	state, err := Reduce([]record.Record{baseRecord("rec-1", "alice", 100)})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	signed, err := eng.AppendSignature(state, "alice", func(contentID string) []byte {
		return []byte("sig-over-" + contentID[:8])
	})
	if err != nil {
		t.Fatalf("AppendSignature failed: %v", err)
	}
	if signed.RecordID != "" {
		t.Error("unpublished record must not carry a record id")
	}
	if signed.AuthorID != "alice" || signed.PublishedAt != 500 {
		t.Errorf("unexpected provenance: %+v", signed)
	}
	if len(signed.Payload.Signatures) != 1 || signed.Payload.Signatures[0].SignerID != "alice" {
		t.Fatalf("signature not appended: %+v", signed.Payload.Signatures)
	}
	if signed.Payload.Signatures[0].SignedAt != 500 {
		t.Errorf("expected signedAt 500, got %d", signed.Payload.Signatures[0].SignedAt)
	}
	if signed.Payload.DocumentID != state.Latest.Payload.DocumentID {
		t.Error("document id changed when appending a signature")
	}
	if signed.Payload.CreatedAt != state.Latest.Payload.CreatedAt {
		t.Error("createdAt altered by signing")
	}
	if len(state.Latest.Payload.Signatures) != 0 {
		t.Error("signing mutated the input state")
	}
}

func TestAppendSignatureRejectsDuplicate(t *testing.T) {
	eng := NewWithClock(fixedClock(500))
	state, _ := Reduce([]record.Record{baseRecord("rec-1", "alice", 100)})

	first, err := eng.AppendSignature(state, "alice", func(string) []byte { return []byte("s") })
	if err != nil {
		t.Fatalf("first signature failed: %v", err)
	}
	first.RecordID = "rec-2"
	next, err := Reduce([]record.Record{baseRecord("rec-1", "alice", 100), first})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	_, err = eng.AppendSignature(next, "alice", func(string) []byte { return []byte("s") })
	var already *AlreadySignedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadySignedError, got %v", err)
	}
	if already.SignerID != "alice" {
		t.Errorf("wrong signer in error: %s", already.SignerID)
	}
}

func TestAppendSignatureRejectsForkedState(t *testing.T) {
	eng := NewWithClock(fixedClock(500))
	forkA := baseRecord("rec-a", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	forkB := baseRecord("rec-b", "bob", 101, record.SignatureEntry{SignerID: "bob", SignedAt: 101})
	state, _ := Reduce([]record.Record{forkA, forkB})

	_, err := eng.AppendSignature(state, "carol", func(string) []byte { return []byte("s") })
	var unresolved *UnresolvedForkError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedForkError, got %v", err)
	}
	if len(unresolved.Forks) != 2 {
		t.Errorf("expected 2 forks in error, got %d", len(unresolved.Forks))
	}
}

func TestCompletionThreshold(t *testing.T) {
	sign := func(n int) []record.SignatureEntry {
		sigs := make([]record.SignatureEntry, n)
		for i := range sigs {
			sigs[i] = record.SignatureEntry{SignerID: string(rune('a' + i)), SignedAt: int64(100 + i)}
		}
		return sigs
	}
	cases := []struct {
		required   int
		signatures int
		complete   bool
	}{
		{1, 0, false},
		{1, 1, true},
		{3, 2, false},
		{3, 3, true},
		{3, 4, true}, // extra signatures still count as complete
	}
	for _, tc := range cases {
		rec := baseRecord("rec-1", "alice", 100, sign(tc.signatures)...)
		rec.Payload.SignersRequired = tc.required
		state, err := Reduce([]record.Record{rec})
		if err != nil {
			t.Fatalf("Reduce failed: %v", err)
		}
		if state.Complete != tc.complete {
			t.Errorf("required=%d signatures=%d: complete=%v, want %v",
				tc.required, tc.signatures, state.Complete, tc.complete)
		}
	}
}

func TestMergeForks(t *testing.T) {
	eng := NewWithClock(fixedClock(900))
	base := baseRecord("rec-0", "alice", 50)
	forkA := baseRecord("rec-a", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	forkB := baseRecord("rec-b", "bob", 101, record.SignatureEntry{SignerID: "bob", SignedAt: 101})
	records := []record.Record{base, forkA, forkB}

	state, err := Reduce(records)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !state.Forked {
		t.Fatal("fixture should produce a fork")
	}

	merged, err := eng.MergeForks(records, state.Forks, "alice")
	if err != nil {
		t.Fatalf("MergeForks failed: %v", err)
	}
	signers := merged.Payload.SortedSigners()
	if len(signers) != 2 || signers[0] != "alice" || signers[1] != "bob" {
		t.Fatalf("merged signers wrong: %v", signers)
	}
	if merged.Payload.BodyText != agreementText {
		t.Error("merge altered body text")
	}
}

func TestMergeIdempotence(t *testing.T) {
	// Regrouping the merge result with the original forks must converge.
	eng := NewWithClock(fixedClock(900))
	forkA := baseRecord("rec-a", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	forkB := baseRecord("rec-b", "bob", 101, record.SignatureEntry{SignerID: "bob", SignedAt: 101})
	records := []record.Record{forkA, forkB}

	state, _ := Reduce(records)
	merged, err := eng.MergeForks(records, state.Forks, "alice")
	if err != nil {
		t.Fatalf("MergeForks failed: %v", err)
	}
	merged.RecordID = "rec-m"

	after, err := Reduce(append(records, merged))
	if err != nil {
		t.Fatalf("Reduce after merge failed: %v", err)
	}
	if after.Forked {
		t.Fatal("lineage still forked after merge record observed")
	}
	if after.Latest.RecordID != "rec-m" {
		t.Errorf("merge record not authoritative: latest=%s", after.Latest.RecordID)
	}
	signers := after.Latest.Payload.SortedSigners()
	if len(signers) != 2 {
		t.Errorf("merged state lost signatures: %v", signers)
	}
	if !after.Complete {
		t.Error("two signatures with signersRequired=2 not complete")
	}
}

func TestMergeLastWriterWinsPerSigner(t *testing.T) {
	// Each fork holds the newer entry for a different signer, so neither
	// supersedes the other and both stay live.
	eng := NewWithClock(fixedClock(900))
	forkA := baseRecord("rec-a", "alice", 140,
		record.SignatureEntry{SignerID: "alice", SignedAt: 120, SignatureBytes: []byte("new")},
		record.SignatureEntry{SignerID: "bob", SignedAt: 100, SignatureBytes: []byte("stale")})
	forkB := baseRecord("rec-b", "bob", 141,
		record.SignatureEntry{SignerID: "alice", SignedAt: 100, SignatureBytes: []byte("old")},
		record.SignatureEntry{SignerID: "bob", SignedAt: 130, SignatureBytes: []byte("fresh")})
	records := []record.Record{forkA, forkB}

	state, err := Reduce(records)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !state.Forked || len(state.Forks) != 2 {
		t.Fatalf("fixture did not fork: forked=%v forks=%d", state.Forked, len(state.Forks))
	}

	merged, err := eng.MergeForks(records, state.Forks, "alice")
	if err != nil {
		t.Fatalf("MergeForks failed: %v", err)
	}
	bySigner := make(map[string][]record.SignatureEntry)
	for _, sig := range merged.Payload.Signatures {
		bySigner[sig.SignerID] = append(bySigner[sig.SignerID], sig)
	}
	if len(bySigner["alice"]) != 1 || len(bySigner["bob"]) != 1 {
		t.Fatalf("expected one entry per signer, got %v", merged.Payload.Signatures)
	}
	if got := bySigner["alice"][0]; got.SignedAt != 120 || string(got.SignatureBytes) != "new" {
		t.Errorf("expected alice's later signature to win, got %+v", got)
	}
	if got := bySigner["bob"][0]; got.SignedAt != 130 || string(got.SignatureBytes) != "fresh" {
		t.Errorf("expected bob's later signature to win, got %+v", got)
	}
}

func TestMergeIgnoresCorruptedAncestorCandidate(t *testing.T) {
	eng := NewWithClock(fixedClock(900))
	forkA := baseRecord("rec-a", "alice", 140,
		record.SignatureEntry{SignerID: "alice", SignedAt: 120},
		record.SignatureEntry{SignerID: "bob", SignedAt: 100})
	forkB := baseRecord("rec-b", "bob", 141,
		record.SignatureEntry{SignerID: "alice", SignedAt: 100},
		record.SignatureEntry{SignerID: "bob", SignedAt: 130})

	// Oldest by PublishedAt, but its stored hash no longer matches the
	// body. It must not become the merge ancestor.
	corrupted := baseRecord("rec-0", "alice", 50)
	corrupted.Payload.DocumentID = record.ContentID("tampered content")
	records := []record.Record{corrupted, forkA, forkB}

	state, err := Reduce(records)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !state.Forked {
		t.Fatal("fixture did not fork")
	}

	merged, err := eng.MergeForks(records, state.Forks, "alice")
	if err != nil {
		t.Fatalf("MergeForks failed: %v", err)
	}
	if merged.Payload.DocumentID != record.ContentID(agreementText) {
		t.Errorf("merge ancestor drifted: %s", merged.Payload.DocumentID)
	}
	if !merged.Payload.VerifyContent() {
		t.Error("merged body fails content verification")
	}
}

func TestMergePreconditions(t *testing.T) {
	eng := NewWithClock(fixedClock(900))
	rec := baseRecord("rec-1", "alice", 100)
	forks, _ := DetectForks(GroupByFingerprint([]record.Record{rec}))

	if _, err := eng.MergeForks([]record.Record{rec}, forks, "alice"); !errors.Is(err, ErrNotEnoughForks) {
		t.Errorf("expected ErrNotEnoughForks, got %v", err)
	}

	// Forks over unrelated base content share no ancestor.
	other := baseRecord("rec-x", "bob", 101, record.SignatureEntry{SignerID: "bob", SignedAt: 101})
	other.Payload.BodyText = "a different agreement entirely"
	other.Payload.DocumentID = record.ContentID(other.Payload.BodyText)
	mixed := []record.Record{rec, other}
	mixedForks, forked := DetectForks(GroupByFingerprint(mixed))
	if !forked {
		t.Fatal("fixture should fork")
	}
	if _, err := eng.MergeForks(mixed, mixedForks, "alice"); !errors.Is(err, ErrNoCommonAncestor) {
		t.Errorf("expected ErrNoCommonAncestor, got %v", err)
	}
}

func TestConcurrentSigningScenario(t *testing.T) {
	// Two signers race from the same unsigned base; the fork is detected and
	// one merge yields a complete agreement with both signatures.
	base := baseRecord("rec-0", "alice", 50)

	signerA := NewWithClock(fixedClock(100))
	stateA, err := Reduce([]record.Record{base})
	if err != nil {
		t.Fatalf("Reduce for alice failed: %v", err)
	}
	recA, err := signerA.AppendSignature(stateA, "alice", func(string) []byte { return []byte("sig-a") })
	if err != nil {
		t.Fatalf("alice sign failed: %v", err)
	}
	recA.RecordID = "rec-a"

	// Bob signs before seeing alice's record.
	signerB := NewWithClock(fixedClock(101))
	stateB, err := Reduce([]record.Record{base})
	if err != nil {
		t.Fatalf("Reduce for bob failed: %v", err)
	}
	recB, err := signerB.AppendSignature(stateB, "bob", func(string) []byte { return []byte("sig-b") })
	if err != nil {
		t.Fatalf("bob sign failed: %v", err)
	}
	recB.RecordID = "rec-b"

	all := []record.Record{base, recA, recB}
	state, err := Reduce(all)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !state.Forked || len(state.Forks) != 2 {
		t.Fatalf("expected 2-way fork, got forked=%v forks=%d", state.Forked, len(state.Forks))
	}

	merger := NewWithClock(fixedClock(200))
	merged, err := merger.MergeForks(all, state.Forks, "alice")
	if err != nil {
		t.Fatalf("MergeForks failed: %v", err)
	}
	merged.RecordID = "rec-m"

	final, err := Reduce(append(all, merged))
	if err != nil {
		t.Fatalf("final Reduce failed: %v", err)
	}
	if final.Forked {
		t.Fatal("fork survived the merge")
	}
	if !final.Complete {
		t.Error("merged two-signature agreement not complete")
	}
	if final.AwaitingSignatureOf("alice") || final.AwaitingSignatureOf("bob") {
		t.Error("merged state still awaits a signer")
	}
}

func TestSignatureChainIsNotAFork(t *testing.T) {
	// A normal signing chain leaves every prior state in the record set;
	// only the newest state is live.
	base := baseRecord("rec-0", "alice", 50)
	one := baseRecord("rec-1", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	two := baseRecord("rec-2", "bob", 150,
		record.SignatureEntry{SignerID: "alice", SignedAt: 100},
		record.SignatureEntry{SignerID: "bob", SignedAt: 150},
	)

	state, err := Reduce([]record.Record{base, one, two})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if state.Forked {
		t.Fatal("linear signing chain reported as fork")
	}
	if state.Latest.RecordID != "rec-2" {
		t.Errorf("expected newest chain state as latest, got %s", state.Latest.RecordID)
	}
	if len(state.History) != 3 {
		t.Errorf("superseded states dropped from history: %d entries", len(state.History))
	}
}

func TestReSignSupersedesOwnEarlierSignature(t *testing.T) {
	early := baseRecord("rec-1", "alice", 100, record.SignatureEntry{SignerID: "alice", SignedAt: 100})
	late := baseRecord("rec-2", "alice", 200, record.SignatureEntry{SignerID: "alice", SignedAt: 200})

	state, err := Reduce([]record.Record{early, late})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if state.Forked {
		t.Fatal("re-signed revision reported as fork")
	}
	if state.Latest.RecordID != "rec-2" {
		t.Errorf("later signature should win, got %s", state.Latest.RecordID)
	}
}

func TestDivergentTimestampsStayForked(t *testing.T) {
	// Each side holds the newer signature for a different signer; neither
	// state supersedes the other.
	a := baseRecord("rec-a", "alice", 300,
		record.SignatureEntry{SignerID: "alice", SignedAt: 300},
		record.SignatureEntry{SignerID: "bob", SignedAt: 100},
	)
	b := baseRecord("rec-b", "bob", 301,
		record.SignatureEntry{SignerID: "alice", SignedAt: 100},
		record.SignatureEntry{SignerID: "bob", SignedAt: 301},
	)

	state, err := Reduce([]record.Record{a, b})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !state.Forked || len(state.Forks) != 2 {
		t.Fatalf("expected mutual divergence to fork, got forked=%v forks=%d",
			state.Forked, len(state.Forks))
	}
}
