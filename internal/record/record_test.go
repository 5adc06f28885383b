package record

import "testing"

func TestContentIDDeterministic(t *testing.T) {
	a := ContentID("Agreement text")
	b := ContentID("Agreement text")
	if a != b {
		t.Fatalf("same input hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestContentIDDistinguishesInputs(t *testing.T) {
	inputs := []string{"", "a", "Agreement text", "Agreement text.", "agreement text", "完全に別の本文"}
	seen := map[string]string{}
	for _, input := range inputs {
		id := ContentID(input)
		if prev, ok := seen[id]; ok {
			t.Fatalf("collision between %q and %q", prev, input)
		}
		seen[id] = input
	}
}

func TestVerifyContent(t *testing.T) {
	body := DocumentBody{DocumentID: ContentID("hello"), BodyText: "hello"}
	if !body.VerifyContent() {
		t.Error("valid body failed verification")
	}

	body.BodyText = "tampered"
	if body.VerifyContent() {
		t.Error("tampered body passed verification")
	}
}

func TestFingerprintOrderInsensitive(t *testing.T) {
	a := []SignatureEntry{
		{SignerID: "alice", SignedAt: 100},
		{SignerID: "bob", SignedAt: 101},
	}
	b := []SignatureEntry{
		{SignerID: "bob", SignedAt: 101},
		{SignerID: "alice", SignedAt: 100},
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint depends on insertion order")
	}
}

func TestFingerprintDistinguishesTimestamps(t *testing.T) {
	a := []SignatureEntry{{SignerID: "alice", SignedAt: 100}}
	b := []SignatureEntry{{SignerID: "alice", SignedAt: 101}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("different signing times produced the same fingerprint")
	}
	if Fingerprint(nil) == Fingerprint(a) {
		t.Error("empty list fingerprint matched a signed one")
	}
}

func TestFingerprintIgnoresSignatureBytes(t *testing.T) {
	// The proof bytes vary per key; the fingerprint tracks who signed when.
	a := []SignatureEntry{{SignerID: "alice", SignedAt: 100, SignatureBytes: []byte{1, 2}}}
	b := []SignatureEntry{{SignerID: "alice", SignedAt: 100, SignatureBytes: []byte{9, 9}}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint changed with signature bytes")
	}
}

func TestValidate(t *testing.T) {
	body := DocumentBody{
		DocumentID:      ContentID("text"),
		BodyText:        "text",
		SignersRequired: 2,
	}
	if err := body.Validate(); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}

	noText := body
	noText.BodyText = ""
	if err := noText.Validate(); err == nil {
		t.Error("body without text accepted")
	}

	zeroRequired := body
	zeroRequired.SignersRequired = 0
	if err := zeroRequired.Validate(); err == nil {
		t.Error("signersRequired below 1 accepted")
	}

	rec := Record{CorrelationTag: "tag-1", AuthorID: "alice", Payload: body}
	if err := rec.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	rec.CorrelationTag = ""
	if err := rec.Validate(); err == nil {
		t.Error("record without correlation tag accepted")
	}
}

func TestCloneIsDeep(t *testing.T) {
	body := DocumentBody{
		DocumentID: ContentID("x"),
		BodyText:   "x",
		Signatures: []SignatureEntry{{SignerID: "alice", SignedAt: 1}},
	}
	clone := body.Clone()
	clone.Signatures[0].SignerID = "mallory"
	if body.Signatures[0].SignerID != "alice" {
		t.Error("clone shares signature backing array with original")
	}
}

func TestSortedSigners(t *testing.T) {
	body := DocumentBody{Signatures: []SignatureEntry{
		{SignerID: "carol", SignedAt: 3},
		{SignerID: "alice", SignedAt: 1},
		{SignerID: "carol", SignedAt: 9},
		{SignerID: "bob", SignedAt: 2},
	}}
	got := body.SortedSigners()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
