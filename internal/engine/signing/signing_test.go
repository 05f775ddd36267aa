package signing

import "testing"

func TestSignAndVerify(t *testing.T) {
	signer := NewSignerFromSeed([]byte("deterministic-test-seed-000000000000000000"))
	msg := []byte("settlement-tx-digest")

	sig := signer.Sign(msg)
	if len(sig) == 0 {
		t.Fatal("signature is empty")
	}
	if !Verify(signer.Pubkey(), sig, msg) {
		t.Error("signature failed to verify against its own pubkey")
	}
	if Verify(signer.Pubkey(), sig, []byte("different message")) {
		t.Error("signature verified against a different message")
	}
}

func TestAggregateVerifiesAcrossSigners(t *testing.T) {
	a := NewSignerFromSeed([]byte("seed-a-000000000000000000000000000000000000"))
	b := NewSignerFromSeed([]byte("seed-b-000000000000000000000000000000000000"))
	msg := []byte("settlement-tx-digest")

	aggSig := Aggregate([][]byte{a.Sign(msg), b.Sign(msg)})
	if aggSig == nil {
		t.Fatal("aggregate returned nil")
	}
	if !VerifyAggregate([]*PubKey{a.Pubkey(), b.Pubkey()}, msg, aggSig) {
		t.Error("aggregate signature failed to verify")
	}
}

func TestCoordinatorSignerRoundTrip(t *testing.T) {
	var signer ThresholdSigner = NewCoordinatorSigner([]byte("coordinator-seed-000000000000000000000000"))
	msg := []byte("channel-close-tx")

	share, err := signer.SignShare(msg)
	if err != nil {
		t.Fatalf("sign share: %v", err)
	}
	combined, err := signer.Combine([][]byte{share})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !signer.Verify(combined, msg) {
		t.Error("combined signature failed to verify")
	}
}

func TestStubSignerIsPassthrough(t *testing.T) {
	var signer ThresholdSigner = StubSigner{}
	msg := []byte("anything")

	share, err := signer.SignShare(msg)
	if err != nil {
		t.Fatalf("sign share: %v", err)
	}
	combined, err := signer.Combine([][]byte{share})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !signer.Verify(combined, msg) {
		t.Error("stub signer should always verify")
	}
}
