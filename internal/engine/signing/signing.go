// Package signing provides the co-signing primitives the DLC engine needs
// to close out a contract: per-participant BLS signature shares over a
// settlement transaction, aggregated into the single signature a channel
// close requires. Adapted from the teacher's consensus BLS/threshold
// signer, which did the same shares-to-aggregate dance for commit
// certificates.
package signing

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

type PubKey = bls.PublicKey[scheme]
type Signature = []byte

// Signer holds one participant's BLS keypair for a DLC channel.
type Signer struct {
	sk *bls.PrivateKey[scheme]
	pk *PubKey
}

func NewSignerFromSeed(seed []byte) *Signer {
	sk, _ := bls.KeyGen[scheme](seed, nil, nil)
	return &Signer{sk: sk, pk: sk.PublicKey()}
}

func (s *Signer) Pubkey() *PubKey { return s.pk }

// Sign produces this participant's share of the settlement signature over
// msg (typically a serialized settlement transaction digest).
func (s *Signer) Sign(msg []byte) Signature {
	return bls.Sign(s.sk, msg)
}

func Verify(pk *PubKey, sig, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}

// Aggregate combines every co-signer's share over the same settlement
// message into the single signature the close transaction carries.
func Aggregate(shares [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(shares))
	for _, sb := range shares {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

func VerifyAggregate(pks []*PubKey, msg []byte, aggSig []byte) bool {
	return bls.VerifyAggregate(pks, [][]byte{msg}, bls.Signature(aggSig))
}

// SigShare is one participant's partial signature in a threshold co-signing
// round, before aggregation.
type SigShare []byte

// ThresholdSigner abstracts the multi-party co-signing a DLC settlement or
// rollover requires: each participant signs a share, shares combine into
// the final adaptor/close signature. CoordinatorSigner backs this with
// real BLS aggregation; tests use a stub that passes data through.
type ThresholdSigner interface {
	SignShare(msg []byte) (SigShare, error)
	Combine(shares [][]byte) ([]byte, error)
	Verify(sig []byte, msg []byte) bool
}

// CoordinatorSigner is the production ThresholdSigner, backed by a single
// BLS keypair aggregated with the counterparty's share.
type CoordinatorSigner struct {
	signer *Signer
}

func NewCoordinatorSigner(seed []byte) *CoordinatorSigner {
	return &CoordinatorSigner{signer: NewSignerFromSeed(seed)}
}

func (c *CoordinatorSigner) SignShare(msg []byte) (SigShare, error) {
	return SigShare(c.signer.Sign(msg)), nil
}

func (c *CoordinatorSigner) Combine(shares [][]byte) ([]byte, error) {
	return Aggregate(shares), nil
}

func (c *CoordinatorSigner) Verify(sig []byte, msg []byte) bool {
	return Verify(c.signer.Pubkey(), sig, msg)
}

// StubSigner is a deterministic, non-cryptographic ThresholdSigner for
// tests that exercise the engine's co-signing call sites without paying
// for real BLS key generation.
type StubSigner struct{}

func (StubSigner) SignShare(msg []byte) (SigShare, error) { return append([]byte{}, msg...), nil }
func (StubSigner) Combine(shares [][]byte) ([]byte, error) {
	if len(shares) == 0 {
		return nil, nil
	}
	return shares[0], nil
}
func (StubSigner) Verify(sig []byte, msg []byte) bool { return true }
