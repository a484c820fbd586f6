package consensus

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
)

// serialize returns the JSON marshaled form of the Snapshot with the Signature field
// cleared. The chain itself is bound through its digest.
func (s *Snapshot) serialize() ([]byte, error) {
	tmp := *s
	tmp.Signature = nil
	tmp.Chain = nil
	return json.Marshal(tmp)
}

// Sign recomputes the chain digest and signs the snapshot with the peer's private key.
func (s *Snapshot) Sign(priv ed25519.PrivateKey) error {
	s.Digest = s.Chain.Digest()
	b, err := s.serialize()
	if err != nil {
		return err
	}
	s.Signature = ed25519.Sign(priv, b)
	return nil
}

// VerifySignature verifies the Snapshot's signature using the provided Ed25519 public key.
// Returns false if the signature does not verify or the digest does not match the chain,
// or an error if the signature is missing or serialization fails.
func (s *Snapshot) VerifySignature(pub ed25519.PublicKey) (bool, error) {
	if len(s.Signature) == 0 {
		return false, errors.New("missing signature")
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key")
	}
	if s.Digest != s.Chain.Digest() {
		return false, nil
	}
	b, err := s.serialize()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, b, s.Signature), nil
}
