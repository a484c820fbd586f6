package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chain is an ordered, hash-linked sequence of blocks.
type Chain []Block

// Validate checks every chain invariant:
//   - the chain is not empty
//   - the genesis block has an empty previous hash and index 0
//   - each block's index is sequential
//   - each block's previous hash matches the previous block's hash
//   - each block's hash is correctly calculated
//
// Returns nil if the chain is valid, or an error wrapping ErrInvalidChain
// that describes the first violation found. Runs in O(n).
func (c Chain) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidChain)
	}

	genesis := c[0]
	if genesis.Index != 0 || genesis.PrevHash != "" {
		return fmt.Errorf("%w: invalid genesis block", ErrInvalidChain)
	}
	if !VerifyBlock(genesis) {
		return fmt.Errorf("%w: genesis hash mismatch", ErrInvalidChain)
	}

	for i := 1; i < len(c); i++ {
		if err := validateBlock(c[i], c[i-1]); err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrInvalidChain, i, err)
		}
	}
	return nil
}

// Valid reports whether Validate succeeds.
func (c Chain) Valid() bool {
	return c.Validate() == nil
}

// Digest returns a content digest over the full ordered block sequence. Two
// chains have the same digest if and only if they hold the same blocks in the
// same order. The digest of an empty chain is the hash of no input.
func (c Chain) Digest() string {
	h := sha256.New()
	for _, b := range c {
		writeFields(h, b)
		writeBytes(h, []byte(b.Hash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy of the chain.
func (c Chain) Clone() Chain {
	if c == nil {
		return nil
	}
	out := make(Chain, len(c))
	for i, b := range c {
		out[i] = b.clone()
	}
	return out
}

// validateBlock verifies that a block is valid relative to the previous block.
// It checks index continuity, previous hash linkage and current hash validity.
func validateBlock(current, previous Block) error {
	if current.Index != previous.Index+1 {
		return fmt.Errorf("invalid index: expected %d, got %d", previous.Index+1, current.Index)
	}

	if current.PrevHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PrevHash)
	}

	if expected := calculateHash(current); current.Hash != expected {
		return fmt.Errorf("invalid hash: expected %s, got %s", expected, current.Hash)
	}
	return nil
}
