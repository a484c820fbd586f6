package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

var (
	// ErrInvalidBlock is returned by MakeBlock for out of range inputs.
	ErrInvalidBlock = errors.New("ledger: invalid block")
	// ErrInvalidAppend is returned by Append while the store refuses writes.
	// Callers should retry after a backoff.
	ErrInvalidAppend = errors.New("ledger: append refused")
	// ErrHalted is returned by Append after the store has been halted
	// pending operator repair. It wraps ErrInvalidAppend.
	ErrHalted = fmt.Errorf("%w: ledger halted until repaired", ErrInvalidAppend)
	// ErrInvalidChain is returned when a chain violates an integrity invariant.
	ErrInvalidChain = errors.New("ledger: invalid chain")
	// ErrNoSuchBlock is returned by lookups for a block the chain does not hold.
	ErrNoSuchBlock = errors.New("ledger: no such block")
)

// Block is a single entry of the ledger. Blocks are immutable once created:
// Hash is computed once by MakeBlock and never recomputed implicitly.
type Block struct {
	Index     int    `json:"index"`
	PrevHash  string `json:"prev_hash"`
	Timestamp string `json:"timestamp"`
	Payload   []byte `json:"payload"`
	Hash      string `json:"hash"`
}

// MakeBlock builds a fully populated block and computes its hash.
// The payload is copied, so the caller may reuse its buffer.
func MakeBlock(index int, prevHash, timestamp string, payload []byte) (Block, error) {
	if index < 0 {
		return Block{}, fmt.Errorf("%w: negative index %d", ErrInvalidBlock, index)
	}
	if payload == nil {
		return Block{}, fmt.Errorf("%w: nil payload", ErrInvalidBlock)
	}
	b := Block{
		Index:     index,
		PrevHash:  prevHash,
		Timestamp: timestamp,
		Payload:   append([]byte{}, payload...),
	}
	b.Hash = calculateHash(b)
	return b, nil
}

// VerifyBlock recomputes the hash from the block's own fields and compares it
// with the stored one. It does not consult the chain.
func VerifyBlock(b Block) bool {
	return b.Hash == calculateHash(b)
}

// clone returns a copy of the block that shares no memory with b.
func (b Block) clone() Block {
	c := b
	if b.Payload != nil {
		c.Payload = append([]byte{}, b.Payload...)
	}
	return c
}

// calculateHash computes the SHA256 hash of a block over its index, previous
// hash, timestamp and payload. Variable length fields are length prefixed so
// that distinct blocks can never share an encoding.
func calculateHash(b Block) string {
	h := sha256.New()
	writeFields(h, b)
	return hex.EncodeToString(h.Sum(nil))
}

func writeFields(h hash.Hash, b Block) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Index))
	h.Write(buf[:])
	writeBytes(h, []byte(b.PrevHash))
	writeBytes(h, []byte(b.Timestamp))
	writeBytes(h, b.Payload)
}

func writeBytes(h hash.Hash, data []byte) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(data)))
	h.Write(buf[:])
	h.Write(data)
}
