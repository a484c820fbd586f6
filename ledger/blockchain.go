package ledger

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Persister stores the chain durably. Implementations must make ReplaceAll
// atomic: after a failed call the previously persisted chain is intact.
type Persister interface {
	// SaveBlock durably appends a block after the current tail.
	SaveBlock(b Block) error
	// ReplaceAll swaps the whole persisted chain for c.
	ReplaceAll(c Chain) error
	// LoadChain returns the persisted chain, empty if nothing was stored.
	LoadChain() (Chain, error)
}

// Blockchain maintains the local append-only chain.
// Appends and replacements are serialized by a write lock; readers always
// receive copies, so a partially modified chain is never observable.
type Blockchain struct {
	mu           sync.RWMutex // Protects every field below
	blocks       Chain        // The chain currently served as canonical
	epoch        uint64       // Number of wholesale replacements so far
	readOnly     bool         // Set for the duration of a heal round
	halted       bool
	haltedReason string

	store  Persister
	logger *slog.Logger
}

// Option configures a Blockchain.
type Option func(*Blockchain)

// WithLogger sets the logger used to report appends, replacements and halts.
func WithLogger(logger *slog.Logger) Option {
	return func(bc *Blockchain) {
		if logger != nil {
			bc.logger = logger
		}
	}
}

// NewBlockchain creates an empty, memory only blockchain. The first Append
// creates the genesis block (index 0, empty previous hash).
func NewBlockchain(opts ...Option) *Blockchain {
	bc := &Blockchain{
		blocks: make(Chain, 0),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Open creates a blockchain backed by p and loads the chain persisted in it.
//
// A persisted chain that fails validation is still loaded, but the store
// starts halted: it refuses appends until a heal replaces the chain or an
// operator calls Resume. Blocks are never repaired in place.
func Open(p Persister, opts ...Option) (*Blockchain, error) {
	bc := NewBlockchain(opts...)
	bc.store = p

	chain, err := p.LoadChain()
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	bc.blocks = chain
	if len(chain) > 0 {
		if err := chain.Validate(); err != nil {
			bc.halted = true
			bc.haltedReason = err.Error()
			bc.logger.Error("persisted chain is corrupted, ledger halted", "length", len(chain), "error", err)
		}
	}
	bc.logger.Info("ledger opened", "length", len(chain))
	return bc, nil
}

// Append builds the next block for payload and appends it to the chain.
//
// The method:
//  1. Computes index and previous hash from the current tail
//  2. Builds the block and its hash
//  3. Persists the block, when a Persister is configured
//  4. Appends it to the in-memory chain
//
// Returns ErrInvalidAppend while a heal round holds the store read-only and
// ErrHalted while the store is halted.
//
// Thread-safety: This method is safe for concurrent access.
func (bc *Blockchain) Append(payload []byte, timestamp string) (Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.halted {
		return Block{}, ErrHalted
	}
	if bc.readOnly {
		return Block{}, fmt.Errorf("%w: heal in progress", ErrInvalidAppend)
	}

	prevHash := ""
	if n := len(bc.blocks); n > 0 {
		prevHash = bc.blocks[n-1].Hash
	}
	newBlock, err := MakeBlock(len(bc.blocks), prevHash, timestamp, payload)
	if err != nil {
		return Block{}, err
	}

	if bc.store != nil {
		if err := bc.store.SaveBlock(newBlock); err != nil {
			return Block{}, fmt.Errorf("failed to persist block %d: %w", newBlock.Index, err)
		}
	}
	bc.blocks = append(bc.blocks, newBlock)
	bc.logger.Debug("block appended", "index", newBlock.Index, "hash", newBlock.Hash)

	return newBlock.clone(), nil
}

// CurrentChain returns a copy of the chain as it is now.
func (bc *Blockchain) CurrentChain() Chain {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.blocks.Clone()
}

// Snapshot returns a copy of the chain together with the epoch it belongs
// to. The epoch changes whenever the chain is replaced wholesale, so derived
// indexes can tell an extension of what they saw from a different history.
func (bc *Blockchain) Snapshot() (Chain, uint64) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.blocks.Clone(), bc.epoch
}

// Epoch returns the number of wholesale replacements performed so far.
func (bc *Blockchain) Epoch() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.epoch
}

// Len returns the number of blocks in the chain.
func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return len(bc.blocks)
}

// GetLatest returns the most recently added block in the blockchain.
// Returns ErrNoSuchBlock if the blockchain is empty.
func (bc *Blockchain) GetLatest() (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		return Block{}, fmt.Errorf("%w: blockchain is empty", ErrNoSuchBlock)
	}

	return bc.blocks[len(bc.blocks)-1].clone(), nil
}

// GetByIndex retrieves a block by its index in the chain. Returns
// ErrNoSuchBlock if the index is out of range.
func (bc *Blockchain) GetByIndex(index int) (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if index < 0 || index >= len(bc.blocks) {
		return Block{}, fmt.Errorf("%w: index %d out of range", ErrNoSuchBlock, index)
	}

	return bc.blocks[index].clone(), nil
}

// Verify validates the integrity of the entire blockchain.
// Returns nil if the chain is valid, or an error describing the first
// integrity violation found.
//
// Thread-safety: This method is safe for concurrent access.
func (bc *Blockchain) Verify() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.blocks.Validate()
}

// Validate reports whether the chain currently satisfies every invariant.
func (bc *Blockchain) Validate() bool {
	return bc.Verify() == nil
}

// ReplaceChain atomically swaps the held chain for newChain.
//
// newChain is copied and validated first; an invalid chain is rejected with
// ErrInvalidChain and neither the in-memory nor the persisted chain changes.
// This is the only way the chain can shrink or diverge from its append
// history, and it is reserved for the consensus healer. It is allowed while
// the store is read-only and clears the halted state on success.
func (bc *Blockchain) ReplaceChain(newChain Chain) error {
	candidate := newChain.Clone()
	if err := candidate.Validate(); err != nil {
		return err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.store != nil {
		if err := bc.store.ReplaceAll(candidate); err != nil {
			return fmt.Errorf("failed to persist replacement chain: %w", err)
		}
	}
	previous := len(bc.blocks)
	bc.blocks = candidate
	bc.epoch++
	if bc.halted {
		bc.logger.Info("ledger resumed after replacement", "reason", bc.haltedReason)
	}
	bc.halted = false
	bc.haltedReason = ""
	bc.logger.Info("chain replaced", "previous_length", previous, "length", len(candidate), "epoch", bc.epoch)
	return nil
}

// MarkReadOnly makes Append fail with ErrInvalidAppend until ClearReadOnly.
func (bc *Blockchain) MarkReadOnly() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.readOnly = true
}

// ClearReadOnly re-enables appends after MarkReadOnly.
func (bc *Blockchain) ClearReadOnly() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.readOnly = false
}

// Halt stops accepting appends until Resume or a successful ReplaceChain.
func (bc *Blockchain) Halt(reason string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if !bc.halted {
		bc.logger.Error("ledger halted", "reason", reason)
	}
	bc.halted = true
	bc.haltedReason = reason
}

// Resume lifts a halt. It is the operator's way out after external repair.
func (bc *Blockchain) Resume() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.halted {
		bc.logger.Warn("ledger resumed by operator", "reason", bc.haltedReason)
	}
	bc.halted = false
	bc.haltedReason = ""
}

// Halted reports whether the store is halted and why.
func (bc *Blockchain) Halted() (bool, string) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.halted, bc.haltedReason
}
