// Package ledger implements the hash-chained block store at the heart of a
// meshledger node.
//
// # Core Components
//
// Block: An immutable record carrying an opaque (encrypted) payload and a
// hash binding it to its content and to its predecessor.
//
// Chain: An ordered, hash-linked sequence of blocks forming one replica of
// the ledger. A chain is either valid or it is never served as canonical.
//
// Blockchain: The store owning exactly one chain. It accepts appends,
// validates integrity, and supports atomic wholesale replacement, which is
// reserved for the consensus healer.
//
// # Security Properties
//
// The blockchain provides:
//   - Immutability: Once recorded, blocks cannot be modified
//   - Verifiability: Anyone holding a chain can recompute every hash
//   - Tamper detection: Any modification breaks the hash chain
//
// # Usage
//
// Open a blockchain over a Persister (or create an in-memory one with
// NewBlockchain), then Append payloads as they are accepted. The Verify
// method can be called at any time to ensure the chain remains intact.
package ledger
