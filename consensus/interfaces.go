package consensus

import (
	"context"

	"github.com/cybervault/meshledger/ledger"
)

// Store is the ledger store the healer repairs.
type Store interface {
	// CurrentChain returns a copy of the local chain.
	CurrentChain() ledger.Chain

	// ReplaceChain swaps the local chain for a validated one.
	ReplaceChain(c ledger.Chain) error

	// MarkReadOnly and ClearReadOnly bracket a healing round.
	MarkReadOnly()
	ClearReadOnly()

	// Halt refuses appends until Resume or a successful ReplaceChain.
	Halt(reason string)
	Resume()
	Halted() (bool, string)
}

// SnapshotSupplier fetches the chains currently held by peers.
type SnapshotSupplier interface {
	Snapshots(ctx context.Context) ([]Snapshot, error)
}

// SupplierFunc adapts a function to SnapshotSupplier.
type SupplierFunc func(ctx context.Context) ([]Snapshot, error)

func (f SupplierFunc) Snapshots(ctx context.Context) ([]Snapshot, error) { return f(ctx) }
