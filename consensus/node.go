package consensus

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Healer reconciles a local store with the chains of its peers.
type Healer struct {
	mu     sync.Mutex // serializes healing rounds
	store  Store
	keys   map[string]ed25519.PublicKey
	logger *slog.Logger
}

// Option configures a Healer.
type Option func(*Healer)

// WithPeerKeys sets the public keys, indexed by peer id, that Run and
// HealSigned use to verify snapshots.
func WithPeerKeys(keys map[string]ed25519.PublicKey) Option {
	return func(h *Healer) {
		h.keys = keys
	}
}

// WithLogger sets the healer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Healer) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHealer creates a healer for store.
func NewHealer(store Store, opts ...Option) *Healer {
	h := &Healer{
		store:  store,
		keys:   map[string]ed25519.PublicKey{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealSigned heals against snaps, trusting only those signed by a peer
// whose key the healer was configured with.
func (h *Healer) HealSigned(snaps []Snapshot) (Outcome, error) {
	return h.HealSnapshots(snaps, h.keys)
}

// Run heals against supplier right away and then every interval until ctx
// is done. Supplier failures skip the round.
func (h *Healer) Run(ctx context.Context, supplier SnapshotSupplier, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		h.round(ctx, supplier)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Healer) round(ctx context.Context, supplier SnapshotSupplier) {
	snaps, err := supplier.Snapshots(ctx)
	if err != nil {
		h.logger.Warn("failed to collect peer snapshots", "error", err)
		return
	}
	outcome, err := h.HealSigned(snaps)
	switch outcome.Kind {
	case NoHealthyCandidate:
		h.logger.Error("healing found no healthy chain, ledger halted", "snapshots", len(snaps), "error", err)
	case Replaced:
		h.logger.Info("healing replaced the local chain", "digest", outcome.Digest, "votes", outcome.Votes)
	default:
		if err != nil {
			h.logger.Error("healing failed", "error", err)
			return
		}
		h.logger.Debug("healing left the local chain unchanged", "votes", outcome.Votes, "discarded", outcome.Discarded)
	}
}
