package network

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"sync"

	"github.com/cybervault/meshledger/consensus"
	"github.com/cybervault/meshledger/ledger"
)

// ChainSource provides the local chain offered to peers.
type ChainSource interface {
	CurrentChain() ledger.Chain
}

// P2P exchanges signed ledger snapshots with the other peers of the mesh.
// It implements consensus.SnapshotSupplier.
type P2P struct {
	mu     sync.Mutex // one exchange at a time on the underlying peer
	peer   *Peer
	source ChainSource
	priv   ed25519.PrivateKey
	logger *slog.Logger
}

var _ consensus.SnapshotSupplier = (*P2P)(nil)

// PeerID is the identifier under which the peer with the given rank signs
// its snapshots.
func PeerID(rank int) string {
	return "peer-" + strconv.Itoa(rank)
}

// NewP2P creates a snapshot exchange over peer, offering the chain of source
// signed with priv.
func NewP2P(peer *Peer, source ChainSource, priv ed25519.PrivateKey, logger *slog.Logger) *P2P {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &P2P{peer: peer, source: source, priv: priv, logger: logger}
}

// ID returns the identifier of the local peer.
func (p *P2P) ID() string {
	return PeerID(p.peer.Rank)
}

// GetRank returns the rank of the local peer.
func (p *P2P) GetRank() int {
	return p.peer.Rank
}

// GetPeerCount returns the number of peers in the mesh, the local one included.
func (p *P2P) GetPeerCount() int {
	return len(p.peer.Addresses)
}

// GetAddresses returns the address of each peer by rank.
func (p *P2P) GetAddresses() map[int]string {
	return maps.Clone(p.peer.Addresses)
}

// ExchangeKeys sends pub to every peer and collects their public keys by
// peer id. Every peer must call it in the same round.
func (p *P2P) ExchangeKeys(pub ed25519.PublicKey) (map[string]ed25519.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	recv, err := p.peer.AllToAll(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public keys: %w", err)
	}
	keys := make(map[string]ed25519.PublicKey, len(recv))
	for rank, data := range recv {
		if len(data) != ed25519.PublicKeySize {
			continue
		}
		keys[PeerID(rank)] = ed25519.PublicKey(data)
	}
	return keys, nil
}

// Snapshots offers the signed local chain to every peer and returns the
// snapshots received from the others. The exchange is bounded by the peer
// timeout; ctx is only checked before it starts.
func (p *P2P) Snapshots(ctx context.Context) ([]consensus.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	local := consensus.NewSnapshot(p.ID(), p.source.CurrentChain())
	if err := local.Sign(p.priv); err != nil {
		return nil, fmt.Errorf("failed to sign local snapshot: %w", err)
	}
	data, err := json.Marshal(local)
	if err != nil {
		return nil, fmt.Errorf("failed to encode local snapshot: %w", err)
	}

	recv, err := p.peer.AllToAll(data)
	if err != nil {
		return nil, err
	}
	snaps := make([]consensus.Snapshot, 0, len(recv))
	var decodeErrs error
	for rank, b := range recv {
		if rank == p.peer.Rank || len(b) == 0 {
			continue
		}
		var s consensus.Snapshot
		if err := json.Unmarshal(b, &s); err != nil {
			decodeErrs = errors.Join(decodeErrs, fmt.Errorf("peer %d: %w", rank, err))
			continue
		}
		snaps = append(snaps, s)
	}
	if decodeErrs != nil {
		p.logger.Warn("skipped malformed snapshots", "error", decodeErrs)
	}
	return snaps, nil
}

// Close stops the underlying peer.
func (p *P2P) Close() error {
	return p.peer.Close()
}
