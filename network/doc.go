// Package network provides the peer-to-peer transport nodes use to exchange
// ledger snapshots. It implements broadcast and all-to-all communication
// over HTTP(S) with synchronization barriers.
//
// # Core Components
//
// Peer: Low-level network node that handles HTTP-based communication
// between the nodes of the mesh.
//
// P2P: Adapter that exchanges signed chain snapshots over a Peer and
// implements consensus.SnapshotSupplier.
//
// # Communication Patterns
//
// Broadcast: One node sends data to all other nodes (one-to-all).
// All nodes receive the same data.
//
// AllToAll: Each node sends data to all other nodes (all-to-all).
// Each node receives data from every other node.
//
// # Synchronization
//
// Every message carries a logical clock. A node only accepts the message
// for the round it is currently in, so all peers must take part in the same
// sequence of rounds. Senders retry until the receiver is ready or the
// configured timeout expires.
package network
