// Package consensus repairs a diverged or corrupted local ledger by comparing
// it with chains held by peers.
//
// Healing is a best-effort majority vote, not Byzantine fault tolerant
// agreement: it assumes most replicas are honest and only a minority are
// stale or corrupted.
//
// # Healing round
//
// The round follows these steps:
//  1. The local chain and every peer chain form the candidate set
//  2. Candidates failing structural validation are discarded
//  3. Each survivor is reduced to a content digest
//  4. The digest held by most candidates wins; ties go to the longest chain,
//     then to the lexicographically smallest digest
//  5. The local chain is replaced if the winner differs from it
//
// An invalid chain never wins, however many peers hold it. When no candidate
// validates the store is halted and refuses appends until a later round finds
// a healthy chain or an operator resumes it.
//
// # Signed snapshots
//
// Peers exchange Snapshot values signed with ed25519. HealSnapshots drops
// snapshots from unknown peers or with bad signatures before the round.
package consensus
