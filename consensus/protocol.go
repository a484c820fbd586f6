package consensus

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/cybervault/meshledger/ledger"
)

// SelectCanonical picks the chain a majority of valid candidates agree on.
// Invalid candidates are discarded before counting. Among the remaining
// digests the highest count wins, then the longest chain, then the smallest
// digest. It reports false when no candidate is valid.
func SelectCanonical(candidates []ledger.Chain) (Tally, bool) {
	type group struct {
		digest string
		votes  int
		chain  ledger.Chain
	}

	groups := make(map[string]*group)
	tally := Tally{}
	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			tally.Discarded++
			continue
		}
		tally.Valid++
		d := c.Digest()
		if g, ok := groups[d]; ok {
			g.votes++
			continue
		}
		groups[d] = &group{digest: d, votes: 1, chain: c}
	}
	if len(groups) == 0 {
		return tally, false
	}

	ranked := make([]*group, 0, len(groups))
	for _, g := range groups {
		ranked = append(ranked, g)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.votes != b.votes {
			return a.votes > b.votes
		}
		if len(a.chain) != len(b.chain) {
			return len(a.chain) > len(b.chain)
		}
		return a.digest < b.digest
	})

	winner := ranked[0]
	tally.Digest = winner.digest
	tally.Votes = winner.votes
	tally.Chain = winner.chain.Clone()
	return tally, true
}

// Heal runs one healing round of the local chain against peers.
//
// The store is read-only for the duration of the round. If no candidate is
// valid the store is halted and ErrNoHealthyCandidate is returned, unless
// every candidate is empty: a mesh that has not recorded anything yet has
// nothing to heal. If the valid local chain wins, a halted store is resumed.
func (h *Healer) Heal(peers []ledger.Chain) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.store.MarkReadOnly()
	defer h.store.ClearReadOnly()

	local := h.store.CurrentChain()
	candidates := make([]ledger.Chain, 0, len(peers)+1)
	candidates = append(candidates, local)
	candidates = append(candidates, peers...)

	if allEmpty(candidates) {
		return Outcome{Kind: Unchanged, Votes: len(candidates)}, nil
	}

	tally, ok := SelectCanonical(candidates)
	outcome := Outcome{
		Digest:    tally.Digest,
		Votes:     tally.Votes,
		Length:    len(tally.Chain),
		Discarded: tally.Discarded,
	}
	if !ok {
		outcome.Kind = NoHealthyCandidate
		h.store.Halt(fmt.Sprintf("no healthy candidate among %d chains", len(candidates)))
		return outcome, ErrNoHealthyCandidate
	}

	if tally.Digest == local.Digest() {
		if halted, _ := h.store.Halted(); halted {
			h.store.Resume()
		}
		outcome.Kind = Unchanged
		return outcome, nil
	}

	if err := h.store.ReplaceChain(tally.Chain); err != nil {
		return outcome, fmt.Errorf("failed to replace local chain: %w", err)
	}
	outcome.Kind = Replaced
	h.logger.Info("local chain replaced",
		"digest", tally.Digest,
		"votes", tally.Votes,
		"previous_length", len(local),
		"length", len(tally.Chain),
	)
	return outcome, nil
}

// HealSnapshots verifies signed snapshots against keys, indexed by peer id,
// and heals against the ones that check out. Snapshots from unknown peers
// or with bad signatures are dropped.
func (h *Healer) HealSnapshots(snaps []Snapshot, keys map[string]ed25519.PublicKey) (Outcome, error) {
	chains := make([]ledger.Chain, 0, len(snaps))
	for _, s := range snaps {
		pub, known := keys[s.PeerID]
		if !known {
			h.logger.Warn("dropping snapshot from unknown peer", "peer", s.PeerID)
			continue
		}
		ok, err := s.VerifySignature(pub)
		if err != nil || !ok {
			h.logger.Warn("dropping snapshot with bad signature", "peer", s.PeerID, "error", err)
			continue
		}
		chains = append(chains, s.Chain)
	}
	return h.Heal(chains)
}

func allEmpty(chains []ledger.Chain) bool {
	for _, c := range chains {
		if len(c) > 0 {
			return false
		}
	}
	return true
}
