package consensus

import (
	"errors"

	"github.com/cybervault/meshledger/ledger"
)

// ErrNoHealthyCandidate is returned by Heal when not a single candidate,
// the local chain included, passes validation.
var ErrNoHealthyCandidate = errors.New("consensus: no healthy candidate")

// OutcomeKind classifies the result of a healing round.
type OutcomeKind int

const (
	Unchanged OutcomeKind = iota
	Replaced
	NoHealthyCandidate
)

func (k OutcomeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Replaced:
		return "replaced"
	case NoHealthyCandidate:
		return "no healthy candidate"
	default:
		return "unknown"
	}
}

// Outcome reports what a healing round did.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Digest    string      `json:"digest,omitempty"` // digest of the winning chain
	Votes     int         `json:"votes"`            // candidates sharing the winning digest
	Length    int         `json:"length"`           // length of the winning chain
	Discarded int         `json:"discarded"`        // candidates that failed validation
}

// Tally is the verdict of SelectCanonical.
type Tally struct {
	Digest    string
	Votes     int
	Chain     ledger.Chain
	Valid     int // candidates that passed validation
	Discarded int // candidates that failed it
}

// Snapshot is a peer's chain as it offered it, signed by that peer.
type Snapshot struct {
	PeerID    string       `json:"peer_id"`
	Chain     ledger.Chain `json:"chain"`
	Digest    string       `json:"digest"`
	Signature []byte       `json:"sig,omitempty"`
}

// NewSnapshot wraps chain in an unsigned snapshot from peerID.
func NewSnapshot(peerID string, chain ledger.Chain) Snapshot {
	return Snapshot{
		PeerID: peerID,
		Chain:  chain,
		Digest: chain.Digest(),
	}
}
