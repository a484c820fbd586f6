// Package reputation computes trust scores and keeps them on the ledger.
//
// Scores are written as encrypted ledger entries and recovered by looking
// for the most recent entry naming a subject.
package reputation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cybervault/meshledger/ingest"
	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/vault"
)

// ErrNotFound is returned by Query when no entry names the subject.
var ErrNotFound = errors.New("reputation: subject not found")

// KindReputation tags reputation payloads on the ledger.
const KindReputation = "reputation"

// Record is the plaintext of a reputation entry.
type Record struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subjectId"`
	Score     int    `json:"score"`
}

// Ledger is the part of the ledger store the service needs.
type Ledger interface {
	Append(payload []byte, timestamp string) (ledger.Block, error)
	Snapshot() (ledger.Chain, uint64)
}

// Service calculates, persists and queries reputation scores.
type Service struct {
	chain  Ledger
	cipher vault.Cipher
	proof  EligibilityProof
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex // Protects idx
	idx index
}

// Option configures a Service.
type Option func(*Service)

// WithEligibility sets the feedback eligibility check. The default accepts
// any non-empty feedback.
func WithEligibility(p EligibilityProof) Option {
	return func(s *Service) {
		if p != nil {
			s.proof = p
		}
	}
}

// WithClock sets the clock used to timestamp persisted scores.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a reputation service over chain.
func NewService(chain Ledger, c vault.Cipher, opts ...Option) *Service {
	s := &Service{
		chain:  chain,
		cipher: c,
		proof:  NonEmptyFeedback{},
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculate scores subjectID: one point per confirmed transaction in
// history, plus one when feedback is present and eligible. The digest is a
// lookup key derived from the subject and the score.
func (s *Service) Calculate(subjectID string, history []ingest.Transaction, feedback []string) (string, int) {
	score := 0
	for _, tx := range history {
		if tx.Status == ingest.StatusConfirmed {
			score++
		}
	}
	if len(feedback) > 0 && s.proof.Check(feedback) {
		score++
	}
	return Digest(subjectID, score), score
}

// Digest returns the hex SHA-256 of "subjectID:score".
func Digest(subjectID string, score int) string {
	sum := sha256.Sum256([]byte(subjectID + ":" + strconv.Itoa(score)))
	return hex.EncodeToString(sum[:])
}

// Persist appends an encrypted score entry and returns its block hash.
func (s *Service) Persist(subjectID string, score int) (string, error) {
	plaintext, err := json.Marshal(Record{Kind: KindReputation, SubjectID: subjectID, Score: score})
	if err != nil {
		return "", fmt.Errorf("failed to encode reputation record: %w", err)
	}
	payload, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt reputation record: %w", err)
	}
	block, err := s.chain.Append(payload, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	s.logger.Info("reputation persisted", "subject", subjectID, "score", score, "block", block.Index)
	return block.Hash, nil
}

// Update calculates and persists a new score in one step.
func (s *Service) Update(subjectID string, history []ingest.Transaction, feedback []string) (int, string, error) {
	_, score := s.Calculate(subjectID, history, feedback)
	hash, err := s.Persist(subjectID, score)
	if err != nil {
		return 0, "", err
	}
	return score, hash, nil
}

// Query returns the score of the most recent entry naming subjectID.
// Entries that cannot be decrypted or decoded are skipped.
func (s *Service) Query(subjectID string) (int, error) {
	chain, epoch := s.chain.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx.stale(epoch, len(chain)) {
		s.logger.Debug("rebuilding reputation index", "epoch", epoch, "length", len(chain))
		s.idx.reset(epoch)
	}
	for i := s.idx.scanned; i < len(chain); i++ {
		if rec, ok := s.decode(chain[i]); ok {
			s.idx.latest[rec.SubjectID] = rec.Score
		}
	}
	s.idx.scanned = len(chain)

	score, ok := s.idx.latest[subjectID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	return score, nil
}

// decode returns the reputation record held by b, if any.
func (s *Service) decode(b ledger.Block) (Record, bool) {
	plaintext, err := s.cipher.Decrypt(b.Payload)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil || rec.Kind != KindReputation {
		return Record{}, false
	}
	return rec, true
}

// index maps subjects to the score in their latest entry for the first
// scanned blocks of the chain at epoch.
type index struct {
	built   bool
	epoch   uint64
	scanned int
	latest  map[string]int
}

// stale reports whether the index no longer describes a prefix of the chain.
func (x *index) stale(epoch uint64, length int) bool {
	return !x.built || x.epoch != epoch || length < x.scanned
}

func (x *index) reset(epoch uint64) {
	x.built = true
	x.epoch = epoch
	x.scanned = 0
	x.latest = make(map[string]int)
}
