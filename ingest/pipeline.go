// Package ingest turns submitted transactions into encrypted ledger blocks.
package ingest

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/vault"
	"github.com/google/uuid"
)

// DefaultThreshold is the fraud score at and above which a transaction is flagged.
const DefaultThreshold = 0.5

// Appender is the part of the ledger store the pipeline writes to.
type Appender interface {
	Append(payload []byte, timestamp string) (ledger.Block, error)
}

// Pipeline validates, scores, encrypts and appends transactions.
type Pipeline struct {
	chain     Appender
	cipher    vault.Cipher
	scorer    FraudScorer
	threshold float64
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithScorer sets the fraud model. Without one every score is 0.
func WithScorer(s FraudScorer) Option {
	return func(p *Pipeline) {
		p.scorer = s
	}
}

// WithThreshold sets the flagging threshold.
func WithThreshold(threshold float64) Option {
	return func(p *Pipeline) {
		p.threshold = threshold
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a pipeline appending to chain and encrypting with c.
func NewPipeline(chain Appender, c vault.Cipher, opts ...Option) *Pipeline {
	p := &Pipeline{
		chain:     chain,
		cipher:    c,
		threshold: DefaultThreshold,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit ingests tx and returns the block holding it; the block hash is the
// receipt. On success tx carries its ID, fraud verdict and queued status.
// On failure tx is left as it was.
func (p *Pipeline) Submit(tx *Transaction) (ledger.Block, error) {
	return p.ingest(tx, StatusQueued)
}

// SubmitBatch ingests transactions received from a peer during a mesh sync.
// Each entry is handled independently and invalid ones are skipped. It
// returns the number of transactions appended.
func (p *Pipeline) SubmitBatch(txs []Transaction) int {
	appended := 0
	for i := range txs {
		if _, err := p.ingest(&txs[i], StatusMesh); err != nil {
			p.logger.Warn("skipping mesh transaction", "position", i, "error", err)
			continue
		}
		appended++
	}
	p.logger.Info("mesh sync ingested", "received", len(txs), "appended", appended)
	return appended
}

func (p *Pipeline) ingest(tx *Transaction, status Status) (ledger.Block, error) {
	if err := tx.Validate(); err != nil {
		return ledger.Block{}, err
	}

	record := *tx
	record.Status = StatusPending
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := record.Advance(status); err != nil {
		return ledger.Block{}, err
	}
	verdict := p.Assess(record)
	record.FraudScore = verdict.Score
	record.FraudFlag = verdict.Flag

	plaintext, err := encodeTransaction(record)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	payload, err := p.cipher.Encrypt(plaintext)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("failed to encrypt transaction: %w", err)
	}
	block, err := p.chain.Append(payload, record.Timestamp)
	if err != nil {
		return ledger.Block{}, err
	}

	*tx = record
	p.logger.Info("transaction ingested",
		"id", record.ID,
		"status", record.Status,
		"fraud_score", record.FraudScore,
		"fraud_flag", record.FraudFlag,
		"block", block.Index,
	)
	return block, nil
}

// Assessment is the fraud verdict for one transaction.
type Assessment struct {
	Features Features `json:"features"`
	Score    float64  `json:"fraudScore"`
	Flag     bool     `json:"fraudFlag"`
	Degraded bool     `json:"degraded"` // no model, or the model failed
}

// Assess scores tx without ingesting it. A missing or failing model yields
// a degraded verdict: score 0 and never flagged, whatever the threshold.
func (p *Pipeline) Assess(tx Transaction) Assessment {
	a := Assessment{Features: FeaturesOf(tx)}
	if p.scorer == nil {
		a.Degraded = true
		return a
	}
	s, err := p.scorer.Score(a.Features)
	if err != nil {
		p.logger.Warn("fraud scorer unavailable, defaulting to 0", "id", tx.ID, "error", err)
		a.Degraded = true
		return a
	}
	a.Score = clampScore(s)
	a.Flag = a.Score >= p.threshold
	return a
}

// Transactions decodes the transactions recorded in chain, oldest first.
// Blocks of another kind, or sealed under a different key, are skipped.
// When keep is non-nil only the transactions it accepts are returned.
func (p *Pipeline) Transactions(chain ledger.Chain, keep func(Transaction) bool) []Transaction {
	txs := make([]Transaction, 0, len(chain))
	for _, b := range chain {
		tx, err := DecodeTransaction(p.cipher, b.Payload)
		if err != nil {
			continue
		}
		if keep == nil || keep(tx) {
			txs = append(txs, tx)
		}
	}
	return txs
}
