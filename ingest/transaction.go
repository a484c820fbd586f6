package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cybervault/meshledger/vault"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransaction is returned for records missing a required field
	// or carrying a negative amount.
	ErrInvalidTransaction = errors.New("ingest: invalid transaction")
	// ErrInvalidTransition is returned by Advance for a status change that
	// would move a transaction backwards.
	ErrInvalidTransition = errors.New("ingest: invalid status transition")
)

// KindTransaction tags transaction payloads on the ledger.
const KindTransaction = "transaction"

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusMesh      Status = "mesh"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// transitions lists, for each status, the statuses it may move to.
var transitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusMesh, StatusFailed},
	StatusQueued:  {StatusConfirmed, StatusFailed},
	StatusMesh:    {StatusConfirmed, StatusFailed},
}

// Known reports whether s is one of the lifecycle statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusQueued, StatusMesh, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Transaction is a single financial transfer as submitted by a client.
type Transaction struct {
	ID         string          `json:"id"`
	Sender     string          `json:"sender"`
	Receiver   string          `json:"receiver"`
	Amount     decimal.Decimal `json:"amount"`
	Type       string          `json:"type,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Signature  string          `json:"signature,omitempty"`
	Status     Status          `json:"status"`
	FraudFlag  bool            `json:"fraudFlag"`
	FraudScore float64         `json:"fraudScore"`
}

// Validate checks the fields required for ingestion.
func (tx Transaction) Validate() error {
	switch {
	case tx.Sender == "":
		return fmt.Errorf("%w: missing sender", ErrInvalidTransaction)
	case tx.Receiver == "":
		return fmt.Errorf("%w: missing receiver", ErrInvalidTransaction)
	case tx.Timestamp == "":
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTransaction)
	case tx.Amount.IsNegative():
		return fmt.Errorf("%w: negative amount %s", ErrInvalidTransaction, tx.Amount)
	}
	return nil
}

// Advance moves the transaction to status to. Statuses only move forward;
// confirmed and failed are terminal.
func (tx *Transaction) Advance(to Status) error {
	from := tx.Status
	if from == "" {
		from = StatusPending
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			tx.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

type envelope struct {
	Kind string `json:"kind"`
	Transaction
}

func encodeTransaction(tx Transaction) ([]byte, error) {
	return json.Marshal(envelope{Kind: KindTransaction, Transaction: tx})
}

// DecodeTransaction decrypts a ledger payload and decodes the transaction it
// carries. Payloads of another kind are reported as errors.
func DecodeTransaction(c vault.Cipher, payload []byte) (Transaction, error) {
	plaintext, err := c.Decrypt(payload)
	if err != nil {
		return Transaction{}, err
	}
	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return Transaction{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	if env.Kind != KindTransaction {
		return Transaction{}, fmt.Errorf("payload kind %q is not a transaction", env.Kind)
	}
	return env.Transaction, nil
}
