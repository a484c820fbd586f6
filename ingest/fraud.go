package ingest

import (
	"math"
	"time"
)

// Features are the inputs a fraud model sees for one transaction.
type Features struct {
	Amount float64 `json:"amount"`
	Type   int     `json:"type"` // 0 for loans, 1 otherwise
	Hour   int     `json:"hour"` // hour of day, 12 when the timestamp carries none
}

// FraudScorer estimates the fraud risk of a transaction as a value in [0,1].
type FraudScorer interface {
	Score(f Features) (float64, error)
}

// ScorerFunc adapts a function to FraudScorer.
type ScorerFunc func(f Features) (float64, error)

func (fn ScorerFunc) Score(f Features) (float64, error) { return fn(f) }

// BooleanScorer adapts a model that only says fraud or not fraud.
type BooleanScorer func(f Features) (bool, error)

// Score maps true to 1 and false to 0.
func (fn BooleanScorer) Score(f Features) (float64, error) {
	fraud, err := fn(f)
	if err != nil || !fraud {
		return 0, err
	}
	return 1, nil
}

// LogisticScorer is a linear model over the features squashed with the
// logistic function.
type LogisticScorer struct {
	Bias         float64
	AmountWeight float64
	TypeWeight   float64
	HourWeight   float64
}

// Score returns sigmoid(bias + w·features).
func (m LogisticScorer) Score(f Features) (float64, error) {
	z := m.Bias + m.AmountWeight*f.Amount + m.TypeWeight*float64(f.Type) + m.HourWeight*float64(f.Hour)
	return 1 / (1 + math.Exp(-z)), nil
}

// FeaturesOf extracts the model features of tx.
func FeaturesOf(tx Transaction) Features {
	f := Features{
		Amount: tx.Amount.InexactFloat64(),
		Type:   1,
		Hour:   12,
	}
	if tx.Type == "loan" {
		f.Type = 0
	}
	if ts, err := time.Parse(time.RFC3339, tx.Timestamp); err == nil {
		f.Hour = ts.Hour()
	}
	return f
}

// clampScore forces a model output into [0,1].
func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
