package ingest

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := Transaction{Sender: "A", Receiver: "B", Amount: decimal.NewFromInt(10), Timestamp: "t1"}
	assert.NoError(t, valid.Validate())

	zero := valid
	zero.Amount = decimal.Zero
	assert.NoError(t, zero.Validate(), "a zero amount is allowed")

	cases := map[string]func(*Transaction){
		"missing sender":    func(tx *Transaction) { tx.Sender = "" },
		"missing receiver":  func(tx *Transaction) { tx.Receiver = "" },
		"missing timestamp": func(tx *Transaction) { tx.Timestamp = "" },
		"negative amount":   func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tx := valid
			mutate(&tx)
			assert.ErrorIs(t, tx.Validate(), ErrInvalidTransaction)
		})
	}
}

func TestAdvance(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusQueued},
		{StatusPending, StatusMesh},
		{StatusPending, StatusFailed},
		{StatusQueued, StatusConfirmed},
		{StatusQueued, StatusFailed},
		{StatusMesh, StatusConfirmed},
		{StatusMesh, StatusFailed},
	}
	for _, tr := range allowed {
		tx := Transaction{Status: tr[0]}
		assert.NoError(t, tx.Advance(tr[1]), "%s -> %s", tr[0], tr[1])
		assert.Equal(t, tr[1], tx.Status)
	}

	refused := [][2]Status{
		{StatusQueued, StatusPending},
		{StatusMesh, StatusQueued},
		{StatusConfirmed, StatusQueued},
		{StatusConfirmed, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusPending, StatusConfirmed},
		{StatusQueued, StatusQueued},
	}
	for _, tr := range refused {
		tx := Transaction{Status: tr[0]}
		err := tx.Advance(tr[1])
		assert.True(t, errors.Is(err, ErrInvalidTransition), "%s -> %s should be refused", tr[0], tr[1])
		assert.Equal(t, tr[0], tx.Status)
	}

	empty := Transaction{}
	assert.NoError(t, empty.Advance(StatusQueued), "an unset status counts as pending")
	assert.True(t, StatusConfirmed.Terminal())
	assert.False(t, StatusMesh.Terminal())
	assert.True(t, StatusMesh.Known())
	assert.False(t, Status("settled").Known())

	for _, from := range []Status{StatusConfirmed, StatusFailed} {
		for _, to := range []Status{StatusPending, StatusQueued, StatusMesh, StatusConfirmed, StatusFailed} {
			tx := Transaction{Status: from}
			err := tx.Advance(to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.ErrorContains(t, err, "terminal")
			assert.Equal(t, from, tx.Status)
		}
	}
}

func TestFeaturesOf(t *testing.T) {
	f := FeaturesOf(Transaction{Amount: decimal.RequireFromString("9500.50"), Type: "loan", Timestamp: "2024-03-01T22:15:00Z"})
	assert.Equal(t, Features{Amount: 9500.5, Type: 0, Hour: 22}, f)

	f = FeaturesOf(Transaction{Amount: decimal.NewFromInt(1), Type: "transfer", Timestamp: "t1"})
	assert.Equal(t, 1, f.Type)
	assert.Equal(t, 12, f.Hour, "unparseable timestamps use midday")
}

func TestScorers(t *testing.T) {
	yes := BooleanScorer(func(Features) (bool, error) { return true, nil })
	no := BooleanScorer(func(Features) (bool, error) { return false, nil })
	s, _ := yes.Score(Features{})
	assert.Equal(t, 1.0, s)
	s, _ = no.Score(Features{})
	assert.Equal(t, 0.0, s)

	m := LogisticScorer{Bias: 0}
	s, _ = m.Score(Features{})
	assert.InDelta(t, 0.5, s, 1e-9)
	m = LogisticScorer{Bias: -5, AmountWeight: 0.001}
	low, _ := m.Score(Features{Amount: 100})
	high, _ := m.Score(Features{Amount: 9500})
	assert.Less(t, low, high)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-0.2))
	assert.Equal(t, 1.0, clampScore(3))
	assert.Equal(t, 0.0, clampScore(nan()))
	assert.Equal(t, 0.3, clampScore(0.3))
}
