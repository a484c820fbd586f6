package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cybervault/meshledger/consensus"
	"github.com/cybervault/meshledger/ingest"
	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/reputation"
	"github.com/cybervault/meshledger/storage"
	"github.com/cybervault/meshledger/vault"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trustedPeer is the only peer whose snapshots the fixture healer accepts.
const trustedPeer = "peer-1"

type fixture struct {
	chain  *ledger.Blockchain
	router *gin.Engine
	peer   ed25519.PrivateKey // signing key of trustedPeer
}

func setup(t *testing.T) fixture {
	return setupWith(t, ledger.NewBlockchain())
}

func setupWith(t *testing.T, chain *ledger.Blockchain) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, err := vault.NewAESGCM(make([]byte, vault.KeySize))
	require.NoError(t, err)
	pipeline := ingest.NewPipeline(chain, c, ingest.WithScorer(ingest.BooleanScorer(func(f ingest.Features) (bool, error) {
		return f.Amount > 5000, nil
	})))
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	healer := consensus.NewHealer(chain, consensus.WithPeerKeys(map[string]ed25519.PublicKey{trustedPeer: pub}))
	server := NewServer(chain, pipeline, reputation.NewService(chain, c), healer, nil)
	return fixture{chain: chain, router: server.Router(), peer: priv}
}

// signed returns chain as a snapshot from peerID signed with priv.
func signed(t *testing.T, peerID string, chain ledger.Chain, priv ed25519.PrivateKey) consensus.Snapshot {
	t.Helper()
	snap := consensus.NewSnapshot(peerID, chain)
	require.NoError(t, snap.Sign(priv))
	return snap
}

func (f fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestSubmitTransaction(t *testing.T) {
	f := setup(t)

	t.Run("flags and appends", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/transactions", map[string]any{
			"sender": "A", "receiver": "B", "amount": 9500, "timestamp": "2024-05-01T10:00:00Z",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.EqualValues(t, 0, body["block_index"])
		assert.NotEmpty(t, body["receipt"])

		tx := body["transaction"].(map[string]any)
		assert.Equal(t, true, tx["fraudFlag"])
		assert.Equal(t, "queued", tx["status"])
		assert.NotEmpty(t, tx["id"])
		assert.Equal(t, 1, f.chain.Len())
	})

	t.Run("missing sender", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/transactions", map[string]any{
			"receiver": "B", "amount": 1, "timestamp": "t",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "missing sender")
	})

	t.Run("malformed body", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/transactions", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("halted ledger", func(t *testing.T) {
		f.chain.Halt("maintenance")
		defer f.chain.Resume()
		w, _ := f.do(t, http.MethodPost, "/transactions", map[string]any{
			"sender": "A", "receiver": "B", "amount": 1, "timestamp": "t",
		})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestMeshSync(t *testing.T) {
	f := setup(t)

	w, body := f.do(t, http.MethodPost, "/mesh/sync", []map[string]any{
		{"sender": "A", "receiver": "B", "amount": 10, "timestamp": "t1"},
		{"sender": "", "receiver": "B", "amount": 10, "timestamp": "t2"},
		{"sender": "C", "receiver": "D", "amount": 20, "timestamp": "t3"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["received"])
	assert.EqualValues(t, 2, body["appended"])
	assert.Equal(t, 2, f.chain.Len())

	w, _ = f.do(t, http.MethodPost, "/mesh/sync", map[string]any{"sender": "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBlockchainRoutes(t *testing.T) {
	f := setup(t)
	for i := 0; i < 3; i++ {
		_, err := f.chain.Append([]byte(fmt.Sprintf("entry-%d", i)), "t")
		require.NoError(t, err)
	}

	w, body := f.do(t, http.MethodGet, "/blockchain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["length"])
	assert.Len(t, body["blocks"], 3)

	w, body = f.do(t, http.MethodGet, "/blockchain/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, false, body["halted"])
}

func TestBlockRoute(t *testing.T) {
	f := setup(t)
	for i := 0; i < 2; i++ {
		_, err := f.chain.Append([]byte(fmt.Sprintf("entry-%d", i)), "t")
		require.NoError(t, err)
	}

	w, body := f.do(t, http.MethodGet, "/blockchain/blocks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["index"])
	assert.Equal(t, f.chain.CurrentChain()[0].Hash, body["prev_hash"])

	w, _ = f.do(t, http.MethodGet, "/blockchain/blocks/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, http.MethodGet, "/blockchain/blocks/tip", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusRoute(t *testing.T) {
	f := setup(t)

	w, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", body["status"])
	assert.EqualValues(t, 0, body["length"])
	assert.NotContains(t, body, "tip")

	block, err := f.chain.Append([]byte("entry"), "t")
	require.NoError(t, err)
	f.chain.Halt("maintenance")
	defer f.chain.Resume()

	w, body = f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "halted", body["status"])
	assert.Equal(t, "maintenance", body["halted_reason"])
	assert.EqualValues(t, 0, body["epoch"])
	tip := body["tip"].(map[string]any)
	assert.Equal(t, block.Hash, tip["hash"])
}

func TestTransactionListing(t *testing.T) {
	f := setup(t)
	w, _ := f.do(t, http.MethodPost, "/transactions", map[string]any{
		"sender": "A", "receiver": "B", "amount": 10, "timestamp": "t1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = f.do(t, http.MethodPost, "/mesh/sync", []map[string]any{
		{"sender": "C", "receiver": "D", "amount": 20, "timestamp": "t2"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	_, err := f.chain.Append([]byte("not a transaction"), "t3")
	require.NoError(t, err)

	w, body := f.do(t, http.MethodGet, "/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
	txs := body["transactions"].([]any)
	assert.Equal(t, "A", txs[0].(map[string]any)["sender"])

	w, body = f.do(t, http.MethodGet, "/transactions?status=mesh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "C", body["transactions"].([]any)[0].(map[string]any)["sender"])

	w, body = f.do(t, http.MethodGet, "/transactions?status=confirmed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])

	w, _ = f.do(t, http.MethodGet, "/transactions?status=settled", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodGet, "/transactions/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestFraudDetectRoute(t *testing.T) {
	f := setup(t)

	w, body := f.do(t, http.MethodPost, "/ai/fraud-detect", map[string]any{
		"sender": "A", "receiver": "B", "amount": 9500, "type": "loan", "timestamp": "2024-05-01T22:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["fraudFlag"])
	assert.EqualValues(t, 1, body["fraudScore"])
	assert.Equal(t, false, body["degraded"])
	features := body["features"].(map[string]any)
	assert.EqualValues(t, 0, features["type"])
	assert.EqualValues(t, 22, features["hour"])
	assert.Equal(t, 0, f.chain.Len(), "assessment must not append")

	w, _ = f.do(t, http.MethodPost, "/ai/fraud-detect", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReputationRoutes(t *testing.T) {
	f := setup(t)

	w, _ := f.do(t, http.MethodGet, "/reputation/alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := f.do(t, http.MethodPost, "/reputation/update", map[string]any{
		"subject_id": "alice",
		"history": []map[string]any{
			{"sender": "alice", "receiver": "bob", "amount": 1, "timestamp": "t", "status": "confirmed"},
			{"sender": "alice", "receiver": "bob", "amount": 1, "timestamp": "t", "status": "failed"},
		},
		"feedback": []string{"great seller"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["score"])
	assert.Equal(t, reputation.Digest("alice", 2), body["digest"])
	assert.NotEmpty(t, body["block_hash"])

	w, body = f.do(t, http.MethodGet, "/reputation/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["score"])

	w, _ = f.do(t, http.MethodPost, "/reputation/update", map[string]any{"history": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealRoute(t *testing.T) {
	f := setup(t)
	_, err := f.chain.Append([]byte("local"), "t")
	require.NoError(t, err)

	peer := ledger.NewBlockchain()
	for _, p := range []string{"a", "b", "c"} {
		_, err := peer.Append([]byte(p), "t")
		require.NoError(t, err)
	}
	longer := peer.CurrentChain()
	_, foreign, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	refused := map[string][]consensus.Snapshot{
		"unsigned":       {consensus.NewSnapshot(trustedPeer, longer), consensus.NewSnapshot(trustedPeer, longer)},
		"foreign signed": {signed(t, trustedPeer, longer, foreign), signed(t, trustedPeer, longer, foreign)},
		"unknown peer":   {signed(t, "peer-9", longer, foreign)},
	}
	for name, snaps := range refused {
		t.Run(name, func(t *testing.T) {
			before := f.chain.CurrentChain().Digest()
			w, body := f.do(t, http.MethodPost, "/heal", map[string]any{"snapshots": snaps})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "unchanged", body["outcome"])
			assert.Equal(t, before, f.chain.CurrentChain().Digest())
			assert.Equal(t, 1, f.chain.Len())
		})
	}

	t.Run("raw chains are not snapshots", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/heal", map[string]any{"chains": []ledger.Chain{longer, longer}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "unchanged", body["outcome"])
		assert.Equal(t, 1, f.chain.Len())
	})

	t.Run("adopts a signed longer chain", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/heal", map[string]any{
			"snapshots": []consensus.Snapshot{signed(t, trustedPeer, longer, f.peer)},
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "replaced", body["outcome"])
		assert.Equal(t, longer.Digest(), f.chain.CurrentChain().Digest())
	})

	t.Run("malformed body", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/heal", "[")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealRouteWithoutHealthyCandidate(t *testing.T) {
	source := ledger.NewBlockchain()
	for _, p := range []string{"a", "b"} {
		_, err := source.Append([]byte(p), "t")
		require.NoError(t, err)
	}
	corrupted := source.CurrentChain()
	corrupted[1].Payload = []byte("tampered")

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.ReplaceAll(corrupted))
	chain, err := ledger.Open(db)
	require.NoError(t, err)

	f := setupWith(t, chain)
	w, body := f.do(t, http.MethodPost, "/heal", map[string]any{
		"snapshots": []consensus.Snapshot{signed(t, trustedPeer, corrupted, f.peer)},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "no healthy candidate")

	w, body = f.do(t, http.MethodGet, "/blockchain/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, true, body["halted"])
	assert.NotEmpty(t, body["halted_reason"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", ingest.ErrInvalidTransaction), http.StatusBadRequest},
		{ledger.ErrHalted, http.StatusServiceUnavailable},
		{ledger.ErrInvalidAppend, http.StatusServiceUnavailable},
		{reputation.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", ledger.ErrNoSuchBlock), http.StatusNotFound},
		{consensus.ErrNoHealthyCandidate, http.StatusConflict},
		{ledger.ErrInvalidChain, http.StatusUnprocessableEntity},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
