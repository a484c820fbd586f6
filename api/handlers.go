package api

import (
	"net/http"
	"strconv"

	"github.com/cybervault/meshledger/consensus"
	"github.com/cybervault/meshledger/ingest"
	"github.com/cybervault/meshledger/reputation"
	"github.com/gin-gonic/gin"
)

type receipt struct {
	Receipt     string             `json:"receipt"`
	BlockIndex  int                `json:"block_index"`
	Transaction ingest.Transaction `json:"transaction"`
}

type reputationRequest struct {
	SubjectID string               `json:"subject_id" binding:"required"`
	History   []ingest.Transaction `json:"history"`
	Feedback  []string             `json:"feedback"`
}

type healRequest struct {
	Snapshots []consensus.Snapshot `json:"snapshots"`
}

func (s *Server) submitTransaction(c *gin.Context) {
	var tx ingest.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction body"})
		return
	}
	block, err := s.pipeline.Submit(&tx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt{Receipt: block.Hash, BlockIndex: block.Index, Transaction: tx})
}

func (s *Server) meshSync(c *gin.Context) {
	var txs []ingest.Transaction
	if err := c.ShouldBindJSON(&txs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a list of transactions"})
		return
	}
	appended := s.pipeline.SubmitBatch(txs)
	c.JSON(http.StatusOK, gin.H{"received": len(txs), "appended": appended})
}

func (s *Server) listTransactions(c *gin.Context) {
	var keep func(ingest.Transaction) bool
	if raw := c.Query("status"); raw != "" {
		status := ingest.Status(raw)
		if !status.Known() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(raw)})
			return
		}
		keep = func(tx ingest.Transaction) bool { return tx.Status == status }
	}
	txs := s.pipeline.Transactions(s.chain.CurrentChain(), keep)
	c.JSON(http.StatusOK, gin.H{"count": len(txs), "transactions": txs})
}

// pendingTransactions lists the transactions not yet confirmed or failed.
func (s *Server) pendingTransactions(c *gin.Context) {
	txs := s.pipeline.Transactions(s.chain.CurrentChain(), func(tx ingest.Transaction) bool {
		return !tx.Status.Terminal()
	})
	c.JSON(http.StatusOK, gin.H{"count": len(txs), "transactions": txs})
}

func (s *Server) assessFraud(c *gin.Context) {
	var tx ingest.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction body"})
		return
	}
	c.JSON(http.StatusOK, s.pipeline.Assess(tx))
}

func (s *Server) status(c *gin.Context) {
	halted, reason := s.chain.Halted()
	body := gin.H{
		"status": "running",
		"length": s.chain.Len(),
		"epoch":  s.chain.Epoch(),
		"halted": halted,
	}
	if halted {
		body["status"] = "halted"
		body["halted_reason"] = reason
	}
	if tip, err := s.chain.GetLatest(); err == nil {
		body["tip"] = gin.H{"index": tip.Index, "hash": tip.Hash, "timestamp": tip.Timestamp}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getBlockchain(c *gin.Context) {
	chain, epoch := s.chain.Snapshot()
	c.JSON(http.StatusOK, gin.H{"length": len(chain), "epoch": epoch, "blocks": chain})
}

func (s *Server) getBlock(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "block index must be an integer"})
		return
	}
	block, err := s.chain.GetByIndex(index)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

func (s *Server) validateBlockchain(c *gin.Context) {
	halted, reason := s.chain.Halted()
	body := gin.H{"valid": true, "length": s.chain.Len(), "halted": halted}
	if halted {
		body["halted_reason"] = reason
	}
	if err := s.chain.Verify(); err != nil {
		body["valid"] = false
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) updateReputation(c *gin.Context) {
	var req reputationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id is required"})
		return
	}
	score, hash, err := s.reputation.Update(req.SubjectID, req.History, req.Feedback)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": req.SubjectID, "score": score, "digest": reputation.Digest(req.SubjectID, score), "block_hash": hash})
}

func (s *Server) queryReputation(c *gin.Context) {
	subject := c.Param("subject")
	score, err := s.reputation.Query(subject)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": subject, "score": score})
}

func (s *Server) heal(c *gin.Context) {
	var req healRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a list of signed peer snapshots"})
		return
	}
	outcome, err := s.healer.HealSigned(req.Snapshots)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":   outcome.Kind.String(),
		"digest":    outcome.Digest,
		"votes":     outcome.Votes,
		"length":    outcome.Length,
		"discarded": outcome.Discarded,
	})
}
