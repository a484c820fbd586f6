// Package api exposes the ledger over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cybervault/meshledger/consensus"
	"github.com/cybervault/meshledger/ingest"
	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/reputation"
	"github.com/gin-gonic/gin"
)

// Server wires the HTTP routes to the ledger components.
type Server struct {
	chain      *ledger.Blockchain
	pipeline   *ingest.Pipeline
	reputation *reputation.Service
	healer     *consensus.Healer
	logger     *slog.Logger
}

// NewServer creates the API server. A nil logger discards request logs.
func NewServer(chain *ledger.Blockchain, pipeline *ingest.Pipeline, rep *reputation.Service, healer *consensus.Healer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		chain:      chain,
		pipeline:   pipeline,
		reputation: rep,
		healer:     healer,
		logger:     logger,
	}
}

// Router returns the gin engine serving every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/status", s.status)
	router.POST("/transactions", s.submitTransaction)
	router.GET("/transactions", s.listTransactions)
	router.GET("/transactions/pending", s.pendingTransactions)
	router.POST("/ai/fraud-detect", s.assessFraud)
	router.POST("/mesh/sync", s.meshSync)
	router.GET("/blockchain", s.getBlockchain)
	router.GET("/blockchain/blocks/:index", s.getBlock)
	router.GET("/blockchain/validate", s.validateBlockchain)
	router.POST("/reputation/update", s.updateReputation)
	router.GET("/reputation/:subject", s.queryReputation)
	router.POST("/heal", s.heal)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInvalidAppend):
		return http.StatusServiceUnavailable
	case errors.Is(err, reputation.ErrNotFound), errors.Is(err, ledger.ErrNoSuchBlock):
		return http.StatusNotFound
	case errors.Is(err, consensus.ErrNoHealthyCandidate):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidChain):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
