// Package server exposes the conversational fill pipeline over HTTP. One
// turn comes in as free text or a pre-structured candidate, runs through
// extraction and the fill orchestrator, and returns its terminal outcome.
// All return-scoped routes require a bearer token.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"taxpilot/internal/browser"
	"taxpilot/internal/config"
	"taxpilot/internal/extract"
	"taxpilot/internal/fill"
	"taxpilot/internal/logging"
	"taxpilot/internal/nlu"
	"taxpilot/internal/review"
	"taxpilot/internal/schema"

	"github.com/gin-gonic/gin"
)

// FillResult is the terminal outcome of one submitted turn.
type FillResult struct {
	TaskID   string      `json:"task_id"`
	Status   fill.Status `json:"status"`
	Reason   string      `json:"reason,omitempty"`
	Attempts int         `json:"attempts"`
}

// FillService is the orchestrator surface the handlers need. Narrow so
// tests can script it.
type FillService interface {
	Fill(ctx context.Context, userID string, entry extract.SlipEntry) (FillResult, error)
	RemoveSlip(ctx context.Context, userID string, slipType schema.SlipType, issuer string, taxYear int) error
	ReadSlip(ctx context.Context, slipType schema.SlipType, issuer string, taxYear int) ([]browser.SlipField, error)
}

// OrchestratorService adapts *fill.Orchestrator to FillService.
type OrchestratorService struct {
	O *fill.Orchestrator
}

func (s OrchestratorService) Fill(ctx context.Context, userID string, entry extract.SlipEntry) (FillResult, error) {
	task, err := s.O.Submit(ctx, userID, entry)
	if err != nil {
		return FillResult{}, err
	}
	return FillResult{
		TaskID:   task.ID,
		Status:   task.Status(),
		Reason:   task.Reason(),
		Attempts: task.Attempts(),
	}, nil
}

func (s OrchestratorService) RemoveSlip(ctx context.Context, userID string, slipType schema.SlipType, issuer string, taxYear int) error {
	return s.O.RemoveSlip(ctx, userID, slipType, issuer, taxYear)
}

func (s OrchestratorService) ReadSlip(ctx context.Context, slipType schema.SlipType, issuer string, taxYear int) ([]browser.SlipField, error) {
	return s.O.ReadSlip(ctx, slipType, issuer, taxYear)
}

// Server wires the HTTP surface.
type Server struct {
	cfg        *config.Config
	normalizer *extract.Normalizer
	filler     FillService
	summarizer *review.Summarizer
	extractor  nlu.Extractor // nil when NLU is disabled
}

func New(cfg *config.Config, normalizer *extract.Normalizer, filler FillService, summarizer *review.Summarizer, extractor nlu.Extractor) *Server {
	return &Server{
		cfg:        cfg,
		normalizer: normalizer,
		filler:     filler,
		summarizer: summarizer,
		extractor:  extractor,
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.POST("/auth/token", s.handleToken)

	api := router.Group("/api/v1")
	api.Use(AuthMiddleware(&s.cfg.Server))
	{
		api.POST("/turns", s.handleTurn)
		api.GET("/returns/:year/summary", s.handleSummary)
		api.GET("/returns/:year/history", s.handleHistory)
		api.GET("/returns/:year/slips/:slipType", s.handleReadSlip)
		api.DELETE("/returns/:year/slips/:slipType", s.handleRemoveSlip)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.Version})
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// handleToken mints a bearer token. Local single-user deployment: the token
// scopes store rows per user, it is not an identity system.
func (s *Server) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if s.cfg.Server.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no signing secret configured"})
		return
	}

	token, expiresAt, err := GenerateToken(req.UserID, &s.cfg.Server)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.Format("2006-01-02T15:04:05Z07:00"),
		"user_id":    req.UserID,
	})
}

type turnRequest struct {
	Utterance string             `json:"utterance,omitempty"`
	Candidate *extract.Candidate `json:"candidate,omitempty"`
}

// handleTurn runs one user turn through the full pipeline. Validation
// failures come back as 422 with the clarification question; browser
// outcomes come back as the task's terminal state.
func (s *Server) handleTurn(c *gin.Context) {
	userID := GetUserID(c)

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var cand extract.Candidate
	switch {
	case req.Candidate != nil:
		cand = *req.Candidate
	case strings.TrimSpace(req.Utterance) != "":
		if s.extractor == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "free-text turns disabled: no extraction model configured"})
			return
		}
		var err error
		cand, err = s.extractor.ExtractCandidate(c.Request.Context(), req.Utterance)
		if err != nil {
			logging.APIError("turn extraction failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not understand the statement"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "utterance or candidate required"})
		return
	}

	entry, err := s.normalizer.Normalize(cand)
	if err != nil {
		var clarify *extract.NeedsClarification
		if errors.As(err, &clarify) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"needs_clarification": clarify})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.filler.Fill(c.Request.Context(), userID, entry)
	if err != nil {
		if errors.Is(err, fill.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "fill queue full, retry shortly"})
			return
		}
		logging.APIError("fill failed for %s: %v", entry.Key(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": entry, "result": result})
}

func (s *Server) handleSummary(c *gin.Context) {
	userID := GetUserID(c)
	year, ok := s.parseYear(c)
	if !ok {
		return
	}

	summary, err := s.summarizer.Summarize(userID, year)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleHistory(c *gin.Context) {
	userID := GetUserID(c)
	year, ok := s.parseYear(c)
	if !ok {
		return
	}

	history, err := s.summarizer.History(userID, year)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tax_year": year, "records": history})
}

func (s *Server) handleReadSlip(c *gin.Context) {
	year, ok := s.parseYear(c)
	if !ok {
		return
	}
	slipType := schema.SlipType(strings.ToUpper(c.Param("slipType")))
	issuer := c.Query("issuer")

	fields, err := s.filler.ReadSlip(c.Request.Context(), slipType, issuer, year)
	if err != nil {
		s.slipError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slip_type": slipType, "issuer": issuer, "fields": fields})
}

func (s *Server) handleRemoveSlip(c *gin.Context) {
	userID := GetUserID(c)
	year, ok := s.parseYear(c)
	if !ok {
		return
	}
	slipType := schema.SlipType(strings.ToUpper(c.Param("slipType")))
	issuer := c.Query("issuer")

	if err := s.filler.RemoveSlip(c.Request.Context(), userID, slipType, issuer, year); err != nil {
		s.slipError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": slipType, "issuer": issuer, "tax_year": year})
}

func (s *Server) slipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schema.ErrUnknownSlipType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, fill.ErrSlipNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// parseYear reads and bounds-checks the :year route parameter.
func (s *Server) parseYear(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tax year"})
		return 0, false
	}
	r := s.cfg.Return
	if year < r.MinYear || year > r.MaxYear {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unsupported tax year",
			"range": gin.H{"min": r.MinYear, "max": r.MaxYear},
		})
		return 0, false
	}
	return year, true
}
