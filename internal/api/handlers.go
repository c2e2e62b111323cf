package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oneiroscope/oneiro-engine/internal/models"
	"github.com/oneiroscope/oneiro-engine/internal/ratelimit"
)

// interpretationRequest is the POST body for the interpretations endpoint.
type interpretationRequest struct {
	Text        string           `json:"text" binding:"required"`
	ClientID    string           `json:"client_id"`
	Locale      string           `json:"locale"`
	ContextHint *wireContextHint `json:"context_hint"`
	RequestedAt *time.Time       `json:"requested_at"`
}

type wireContextHint struct {
	LunarPhase   string   `json:"lunar_phase"`
	Transits     []string `json:"transits"`
	SimilarCases []string `json:"similar_cases"`
	Notes        string   `json:"notes"`
}

func (r interpretationRequest) toDomain() models.AnalysisRequest {
	req := models.AnalysisRequest{
		Text:     r.Text,
		ClientID: r.ClientID,
		Locale:   r.Locale,
	}
	if r.ContextHint != nil {
		req.ContextHint = models.ContextHint{
			LunarPhase:   r.ContextHint.LunarPhase,
			Transits:     append([]string(nil), r.ContextHint.Transits...),
			SimilarCases: append([]string(nil), r.ContextHint.SimilarCases...),
			Notes:        r.ContextHint.Notes,
		}
	}
	if r.RequestedAt != nil {
		req.RequestedAt = *r.RequestedAt
	} else {
		req.RequestedAt = time.Now().UTC()
	}
	return req
}

type wireSymbol struct {
	SymbolID   string  `json:"symbol_id"`
	Archetype  string  `json:"archetype"`
	Matched    string  `json:"matched,omitempty"`
	Confidence float64 `json:"confidence"`
	Reinforced bool    `json:"reinforced,omitempty"`
}

type wireAttempt struct {
	Provider  string `json:"provider"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Tokens    int    `json:"tokens,omitempty"`
}

type wireResult struct {
	RequestID           string        `json:"request_id"`
	Locale              string        `json:"locale"`
	Interpretation      string        `json:"interpretation"`
	Mood                string        `json:"mood"`
	Intensity           float64       `json:"intensity"`
	Confidence          float64       `json:"confidence"`
	Symbols             []wireSymbol  `json:"symbols"`
	Sources             []string      `json:"sources,omitempty"`
	ModelUsed           string        `json:"model_used"`
	TokensUsed          int           `json:"tokens_used"`
	LatencyMs           int64         `json:"latency_ms"`
	RequiresHumanReview bool          `json:"requires_human_review"`
	Warnings            []string      `json:"warnings,omitempty"`
	Attempts            []wireAttempt `json:"attempts,omitempty"`
	Cached              bool          `json:"cached"`
	CreatedAt           time.Time     `json:"created_at"`
}

func toWireResult(res models.AnalysisResult) wireResult {
	out := wireResult{
		RequestID:           res.RequestID,
		Locale:              res.Locale,
		Interpretation:      res.Interpretation,
		Mood:                string(res.Mood),
		Intensity:           res.Intensity,
		Confidence:          res.Confidence,
		Symbols:             make([]wireSymbol, 0, len(res.Symbols)),
		Sources:             append([]string(nil), res.Sources...),
		ModelUsed:           res.ModelUsed,
		TokensUsed:          res.TokensUsed,
		LatencyMs:           res.LatencyMs,
		RequiresHumanReview: res.RequiresHumanReview,
		Warnings:            append([]string(nil), res.Warnings...),
		Cached:              res.Cached,
		CreatedAt:           res.CreatedAt,
	}
	for _, sym := range res.Symbols {
		out.Symbols = append(out.Symbols, wireSymbol{
			SymbolID:   sym.SymbolID,
			Archetype:  sym.Archetype,
			Matched:    sym.Matched,
			Confidence: sym.Confidence,
			Reinforced: sym.Reinforced,
		})
	}
	for _, att := range res.Attempts {
		out.Attempts = append(out.Attempts, wireAttempt{
			Provider:  att.Provider,
			Outcome:   string(att.Outcome),
			Reason:    att.Reason,
			LatencyMs: att.Latency.Milliseconds(),
			Tokens:    att.Tokens,
		})
	}
	return out
}

type wireCandidate struct {
	SymbolID     string  `json:"symbol_id"`
	Archetype    string  `json:"archetype"`
	Matched      string  `json:"matched"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
	Significance float64 `json:"significance"`
}

type wireDecision struct {
	SymbolID string  `json:"symbol_id"`
	Outcome  string  `json:"outcome"`
	RuleID   string  `json:"rule_id,omitempty"`
	Delta    float64 `json:"delta,omitempty"`
}

type wirePreview struct {
	Locale     string          `json:"locale"`
	Candidates []wireCandidate `json:"candidates"`
	Symbols    []wireSymbol    `json:"symbols"`
	Decisions  []wireDecision  `json:"decisions"`
}

func toWirePreview(preview models.SymbolPreview) wirePreview {
	out := wirePreview{
		Locale:     preview.Locale,
		Candidates: make([]wireCandidate, 0, len(preview.Candidates)),
		Symbols:    make([]wireSymbol, 0, len(preview.Symbols)),
		Decisions:  make([]wireDecision, 0, len(preview.Decisions)),
	}
	for _, c := range preview.Candidates {
		out.Candidates = append(out.Candidates, wireCandidate{
			SymbolID:     c.SymbolID,
			Archetype:    c.Archetype,
			Matched:      c.Matched,
			Start:        c.Start,
			End:          c.End,
			Significance: c.Significance,
		})
	}
	for _, s := range preview.Symbols {
		out.Symbols = append(out.Symbols, wireSymbol{
			SymbolID:   s.SymbolID,
			Archetype:  s.Archetype,
			Matched:    s.Matched,
			Confidence: s.Confidence,
			Reinforced: s.Reinforced,
		})
	}
	for _, d := range preview.Decisions {
		out.Decisions = append(out.Decisions, wireDecision{
			SymbolID: d.SymbolID,
			Outcome:  string(d.Outcome),
			RuleID:   d.RuleID,
			Delta:    d.Delta,
		})
	}
	return out
}

type wirePattern struct {
	ID            string    `json:"id"`
	Archetype     string    `json:"archetype"`
	Description   string    `json:"description"`
	TopSymbols    []string  `json:"top_symbols"`
	Prevalence    float64   `json:"prevalence"`
	AvgConfidence float64   `json:"avg_confidence"`
	LastSeen      time.Time `json:"last_seen"`
}

func toWirePatterns(patterns []models.SymbolPattern) []wirePattern {
	out := make([]wirePattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, wirePattern{
			ID:            p.ID,
			Archetype:     p.Archetype,
			Description:   p.Description,
			TopSymbols:    append([]string(nil), p.TopSymbols...),
			Prevalence:    p.Prevalence,
			AvgConfidence: p.AvgConfidence,
			LastSeen:      p.LastSeen,
		})
	}
	return out
}

func (s *Server) handleInterpret(c *gin.Context) {
	var req interpretationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeQuotaHeaders(c, c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	domainReq := req.toDomain()
	if domainReq.ClientID == "" {
		domainReq.ClientID = c.ClientIP()
	}

	result, err := s.service.Interpret(c.Request.Context(), domainReq)
	s.writeQuotaHeaders(c, domainReq.ClientID)
	if err != nil {
		var denied *ratelimit.DeniedError
		if errors.As(err, &denied) {
			retryAfter := int(time.Until(denied.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"denied":              true,
				"scope":               denied.Scope,
				"limit":               denied.Limit,
				"reset_at":            denied.ResetAt.UTC().Format(time.RFC3339),
				"retry_after_seconds": retryAfter,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toWireResult(result))
}

func (s *Server) handlePreview(c *gin.Context) {
	text := c.Query("text")
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	preview := s.service.Preview(models.PreviewRequest{Text: text, Locale: c.Query("locale")})
	c.JSON(http.StatusOK, toWirePreview(preview))
}

func (s *Server) handlePatterns(c *gin.Context) {
	patterns, err := s.service.Patterns(c.Request.Context(), c.Query("archetype"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": toWirePatterns(patterns)})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Health(c.Request.Context()))
}

// writeQuotaHeaders surfaces the caller's remaining budget without consuming
// it. Skipped when no limiter is wired.
func (s *Server) writeQuotaHeaders(c *gin.Context, clientID string) {
	quota := s.service.Quota(clientID)
	if quota.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(quota.Remaining))
	if !quota.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(quota.ResetAt.Unix(), 10))
	}
}
