package engine

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

const (
	qaShortLength          = 120
	qaShortFactor          = 0.75
	qaNoSymbolsFactor      = 0.80
	qaUncertaintyFactor    = 0.90
	qaMultiSourceFactor    = 1.10
	qaContextFactor        = 1.05
	qaHallucinationPenalty = 0.15
	qaMinConfidence        = 0.30
	qaMaxConfidence        = 0.98
)

var uncertaintyMarkers = []string{
	"might", "perhaps", "possibly", "unclear", "hard to say", "difficult to say",
	"возможно", "может быть", "не ясно", "неясно", "трудно сказать", "сложно сказать",
}

// defaultDenylist holds claims an interpretation must never assert. A hit
// costs a flat penalty and produces a warning.
var defaultDenylist = []string{
	"you will die", "going to die", "will get sick", "diagnos", "disease", "cancer",
	"guaranteed to", "certainly will", "lottery", "curse", "cursed",
	"вы умрете", "вы умрёте", "скоро умр", "заболеете", "диагноз", "болезнь",
	"гарантированно", "лотере", "проклят", "сглаз",
}

// QualityAssessment is the recalibrated verdict for one interpretation.
type QualityAssessment struct {
	Confidence          float64
	RequiresHumanReview bool
	Warnings            []string
}

// QualityGate recalibrates a provider's self-reported confidence against
// observable properties of the answer.
type QualityGate struct {
	logger          *slog.Logger
	reviewThreshold float64
	denylist        []string
}

// NewQualityGate constructs a QualityGate. Threshold values outside (0,1]
// fall back to 0.60.
func NewQualityGate(logger *slog.Logger, reviewThreshold float64) *QualityGate {
	if logger == nil {
		logger = slog.Default()
	}
	if reviewThreshold <= 0 || reviewThreshold > 1 {
		reviewThreshold = 0.60
	}
	return &QualityGate{
		logger:          logger,
		reviewThreshold: reviewThreshold,
		denylist:        defaultDenylist,
	}
}

// Assess applies the multiplicative factors and the denylist to the reported
// confidence. The result is clamped to [qaMinConfidence, qaMaxConfidence] and
// flagged for review when it falls below the configured threshold.
func (g *QualityGate) Assess(reported float64, interpretation string, symbols []models.ValidatedSymbol, sources []string, hasContext bool) QualityAssessment {
	confidence := clamp(reported, 0, 1)
	lower := strings.ToLower(interpretation)
	var warnings []string

	if utf8.RuneCountInString(interpretation) < qaShortLength {
		confidence *= qaShortFactor
	}
	if len(symbols) == 0 {
		confidence *= qaNoSymbolsFactor
	}
	if containsAny(lower, uncertaintyMarkers) {
		confidence *= qaUncertaintyFactor
	}
	if len(sources) >= 2 {
		confidence *= qaMultiSourceFactor
	}
	if hasContext {
		confidence *= qaContextFactor
	}

	for _, phrase := range g.denylist {
		if strings.Contains(lower, phrase) {
			confidence -= qaHallucinationPenalty
			warnings = append(warnings, "interpretation makes an unsupported claim: "+phrase)
			break
		}
	}

	confidence = clamp(confidence, qaMinConfidence, qaMaxConfidence)
	review := confidence < g.reviewThreshold

	g.logger.Debug("quality assessment",
		slog.Float64("reported", reported),
		slog.Float64("calibrated", confidence),
		slog.Bool("review", review))

	return QualityAssessment{
		Confidence:          confidence,
		RequiresHumanReview: review,
		Warnings:            warnings,
	}
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
