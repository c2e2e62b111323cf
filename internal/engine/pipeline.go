package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oneiroscope/oneiro-engine/internal/extractors"
	"github.com/oneiroscope/oneiro-engine/internal/models"
	"github.com/oneiroscope/oneiro-engine/internal/ratelimit"
	"github.com/oneiroscope/oneiro-engine/internal/utils"
)

// maxNarrativeRunes caps how much of a narrative the pipeline will read.
const maxNarrativeRunes = 4000

// similarCaseLimit is how many archived cases are pulled into the prompt.
const similarCaseLimit = 3

// Admitter gates requests before any interpretation work happens.
type Admitter interface {
	Admit(clientID string) (ratelimit.Quota, error)
}

// CaseArchive supplies related past narratives and persists finished ones.
type CaseArchive interface {
	SimilarNarratives(ctx context.Context, symbols []models.ValidatedSymbol, locale string, limit int) ([]models.ArchiveCase, error)
	StoreCase(ctx context.Context, result models.AnalysisResult) error
}

// Orchestrator runs the full interpretation flow: admission, text
// preparation, symbol extraction, contextual validation, provider cascade
// and quality gating, with the rule-based composer as the terminal fallback.
type Orchestrator struct {
	logger    *slog.Logger
	admitter  Admitter
	matcher   *extractors.Matcher
	validator *extractors.Validator
	tone      *ToneEngine
	cascade   *Cascade
	fallback  *FallbackComposer
	quality   *QualityGate
	archive   CaseArchive
	deadline  time.Duration
}

// NewOrchestrator constructs the pipeline. The archive may be nil; every
// other collaborator is required.
func NewOrchestrator(
	logger *slog.Logger,
	admitter Admitter,
	matcher *extractors.Matcher,
	validator *extractors.Validator,
	tone *ToneEngine,
	cascade *Cascade,
	fallback *FallbackComposer,
	quality *QualityGate,
	archive CaseArchive,
	deadline time.Duration,
) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if admitter == nil {
		return nil, fmt.Errorf("admitter not configured")
	}
	if matcher == nil || validator == nil {
		return nil, fmt.Errorf("symbol extraction not configured")
	}
	if cascade == nil {
		return nil, fmt.Errorf("provider cascade not configured")
	}
	if tone == nil {
		tone = NewToneEngine(logger)
	}
	if fallback == nil {
		fallback = NewFallbackComposer(logger)
	}
	if quality == nil {
		quality = NewQualityGate(logger, 0)
	}
	if deadline <= 0 {
		deadline = CascadeDeadline(cascade.Providers(), 120*time.Second)
	}

	return &Orchestrator{
		logger:    logger,
		admitter:  admitter,
		matcher:   matcher,
		validator: validator,
		tone:      tone,
		cascade:   cascade,
		fallback:  fallback,
		quality:   quality,
		archive:   archive,
		deadline:  deadline,
	}, nil
}

// Process interprets one narrative. The only error it returns is an admission
// denial; every internal failure degrades to the rule-based fallback so an
// admitted request always yields a result.
func (o *Orchestrator) Process(ctx context.Context, req models.AnalysisRequest) (result models.AnalysisResult, err error) {
	if _, admitErr := o.admitter.Admit(req.ClientID); admitErr != nil {
		return models.AnalysisResult{}, admitErr
	}

	start := time.Now()
	requestID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panic recovered",
				slog.String("request_id", requestID),
				slog.Any("panic", r))
			result = o.ruleBasedResult(requestID, start, "en", ToneResult{Mood: models.MoodNeutral, Intensity: minIntensity},
				nil, nil, []string{"internal fault, rule-based interpretation served"})
			err = nil
		}
	}()

	narrative, locale, warnings := o.prepare(req)
	if narrative == "" {
		return o.ruleBasedResult(requestID, start, locale, ToneResult{Mood: models.MoodNeutral, Intensity: minIntensity},
			nil, nil, append(warnings, "empty narrative")), nil
	}

	candidates := o.matcher.Match(narrative)
	symbols, decisions := o.validator.Validate(narrative, candidates)
	for _, d := range decisions {
		o.logger.Debug("validation decision",
			slog.String("request_id", requestID),
			slog.String("symbol", d.SymbolID),
			slog.String("outcome", string(d.Outcome)),
			slog.String("rule", d.RuleID))
	}

	toneResult := o.tone.Evaluate(narrative, symbols)

	var cases []models.ArchiveCase
	if o.archive != nil {
		archived, archiveErr := o.archive.SimilarNarratives(ctx, symbols, locale, similarCaseLimit)
		if archiveErr != nil {
			o.logger.Warn("similar case lookup failed", slog.Any("error", archiveErr))
		} else {
			cases = archived
		}
	}

	prompt := buildPrompt(narrative, locale, symbols, toneResult, req.ContextHint, cases)

	cascadeCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()
	answer, attempts, cascadeErr := o.cascade.Run(cascadeCtx, prompt)
	if cascadeErr != nil {
		result = o.ruleBasedResult(requestID, start, locale, toneResult, symbols, attempts,
			append(warnings, "all providers failed, rule-based interpretation served"))
		o.storeCase(result)
		return result, nil
	}

	hasContext := !req.ContextHint.Empty() || len(cases) > 0
	assessment := o.quality.Assess(answer.Confidence, answer.Interpretation, symbols, answer.Sources, hasContext)

	result = models.AnalysisResult{
		RequestID:           requestID,
		Locale:              locale,
		Interpretation:      answer.Interpretation,
		Mood:                answer.Mood,
		Intensity:           toneResult.Intensity,
		Confidence:          assessment.Confidence,
		Symbols:             symbols,
		Sources:             answer.Sources,
		ModelUsed:           modelLabel(answer),
		TokensUsed:          answer.Tokens,
		LatencyMs:           utils.MillisSince(start),
		RequiresHumanReview: assessment.RequiresHumanReview,
		Warnings:            append(warnings, assessment.Warnings...),
		Attempts:            attempts,
		CreatedAt:           time.Now().UTC(),
	}

	o.storeCase(result)
	return result, nil
}

// prepare normalizes the narrative, resolves the locale and truncates
// overlong input.
func (o *Orchestrator) prepare(req models.AnalysisRequest) (string, string, []string) {
	var warnings []string
	narrative := utils.NormalizeNarrative(req.Text)

	locale := strings.ToLower(strings.TrimSpace(req.Locale))
	if locale != "en" && locale != "ru" {
		locale = utils.DetectLanguage(narrative)
	}

	truncated := utils.TruncateRunes(narrative, maxNarrativeRunes)
	if truncated != narrative {
		warnings = append(warnings, "narrative truncated")
		narrative = truncated
	}
	return narrative, locale, warnings
}

func (o *Orchestrator) ruleBasedResult(
	requestID string,
	start time.Time,
	locale string,
	toneResult ToneResult,
	symbols []models.ValidatedSymbol,
	attempts []models.ProviderAttempt,
	warnings []string,
) models.AnalysisResult {
	text, confidence := o.fallback.Compose(locale, toneResult, symbols)
	return models.AnalysisResult{
		RequestID:           requestID,
		Locale:              locale,
		Interpretation:      text,
		Mood:                toneResult.Mood,
		Intensity:           toneResult.Intensity,
		Confidence:          confidence,
		Symbols:             symbols,
		Sources:             []string{"symbol dictionary"},
		ModelUsed:           models.ModelRuleBased,
		LatencyMs:           utils.MillisSince(start),
		RequiresHumanReview: true,
		Warnings:            warnings,
		Attempts:            attempts,
		CreatedAt:           time.Now().UTC(),
	}
}

// storeCase persists a finished result without blocking the response path.
func (o *Orchestrator) storeCase(result models.AnalysisResult) {
	if o.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.archive.StoreCase(ctx, result); err != nil {
			o.logger.Warn("failed to persist case", slog.Any("error", err))
		}
	}()
}

func modelLabel(answer CascadeResult) string {
	if answer.Model != "" {
		return answer.Model
	}
	return answer.Provider
}

// buildPrompt assembles the instruction set. The system prompt pins the JSON
// contract; the user prompt carries the narrative plus everything the engine
// already knows about it.
func buildPrompt(
	narrative, locale string,
	symbols []models.ValidatedSymbol,
	toneResult ToneResult,
	hint models.ContextHint,
	cases []models.ArchiveCase,
) models.Prompt {
	var system string
	if locale == "ru" {
		system = "Ты — внимательный толкователь снов. Ответь строго одним JSON-объектом с полями " +
			`"interpretation" (строка, развёрнутое толкование), "mood" (positive|anxious|negative|neutral), ` +
			`"confidence" (число от 0 до 1) и "sources" (массив строк с опорными традициями толкования). ` +
			"Не добавляй текст вне JSON. Не предсказывай болезни, смерть или гарантированные события."
	} else {
		system = "You are a careful dream interpreter. Reply with exactly one JSON object with the fields " +
			`"interpretation" (string, a thorough reading), "mood" (positive|anxious|negative|neutral), ` +
			`"confidence" (number between 0 and 1) and "sources" (array of interpretive traditions relied on). ` +
			"No text outside the JSON. Never predict illness, death or guaranteed events."
	}

	var b strings.Builder
	b.WriteString("Narrative:\n")
	b.WriteString(narrative)
	b.WriteString("\n")

	if len(symbols) > 0 {
		b.WriteString("\nValidated symbols (confidence):\n")
		for _, s := range symbols {
			fmt.Fprintf(&b, "- %s / %s (%.2f)\n", s.SymbolID, s.Archetype, s.Confidence)
		}
	}
	fmt.Fprintf(&b, "\nDetected mood: %s, intensity %.2f\n", toneResult.Mood, toneResult.Intensity)

	if hint.LunarPhase != "" {
		fmt.Fprintf(&b, "Lunar phase: %s\n", hint.LunarPhase)
	}
	if len(hint.Transits) > 0 {
		fmt.Fprintf(&b, "Active transits: %s\n", strings.Join(hint.Transits, ", "))
	}
	if hint.Notes != "" {
		fmt.Fprintf(&b, "Client notes: %s\n", hint.Notes)
	}
	for i, sc := range hint.SimilarCases {
		if i == 0 {
			b.WriteString("\nClient-provided related dreams:\n")
		}
		fmt.Fprintf(&b, "- %s\n", sc)
	}
	for i, c := range cases {
		if i == 0 {
			b.WriteString("\nRelated past cases:\n")
		}
		fmt.Fprintf(&b, "- %s\n", c.Summary)
	}

	return models.Prompt{System: system, User: b.String(), MaxOutput: 1024}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
