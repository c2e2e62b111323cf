package models

import "time"

// CandidateSymbol is a raw dictionary hit inside the narrative, prior to
// contextual validation. Many candidates per request are expected, including
// false positives.
type CandidateSymbol struct {
	SymbolID     string
	Archetype    string
	Matched      string
	Start        int
	End          int
	Significance float64
}

// ValidationOutcome enumerates contextual rule decisions.
type ValidationOutcome string

const (
	OutcomeInclude   ValidationOutcome = "include"
	OutcomeExclude   ValidationOutcome = "exclude"
	OutcomeReinforce ValidationOutcome = "reinforce"
)

// ValidationDecision records how one candidate fared against its rule set.
type ValidationDecision struct {
	SymbolID string
	Outcome  ValidationOutcome
	RuleID   string
	Delta    float64
}

// ValidatedSymbol is a candidate that survived contextual validation with its
// final confidence in [0,1].
type ValidatedSymbol struct {
	SymbolID   string
	Archetype  string
	Matched    string
	Confidence float64
	Reinforced bool
}

// ProviderDescriptor fixes one provider's place and budget in the cascade.
type ProviderDescriptor struct {
	ID          string
	CostTier    float64
	Timeout     time.Duration
	RetryBudget int
	MaxOutput   int
	Available   bool
}

// AttemptOutcome enumerates attempt-log states.
type AttemptOutcome string

const (
	AttemptSuccess           AttemptOutcome = "success"
	AttemptTransportFailure  AttemptOutcome = "transport_failure"
	AttemptStructuralFailure AttemptOutcome = "structural_failure"
	AttemptSkipped           AttemptOutcome = "skipped"
)

// ProviderAttempt is one append-only attempt-log entry. Entries are written
// once and never rewritten.
type ProviderAttempt struct {
	Provider string
	Outcome  AttemptOutcome
	Reason   string
	Latency  time.Duration
	Tokens   int
}

// Mood is the coarse emotional classification of a narrative.
type Mood string

const (
	MoodPositive Mood = "positive"
	MoodAnxious  Mood = "anxious"
	MoodNegative Mood = "negative"
	MoodNeutral  Mood = "neutral"
)

// ModelRuleBased identifies results produced without any provider.
const ModelRuleBased = "rule-based"

// AnalysisResult is the final pipeline output for one request.
type AnalysisResult struct {
	RequestID           string
	Locale              string
	Interpretation      string
	Mood                Mood
	Intensity           float64
	Confidence          float64
	Symbols             []ValidatedSymbol
	Sources             []string
	ModelUsed           string
	TokensUsed          int
	LatencyMs           int64
	RequiresHumanReview bool
	Warnings            []string
	Attempts            []ProviderAttempt
	Cached              bool
	CreatedAt           time.Time
}
