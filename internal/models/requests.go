package models

import "time"

// AnalysisRequest represents one inbound interpretation call. Immutable once built.
type AnalysisRequest struct {
	Text        string
	ClientID    string
	Locale      string
	ContextHint ContextHint
	RequestedAt time.Time
}

// ContextHint carries auxiliary context supplied by the upstream computation
// layer (lunar phase, transits, prior cases). The pipeline embeds it in
// provider prompts without inspecting its meaning.
type ContextHint struct {
	LunarPhase   string
	Transits     []string
	SimilarCases []string
	Notes        string
}

// Empty reports whether the hint carries no usable context.
func (h ContextHint) Empty() bool {
	return h.LunarPhase == "" && len(h.Transits) == 0 && len(h.SimilarCases) == 0 && h.Notes == ""
}

// PreviewRequest captures filters for the symbol preview surface.
type PreviewRequest struct {
	Text   string
	Locale string
}

// SymbolPreview is the extraction-only view of a narrative: raw dictionary
// hits, the survivors of contextual validation and the decision log, without
// any provider involvement.
type SymbolPreview struct {
	Locale     string
	Candidates []CandidateSymbol
	Symbols    []ValidatedSymbol
	Decisions  []ValidationDecision
}
