package models

import "time"

// SymbolPattern represents an aggregate mined from recent analysis results:
// how often an archetype surfaces, through which symbols, and with what trust.
type SymbolPattern struct {
	ID            string
	Archetype     string
	Description   string
	TopSymbols    []string
	Prevalence    float64
	AvgConfidence float64
	LastSeen      time.Time
}
