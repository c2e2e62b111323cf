package models

import "time"

// ArchiveCase is a previously interpreted narrative retrieved for grounding.
type ArchiveCase struct {
	ID             string
	Summary        string
	Interpretation string
	Symbols        []string
	Confidence     float64
	CreatedAt      time.Time
}
