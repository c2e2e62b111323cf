package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.SymbolPattern) error
}

// Miner aggregates recent interpretation results into archetype-level
// frequency patterns: which archetypes keep surfacing, through which symbols
// and with how much trust.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine walks results and returns aggregated patterns by archetype, most
// prevalent first.
func (m *Miner) Mine(ctx context.Context, results []models.AnalysisResult) ([]models.SymbolPattern, error) {
	if len(results) == 0 {
		return nil, nil
	}

	stats := make(map[string]*archetypeAggregate)
	for _, result := range results {
		seen := make(map[string]struct{})
		for _, symbol := range result.Symbols {
			agg := ensureAggregate(stats, symbol.Archetype)
			agg.symbolCounts[symbol.SymbolID]++
			agg.confidenceSum += symbol.Confidence
			agg.symbolHits++
			if result.CreatedAt.After(agg.lastSeen) {
				agg.lastSeen = result.CreatedAt
			}
			seen[normalizeArchetype(symbol.Archetype)] = struct{}{}
		}
		// Prevalence counts narratives, not symbol occurrences.
		for archetype := range seen {
			stats[archetype].narratives++
		}
	}

	mined := make([]models.SymbolPattern, 0, len(stats))
	for archetype, agg := range stats {
		if agg.symbolHits == 0 {
			continue
		}
		top := agg.topSymbols(3)
		mined = append(mined, models.SymbolPattern{
			ID:            "pattern-" + archetype,
			Archetype:     archetype,
			Description:   describe(archetype, top),
			TopSymbols:    top,
			Prevalence:    float64(agg.narratives) / float64(len(results)),
			AvgConfidence: agg.confidenceSum / float64(agg.symbolHits),
			LastSeen:      agg.lastSeen,
		})
	}

	sort.Slice(mined, func(i, j int) bool {
		if mined[i].Prevalence != mined[j].Prevalence {
			return mined[i].Prevalence > mined[j].Prevalence
		}
		return mined[i].Archetype < mined[j].Archetype
	})

	if m.store != nil && len(mined) > 0 {
		if err := m.store.StorePatterns(ctx, mined); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return mined, nil
}

type archetypeAggregate struct {
	narratives    int
	symbolHits    int
	confidenceSum float64
	lastSeen      time.Time
	symbolCounts  map[string]int
}

func normalizeArchetype(archetype string) string {
	if archetype == "" {
		return "unclassified"
	}
	return archetype
}

func ensureAggregate(m map[string]*archetypeAggregate, archetype string) *archetypeAggregate {
	archetype = normalizeArchetype(archetype)
	agg, ok := m[archetype]
	if !ok {
		agg = &archetypeAggregate{symbolCounts: make(map[string]int)}
		m[archetype] = agg
	}
	return agg
}

func (agg *archetypeAggregate) topSymbols(limit int) []string {
	symbols := make([]string, 0, len(agg.symbolCounts))
	for id := range agg.symbolCounts {
		symbols = append(symbols, id)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if agg.symbolCounts[symbols[i]] != agg.symbolCounts[symbols[j]] {
			return agg.symbolCounts[symbols[i]] > agg.symbolCounts[symbols[j]]
		}
		return symbols[i] < symbols[j]
	})
	if len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return symbols
}

func describe(archetype string, top []string) string {
	if len(top) == 0 {
		return "Auto-mined cluster for the " + archetype + " archetype"
	}
	return "Auto-mined cluster for the " + archetype + " archetype, led by " + strings.Join(top, ", ")
}
