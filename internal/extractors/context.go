package extractors

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/oneiroscope/oneiro-engine/internal/knowledge"
	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// contextRadius is how many runes around a match the rule patterns see.
const contextRadius = 80

// Validator applies a dictionary's contextual rules to raw candidates.
// Exclusion is terminal: an excluded candidate is never reinforced. Survivors
// are deduplicated per symbol keeping the highest confidence and returned in
// descending confidence order.
type Validator struct {
	logger *slog.Logger
	rules  map[string]symbolRules
}

type symbolRules struct {
	exclusions     []compiledExclusion
	reinforcements []compiledReinforcement
}

type compiledExclusion struct {
	rule knowledge.ExclusionRule
	re   *regexp.Regexp
}

type compiledReinforcement struct {
	rule knowledge.ReinforcementRule
	re   *regexp.Regexp
}

// NewValidator compiles every rule pattern up front so validation itself
// never fails.
func NewValidator(base *knowledge.Base, logger *slog.Logger) (*Validator, error) {
	if base == nil {
		return nil, fmt.Errorf("symbol dictionary is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rules := make(map[string]symbolRules, base.Len())
	for _, entry := range base.Symbols() {
		var sr symbolRules
		for _, excl := range entry.Exclusions {
			re, err := regexp.Compile(`(?i)` + excl.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile exclusion %s/%s: %w", entry.ID, excl.ID, err)
			}
			sr.exclusions = append(sr.exclusions, compiledExclusion{rule: excl, re: re})
		}
		for _, reinf := range entry.Reinforcements {
			re, err := regexp.Compile(`(?i)` + reinf.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile reinforcement %s/%s: %w", entry.ID, reinf.ID, err)
			}
			sr.reinforcements = append(sr.reinforcements, compiledReinforcement{rule: reinf, re: re})
		}
		rules[entry.ID] = sr
	}

	return &Validator{logger: logger, rules: rules}, nil
}

// Validate filters candidates against their symbol's rules. The decision log
// records one exclude entry per dropped candidate, one reinforce entry per
// fired rule and one include entry per survivor with no fired rules.
func (v *Validator) Validate(text string, candidates []models.CandidateSymbol) ([]models.ValidatedSymbol, []models.ValidationDecision) {
	var decisions []models.ValidationDecision
	var survivors []models.ValidatedSymbol

	for _, cand := range candidates {
		window := contextWindow(text, cand.Start, cand.End)
		sr := v.rules[cand.SymbolID]

		if rule, excluded := v.excluded(sr, cand, window); excluded {
			decisions = append(decisions, models.ValidationDecision{
				SymbolID: cand.SymbolID,
				Outcome:  models.OutcomeExclude,
				RuleID:   rule,
			})
			continue
		}

		confidence := cand.Significance
		reinforced := false
		for _, reinf := range sr.reinforcements {
			if !reinf.re.MatchString(window) {
				continue
			}
			confidence += reinf.rule.Delta
			reinforced = true
			decisions = append(decisions, models.ValidationDecision{
				SymbolID: cand.SymbolID,
				Outcome:  models.OutcomeReinforce,
				RuleID:   reinf.rule.ID,
				Delta:    reinf.rule.Delta,
			})
		}
		if !reinforced {
			decisions = append(decisions, models.ValidationDecision{
				SymbolID: cand.SymbolID,
				Outcome:  models.OutcomeInclude,
			})
		}
		if confidence > 1 {
			confidence = 1
		}

		survivors = append(survivors, models.ValidatedSymbol{
			SymbolID:   cand.SymbolID,
			Archetype:  cand.Archetype,
			Matched:    cand.Matched,
			Confidence: confidence,
			Reinforced: reinforced,
		})
	}

	survivors = dedupeHighest(survivors)
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Confidence != survivors[j].Confidence {
			return survivors[i].Confidence > survivors[j].Confidence
		}
		return survivors[i].SymbolID < survivors[j].SymbolID
	})

	v.logger.Debug("contextual validation complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("validated", len(survivors)))
	return survivors, decisions
}

func (v *Validator) excluded(sr symbolRules, cand models.CandidateSymbol, window string) (string, bool) {
	matched := strings.ToLower(cand.Matched)
	for _, excl := range sr.exclusions {
		if !triggerApplies(excl.rule.Triggers, matched) {
			continue
		}
		if excl.re.MatchString(window) {
			return excl.rule.ID, true
		}
	}
	return "", false
}

// triggerApplies narrows an exclusion to specific matched words. An empty
// trigger list applies to every candidate of the symbol.
func triggerApplies(triggers []string, matched string) bool {
	if len(triggers) == 0 {
		return true
	}
	for _, t := range triggers {
		if strings.EqualFold(t, matched) {
			return true
		}
	}
	return false
}

// dedupeHighest keeps one survivor per symbol id, preferring the highest
// confidence occurrence.
func dedupeHighest(in []models.ValidatedSymbol) []models.ValidatedSymbol {
	if len(in) < 2 {
		return in
	}
	best := make(map[string]int, len(in))
	out := in[:0]
	for _, sym := range in {
		idx, seen := best[sym.SymbolID]
		if !seen {
			best[sym.SymbolID] = len(out)
			out = append(out, sym)
			continue
		}
		if sym.Confidence > out[idx].Confidence {
			out[idx] = sym
		}
	}
	return out
}

// contextWindow slices the rune neighbourhood of a match without splitting
// UTF-8 sequences.
func contextWindow(text string, start, end int) string {
	ws := start
	for i := 0; i < contextRadius && ws > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:ws])
		ws -= size
	}
	we := end
	for i := 0; i < contextRadius && we < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[we:])
		we += size
	}
	return text[ws:we]
}
