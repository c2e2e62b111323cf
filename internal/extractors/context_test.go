package extractors

import (
	"strings"
	"testing"

	"github.com/oneiroscope/oneiro-engine/internal/knowledge"
	"github.com/oneiroscope/oneiro-engine/internal/models"
)

func defaultValidator(t *testing.T) (*Matcher, *Validator) {
	t.Helper()
	base, err := knowledge.Default()
	if err != nil {
		t.Fatalf("default dictionary: %v", err)
	}
	m, err := NewMatcher(base, nil)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	v, err := NewValidator(base, nil)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return m, v
}

func customValidator(t *testing.T, entries []knowledge.SymbolEntry) (*Matcher, *Validator) {
	t.Helper()
	base, err := knowledge.New(entries)
	if err != nil {
		t.Fatalf("custom dictionary: %v", err)
	}
	m, err := NewMatcher(base, nil)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	v, err := NewValidator(base, nil)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return m, v
}

func TestValidateRentalCarNarrative(t *testing.T) {
	m, v := defaultValidator(t)
	text := "I rented a car. I removed coins with trackers from the glovebox and threw them out the window."

	validated, decisions := v.Validate(text, m.Match(text))

	byID := map[string]models.ValidatedSymbol{}
	for _, s := range validated {
		byID[s.SymbolID] = s
	}

	if _, ok := byID["dwelling"]; ok {
		t.Error("dwelling should be excluded: the window belongs to the car")
	}
	vehicle, ok := byID["vehicle"]
	if !ok {
		t.Fatal("vehicle symbol missing")
	}
	if !vehicle.Reinforced || vehicle.Confidence <= 0.6 {
		t.Errorf("vehicle confidence = %f reinforced = %v, want above base 0.6", vehicle.Confidence, vehicle.Reinforced)
	}
	tracking, ok := byID["surveillance"]
	if !ok {
		t.Fatal("surveillance symbol missing")
	}
	if !tracking.Reinforced || tracking.Confidence <= 0.65 {
		t.Errorf("surveillance confidence = %f reinforced = %v, want above base 0.65", tracking.Confidence, tracking.Reinforced)
	}

	var sawExclusion bool
	for _, d := range decisions {
		if d.SymbolID == "dwelling" && d.Outcome == models.OutcomeExclude {
			sawExclusion = true
			if d.RuleID == "" {
				t.Error("exclusion decision missing rule id")
			}
		}
	}
	if !sawExclusion {
		t.Error("decision log missing dwelling exclusion")
	}
}

func TestValidateRussianRentalCarNarrative(t *testing.T) {
	m, v := defaultValidator(t)
	text := "Я арендовал машину и выбросил монеты с трекерами в окно"

	validated, _ := v.Validate(text, m.Match(text))

	byID := map[string]models.ValidatedSymbol{}
	for _, s := range validated {
		byID[s.SymbolID] = s
	}
	if _, ok := byID["dwelling"]; ok {
		t.Error("dwelling should be excluded near a vehicle term")
	}
	if sym, ok := byID["vehicle"]; !ok || sym.Confidence <= 0.6 {
		t.Errorf("vehicle = %+v, want reinforced above 0.6", sym)
	}
	if sym, ok := byID["surveillance"]; !ok || !sym.Reinforced {
		t.Errorf("surveillance = %+v, want reinforced", sym)
	}
}

func TestValidateExclusionIsTerminal(t *testing.T) {
	entries := []knowledge.SymbolEntry{{
		ID:           "beacon",
		Archetype:    "signal",
		Significance: 0.5,
		Keywords:     map[string][]string{"en": {"beacon"}},
		Exclusions: []knowledge.ExclusionRule{
			{ID: "beacon-broken", Pattern: `broken`},
		},
		Reinforcements: []knowledge.ReinforcementRule{
			{ID: "beacon-bright", Pattern: `bright`, Delta: 0.2},
		},
	}}
	m, v := customValidator(t, entries)

	text := "a bright but broken beacon on the hill"
	validated, decisions := v.Validate(text, m.Match(text))

	if len(validated) != 0 {
		t.Fatalf("excluded candidate survived: %+v", validated)
	}
	for _, d := range decisions {
		if d.Outcome == models.OutcomeReinforce {
			t.Fatalf("reinforcement evaluated after exclusion: %+v", d)
		}
	}
	if len(decisions) != 1 || decisions[0].Outcome != models.OutcomeExclude || decisions[0].RuleID != "beacon-broken" {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestValidateDedupeKeepsHighestConfidence(t *testing.T) {
	entries := []knowledge.SymbolEntry{{
		ID:           "sea",
		Archetype:    "unconscious",
		Significance: 0.5,
		Keywords:     map[string][]string{"en": {"sea"}},
		Reinforcements: []knowledge.ReinforcementRule{
			{ID: "sea-deep", Pattern: `deep`, Delta: 0.3},
		},
	}}
	m, v := customValidator(t, entries)

	// The filler pushes the occurrences further apart than the context
	// radius, so only the second one sees the reinforcing word.
	text := "The sea was calm. " + strings.Repeat("calm water all around me ", 12) + "Then the deep sea turned on me."
	candidates := m.Match(text)
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}

	validated, _ := v.Validate(text, candidates)
	if len(validated) != 1 {
		t.Fatalf("validated = %d, want 1 after dedupe", len(validated))
	}
	got := validated[0]
	if !got.Reinforced || got.Confidence != 0.8 {
		t.Errorf("kept occurrence = %+v, want the reinforced one at 0.8", got)
	}
}

func TestValidateSortsByConfidenceDescending(t *testing.T) {
	m, v := defaultValidator(t)
	text := "I dreamed about food and about deep dark water"
	validated, _ := v.Validate(text, m.Match(text))

	if len(validated) < 2 {
		t.Fatalf("expected at least 2 symbols, got %+v", validated)
	}
	for i := 1; i < len(validated); i++ {
		if validated[i].Confidence > validated[i-1].Confidence {
			t.Fatalf("not sorted descending: %+v", validated)
		}
	}
	if validated[0].SymbolID != "water" {
		t.Errorf("top symbol = %s, want water", validated[0].SymbolID)
	}
}

func TestValidatePlainIncludeDecision(t *testing.T) {
	m, v := defaultValidator(t)
	text := "there was bread on the table"
	validated, decisions := v.Validate(text, m.Match(text))

	if len(validated) != 1 || validated[0].SymbolID != "food" {
		t.Fatalf("validated = %+v, want single food symbol", validated)
	}
	if validated[0].Confidence != 0.45 {
		t.Errorf("confidence = %f, want base 0.45", validated[0].Confidence)
	}
	if len(decisions) != 1 || decisions[0].Outcome != models.OutcomeInclude {
		t.Fatalf("decisions = %+v, want single include", decisions)
	}
}

func TestValidateConfidenceClampedToOne(t *testing.T) {
	entries := []knowledge.SymbolEntry{{
		ID:           "sun",
		Archetype:    "vitality",
		Significance: 0.9,
		Keywords:     map[string][]string{"en": {"sun"}},
		Reinforcements: []knowledge.ReinforcementRule{
			{ID: "sun-a", Pattern: `bright`, Delta: 0.2},
			{ID: "sun-b", Pattern: `warm`, Delta: 0.2},
		},
	}}
	m, v := customValidator(t, entries)

	text := "a bright warm sun"
	validated, _ := v.Validate(text, m.Match(text))
	if len(validated) != 1 {
		t.Fatalf("validated = %+v", validated)
	}
	if validated[0].Confidence != 1 {
		t.Errorf("confidence = %f, want clamped to 1", validated[0].Confidence)
	}
}
