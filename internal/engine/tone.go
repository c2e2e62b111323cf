package engine

import (
	"log/slog"
	"strings"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// ToneEngine applies lightweight lexical heuristics to classify a narrative's
// emotional register.
type ToneEngine struct {
	logger *slog.Logger
}

// ToneResult captures the outcome of a tone evaluation.
type ToneResult struct {
	Mood      models.Mood
	Intensity float64
	Hits      int
}

// minIntensity is the floor reported even for flat narratives.
const minIntensity = 0.3

// intensityAmplifier scales emotional word density into [0,1].
const intensityAmplifier = 10.0

var anxiousTerms = []string{
	"chase", "chasing", "panic", "fear", "afraid", "scared", "anxious", "trapped", "lost", "falling",
	"страх", "страшн", "паник", "боюсь", "боял", "тревог", "убега", "погон", "ловушк", "потерял",
}

var negativeTerms = []string{
	"death", "dead", "dying", "cry", "crying", "grief", "dark", "alone", "drowning", "broken",
	"смерт", "умер", "плак", "горе", "темн", "одинок", "тону", "разбит",
}

var positiveTerms = []string{
	"joy", "happy", "flying", "light", "warm", "free", "laughing", "beautiful", "calm",
	"радост", "счаст", "лета", "свет", "тепл", "свобод", "смеял", "красив", "спокой",
}

// darkArchetypes lean a symbol set toward anxiety when the wording itself is
// emotionally flat.
var darkArchetypes = map[string]struct{}{
	"shadow":          {},
	"loss-of-control": {},
}

// NewToneEngine constructs a ToneEngine.
func NewToneEngine(logger *slog.Logger) *ToneEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToneEngine{logger: logger}
}

// Evaluate derives mood and intensity from emotional word density. Intensity
// is density scaled by the amplifier and clamped to [minIntensity, 1].
func (e *ToneEngine) Evaluate(text string, symbols []models.ValidatedSymbol) ToneResult {
	result := ToneResult{Mood: models.MoodNeutral, Intensity: minIntensity}
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return result
	}

	anxious := countTermHits(words, anxiousTerms)
	negative := countTermHits(words, negativeTerms)
	positive := countTermHits(words, positiveTerms)
	result.Hits = anxious + negative + positive

	// Dark archetypes sway the mood of flat wording but not its intensity.
	moodAnxious := anxious
	for _, sym := range symbols {
		if _, dark := darkArchetypes[sym.Archetype]; dark {
			moodAnxious++
		}
	}
	result.Mood = pickMood(moodAnxious, negative, positive)

	density := float64(result.Hits) / float64(len(words))
	intensity := density * intensityAmplifier
	if intensity > 1 {
		intensity = 1
	}
	if intensity < minIntensity {
		intensity = minIntensity
	}
	result.Intensity = intensity

	e.logger.Debug("tone evaluated",
		slog.String("mood", string(result.Mood)),
		slog.Int("hits", result.Hits))
	return result
}

// pickMood resolves ties in favour of the more urgent register.
func pickMood(anxious, negative, positive int) models.Mood {
	switch {
	case anxious == 0 && negative == 0 && positive == 0:
		return models.MoodNeutral
	case anxious >= negative && anxious >= positive:
		return models.MoodAnxious
	case negative >= positive:
		return models.MoodNegative
	default:
		return models.MoodPositive
	}
}

func countTermHits(words []string, terms []string) int {
	hits := 0
	for _, word := range words {
		trimmed := strings.Trim(word, ".,!?;:»«\"'()")
		for _, term := range terms {
			if strings.HasPrefix(trimmed, term) {
				hits++
				break
			}
		}
	}
	return hits
}
