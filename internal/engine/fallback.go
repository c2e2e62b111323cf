package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// Rule-based confidence is deliberately modest: a template never outranks a
// reviewed model answer.
const (
	fallbackBaseConfidence = 0.35
	fallbackSymbolBonus    = 0.05
	fallbackMaxConfidence  = 0.45
)

// FallbackComposer renders a template interpretation when no provider
// produced a usable answer.
type FallbackComposer struct {
	logger *slog.Logger
}

// NewFallbackComposer constructs a FallbackComposer.
func NewFallbackComposer(logger *slog.Logger) *FallbackComposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackComposer{logger: logger}
}

// Compose builds a locale-appropriate interpretation from the validated
// symbols and tone, returning the text and its fixed confidence.
func (c *FallbackComposer) Compose(locale string, tone ToneResult, symbols []models.ValidatedSymbol) (string, float64) {
	confidence := fallbackBaseConfidence
	if len(symbols) > 0 {
		confidence += fallbackSymbolBonus
	}
	if confidence > fallbackMaxConfidence {
		confidence = fallbackMaxConfidence
	}

	var text string
	if locale == "ru" {
		text = composeRussian(tone, symbols)
	} else {
		text = composeEnglish(tone, symbols)
	}

	c.logger.Debug("fallback interpretation composed",
		slog.String("locale", locale),
		slog.Int("symbols", len(symbols)))
	return text, confidence
}

func composeEnglish(tone ToneResult, symbols []models.ValidatedSymbol) string {
	var b strings.Builder
	switch tone.Mood {
	case models.MoodAnxious:
		b.WriteString("This dream carries a tense, watchful undercurrent. ")
	case models.MoodNegative:
		b.WriteString("This dream carries a heavy emotional charge. ")
	case models.MoodPositive:
		b.WriteString("This dream has a light, hopeful coloring. ")
	default:
		b.WriteString("This dream reads as calm and observational. ")
	}

	if len(symbols) == 0 {
		b.WriteString("No strong symbolic anchors stand out, which often points to a processing dream: the mind sorting through recent impressions without a central conflict. ")
	} else {
		top := symbols[0]
		fmt.Fprintf(&b, "The central image is %q, a figure of the %s archetype. ", strings.ToLower(top.Matched), top.Archetype)
		if len(symbols) > 1 {
			others := make([]string, 0, 2)
			for _, s := range symbols[1:min(len(symbols), 3)] {
				others = append(others, strings.ToLower(s.Matched))
			}
			fmt.Fprintf(&b, "Supporting images (%s) suggest the theme extends beyond a single moment. ", strings.Join(others, ", "))
		}
	}

	if tone.Intensity >= 0.7 {
		b.WriteString("The emotional intensity is high, so the theme is likely active in waking life right now. ")
	}
	b.WriteString("Consider which recent situation echoes this scene; dreams of this kind usually restate a question the dreamer is already asking.")
	return b.String()
}

func composeRussian(tone ToneResult, symbols []models.ValidatedSymbol) string {
	var b strings.Builder
	switch tone.Mood {
	case models.MoodAnxious:
		b.WriteString("В этом сне чувствуется тревожное, настороженное напряжение. ")
	case models.MoodNegative:
		b.WriteString("Этот сон несёт тяжёлый эмоциональный заряд. ")
	case models.MoodPositive:
		b.WriteString("У этого сна светлый, обнадёживающий тон. ")
	default:
		b.WriteString("Этот сон выглядит спокойным и созерцательным. ")
	}

	if len(symbols) == 0 {
		b.WriteString("Ярких символических образов не выделяется: часто это «технический» сон, в котором сознание перерабатывает недавние впечатления. ")
	} else {
		top := symbols[0]
		fmt.Fprintf(&b, "Центральный образ — «%s», относящийся к архетипу «%s». ", strings.ToLower(top.Matched), top.Archetype)
		if len(symbols) > 1 {
			others := make([]string, 0, 2)
			for _, s := range symbols[1:min(len(symbols), 3)] {
				others = append(others, strings.ToLower(s.Matched))
			}
			fmt.Fprintf(&b, "Дополнительные образы (%s) показывают, что тема шире одного эпизода. ", strings.Join(others, ", "))
		}
	}

	if tone.Intensity >= 0.7 {
		b.WriteString("Эмоциональная насыщенность высока, поэтому тема, скорее всего, актуальна и наяву. ")
	}
	b.WriteString("Подумайте, какая недавняя ситуация перекликается с этим сюжетом: такие сны обычно повторяют вопрос, который вы уже задаёте себе.")
	return b.String()
}
