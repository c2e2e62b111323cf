package utils

import (
	"strings"
	"unicode"
)

// NormalizeNarrative cleans user-supplied narrative text before matching or
// prompting: control characters are dropped, runs of three or more repeated
// characters collapse to two, and whitespace runs collapse to single spaces.
func NormalizeNarrative(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	var prev rune
	repeats := 0
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if unicode.IsSpace(r) {
			r = ' '
		}
		if r == prev {
			repeats++
			if repeats >= 2 {
				continue
			}
		} else {
			repeats = 0
		}
		b.WriteRune(r)
		prev = r
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// DetectLanguage returns "ru" when the text is predominantly Cyrillic,
// otherwise "en". Cyrillic wins only with a clear margin so mixed-script
// narratives default to English handling.
func DetectLanguage(text string) string {
	cyrillic := 0
	latin := 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if cyrillic > 0 && float64(cyrillic) > float64(latin)*1.5 {
		return "ru"
	}
	return "en"
}

// TruncateRunes bounds a string to at most limit runes, appending an ellipsis
// marker when truncation occurred. Non-positive limits leave text untouched.
func TruncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
