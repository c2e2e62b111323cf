package extractors

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/oneiroscope/oneiro-engine/internal/knowledge"
	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// Matcher scans narratives for dictionary trigger words. It over-generates on
// purpose: every textual occurrence becomes a candidate and contextual
// validation decides what survives.
type Matcher struct {
	logger  *slog.Logger
	symbols []compiledSymbol
}

type compiledSymbol struct {
	entry knowledge.SymbolEntry
	re    *regexp.Regexp
}

// NewMatcher compiles one case-insensitive alternation per dictionary entry.
// Longer keywords are placed first so "trackers" wins over "tracker" at the
// same position.
func NewMatcher(base *knowledge.Base, logger *slog.Logger) (*Matcher, error) {
	if base == nil || base.Len() == 0 {
		return nil, fmt.Errorf("symbol dictionary is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiled := make([]compiledSymbol, 0, base.Len())
	for _, entry := range base.Symbols() {
		keywords := make([]string, 0, 8)
		for _, list := range entry.Keywords {
			keywords = append(keywords, list...)
		}
		if len(keywords) == 0 {
			continue
		}
		sort.Slice(keywords, func(i, j int) bool {
			if len(keywords[i]) != len(keywords[j]) {
				return len(keywords[i]) > len(keywords[j])
			}
			return keywords[i] < keywords[j]
		})
		alts := make([]string, len(keywords))
		for i, kw := range keywords {
			alts[i] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		re, err := regexp.Compile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile symbol %s: %w", entry.ID, err)
		}
		compiled = append(compiled, compiledSymbol{entry: entry, re: re})
	}

	return &Matcher{logger: logger, symbols: compiled}, nil
}

// Match returns candidates in text order. Latin keywords must sit on their own
// word boundaries; Cyrillic keywords are stem matches extended over the
// trailing inflection so the recorded word is the full surface form.
func (m *Matcher) Match(text string) []models.CandidateSymbol {
	if text == "" {
		return nil
	}

	var candidates []models.CandidateSymbol
	for _, sym := range m.symbols {
		for _, span := range sym.re.FindAllStringIndex(text, -1) {
			start, end := span[0], span[1]
			if !startsWord(text, start) {
				continue
			}
			first, _ := utf8.DecodeRuneInString(text[start:])
			if unicode.Is(unicode.Cyrillic, first) {
				end = extendWord(text, end)
			} else if !endsWord(text, end) {
				continue
			}
			candidates = append(candidates, models.CandidateSymbol{
				SymbolID:     sym.entry.ID,
				Archetype:    sym.entry.Archetype,
				Matched:      text[start:end],
				Start:        start,
				End:          end,
				Significance: sym.entry.Significance,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Start < candidates[j].Start
	})
	m.logger.Debug("symbol scan complete", slog.Int("candidates", len(candidates)))
	return candidates
}

func startsWord(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return !isWordRune(r)
}

func endsWord(text string, idx int) bool {
	if idx >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	return !isWordRune(r)
}

// extendWord advances idx over the rest of the current word.
func extendWord(text string, idx int) int {
	for idx < len(text) {
		r, size := utf8.DecodeRuneInString(text[idx:])
		if !isWordRune(r) {
			break
		}
		idx += size
	}
	return idx
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
