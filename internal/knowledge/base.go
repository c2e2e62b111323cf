package knowledge

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExclusionRule disqualifies a candidate when its pattern matches the text
// surrounding the candidate's span. Triggers optionally narrow the rule to
// specific matched words; an empty list applies to every trigger.
type ExclusionRule struct {
	ID       string   `yaml:"id"`
	Pattern  string   `yaml:"pattern"`
	Triggers []string `yaml:"triggers"`
}

// ReinforcementRule raises a candidate's confidence by Delta when its pattern
// matches the surrounding text.
type ReinforcementRule struct {
	ID      string  `yaml:"id"`
	Pattern string  `yaml:"pattern"`
	Delta   float64 `yaml:"delta"`
}

// SymbolEntry is one read-only dictionary record: trigger keywords per locale,
// a base significance in [0,1], an archetype tag, and the contextual rules
// evaluated downstream.
type SymbolEntry struct {
	ID             string              `yaml:"id"`
	Archetype      string              `yaml:"archetype"`
	Significance   float64             `yaml:"significance"`
	Keywords       map[string][]string `yaml:"keywords"`
	Exclusions     []ExclusionRule     `yaml:"exclusions"`
	Reinforcements []ReinforcementRule `yaml:"reinforcements"`
}

// Base is the symbol dictionary consumed by the matcher and validator.
// It is immutable after construction.
type Base struct {
	symbols []SymbolEntry
	byID    map[string]int
}

type packFile struct {
	Symbols []SymbolEntry `yaml:"symbols"`
}

// New builds a Base from explicit entries, validating ids and significance.
func New(entries []SymbolEntry) (*Base, error) {
	byID := make(map[string]int, len(entries))
	for i, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("symbol %d: empty id", i)
		}
		if _, dup := byID[entry.ID]; dup {
			return nil, fmt.Errorf("symbol %q: duplicate id", entry.ID)
		}
		if entry.Significance < 0 || entry.Significance > 1 {
			return nil, fmt.Errorf("symbol %q: significance %f out of [0,1]", entry.ID, entry.Significance)
		}
		byID[entry.ID] = i
	}
	return &Base{symbols: entries, byID: byID}, nil
}

// Load reads a YAML symbol pack from path. An empty or missing path falls back
// to the built-in dictionary so local runs never start without symbols.
func Load(path string) (*Base, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default()
		}
		return nil, fmt.Errorf("read symbol pack: %w", err)
	}
	var pack packFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse symbol pack: %w", err)
	}
	if len(pack.Symbols) == 0 {
		return nil, fmt.Errorf("symbol pack %s contains no symbols", path)
	}
	return New(pack.Symbols)
}

// Symbols returns the dictionary entries in declaration order.
func (b *Base) Symbols() []SymbolEntry {
	if b == nil {
		return nil
	}
	return b.symbols
}

// Lookup returns the entry for a symbol id.
func (b *Base) Lookup(id string) (SymbolEntry, bool) {
	if b == nil {
		return SymbolEntry{}, false
	}
	idx, ok := b.byID[id]
	if !ok {
		return SymbolEntry{}, false
	}
	return b.symbols[idx], true
}

// Len reports the number of dictionary entries.
func (b *Base) Len() int {
	if b == nil {
		return 0
	}
	return len(b.symbols)
}
