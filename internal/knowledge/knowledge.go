// Package knowledge maps classifier labels to human-readable disease
// descriptions.
package knowledge

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/arbovm/levenshtein"
	"gopkg.in/yaml.v3"
)

// Fallback is returned for labels with no known description
const Fallback = "No description available."

// Fuzzy matching applies only to normalized keys of at least
// minFuzzyLength runes, within maxAliasDistance edits.
const (
	maxAliasDistance = 2
	minFuzzyLength   = 4
)

// Describer is a total lookup: unknown labels get Fallback, never an error
type Describer interface {
	Describe(label string) string
}

// Entry is one disease record. Aliases are extra names that resolve to it.
type Entry struct {
	Label       string   `yaml:"label" json:"label"`
	Description string   `yaml:"description" json:"description"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

type file struct {
	Diseases []Entry `yaml:"diseases"`
}

var defaultEntries = []Entry{
	{Label: "Tomato___Bacterial_spot", Description: "Bacterial spot: small dark spots; remove affected leaves and apply copper-based bactericide."},
	{Label: "Tomato___Early_blight", Description: "Early blight: brown lesions and concentric rings; practice crop rotation and fungicide spray."},
	{Label: "Tomato___Late_blight", Description: "Late blight: water-soaked lesions; remove infected plants, use appropriate fungicides."},
	{Label: "Tomato___Leaf_Mold", Description: "Leaf mold: yellowing and mold under leaves; increase ventilation and use fungicide."},
	{Label: "Tomato___Septoria_leaf_spot", Description: "Septoria leaf spot: small dark spots; remove debris and apply fungicide."},
	{Label: "Tomato___Spider_mites", Description: "Spider mites: tiny spots and webbing; use miticides and encourage predators.", Aliases: []string{"Tomato___Spider_mites Two-spotted_spider_mite"}},
	{Label: "Tomato___Target_Spot", Description: "Target spot: target-shaped lesions; use disease-free seeds and fungicides."},
	{Label: "Tomato___Tomato_Yellow_Leaf_Curl_Virus", Description: "TYLCV: leaf curling and yellowing; control whitefly vector and use resistant varieties.", Aliases: []string{"TYLCV"}},
	{Label: "Tomato___Tomato_mosaic_virus", Description: "TMV: mottling and stunted growth; remove infected plants and sanitize tools.", Aliases: []string{"TMV"}},
	{Label: "Tomato___healthy", Description: "Healthy: no disease detected. Maintain good cultural practices."},
}

// Base is an immutable label to description table with alias matching
type Base struct {
	entries map[string]Entry
	index   map[string]string
	keys    []string
}

// Default returns the built-in table of tomato leaf diseases
func Default() *Base {
	return New(defaultEntries)
}

// New builds a Base; later entries replace earlier ones with the same label
func New(entries []Entry) *Base {
	b := &Base{
		entries: make(map[string]Entry, len(entries)),
		index:   make(map[string]string),
	}
	for _, e := range entries {
		b.entries[e.Label] = e
	}
	for label, e := range b.entries {
		b.index[normalize(label)] = label
		for _, alias := range e.Aliases {
			b.index[normalize(alias)] = label
		}
	}
	for k := range b.index {
		b.keys = append(b.keys, k)
	}
	sort.Strings(b.keys)
	return b
}

// LoadFile reads a YAML file of the form
//
//	diseases:
//	  - label: Tomato___Leaf_Mold
//	    description: ...
//	    aliases: [Leaf mould]
//
// and layers it over the built-in table.
func LoadFile(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile for in-memory YAML
func Parse(data []byte) (*Base, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
	}
	for i, e := range f.Diseases {
		if strings.TrimSpace(e.Label) == "" {
			return nil, fmt.Errorf("disease %d has no label", i+1)
		}
	}

	entries := make([]Entry, 0, len(defaultEntries)+len(f.Diseases))
	entries = append(entries, defaultEntries...)
	entries = append(entries, f.Diseases...)
	return New(entries), nil
}

// Describe returns the description for label, or Fallback
func (b *Base) Describe(label string) string {
	if e, ok := b.Lookup(label); ok {
		return e.Description
	}
	return Fallback
}

// Lookup resolves label exactly, then by normalized alias, then by the
// closest normalized key within a small edit distance.
func (b *Base) Lookup(label string) (Entry, bool) {
	if e, ok := b.entries[label]; ok {
		return e, true
	}

	key := normalize(label)
	if key == "" {
		return Entry{}, false
	}
	if canonical, ok := b.index[key]; ok {
		return b.entries[canonical], true
	}
	if len([]rune(key)) < minFuzzyLength {
		return Entry{}, false
	}

	best, bestDist := "", maxAliasDistance+1
	for _, k := range b.keys {
		if d := levenshtein.Distance(key, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return Entry{}, false
	}
	return b.entries[b.index[best]], true
}

// Entries lists every disease ordered by label
func (b *Base) Entries() []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// normalize folds case, drops the dataset's "Tomato___" / "Tomato_"
// prefixes and removes separators so "Tomato___Leaf_Mold" and "leaf mold"
// compare equal.
func normalize(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.TrimPrefix(s, "tomato___")
	s = strings.TrimPrefix(s, "tomato_")

	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '_', ' ', '-', '.':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
