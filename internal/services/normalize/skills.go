package normalize

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed skills.yaml
var defaultVocabulary []byte

type vocabularyFile struct {
	Skills []vocabularyEntry `yaml:"skills"`
}

type vocabularyEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type skillPattern struct {
	token string // lowercase surface form
	name  string // canonical skill name
}

// SkillMatcher extracts canonical skill names from free text by
// longest-match against a loaded vocabulary.
type SkillMatcher struct {
	patterns []skillPattern // sorted longest token first
}

// NewSkillMatcher loads the embedded default vocabulary.
func NewSkillMatcher() (*SkillMatcher, error) {
	return NewSkillMatcherFromYAML(defaultVocabulary)
}

// NewSkillMatcherFromYAML builds a matcher from vocabulary YAML, for callers
// that ship their own skill list.
func NewSkillMatcherFromYAML(data []byte) (*SkillMatcher, error) {
	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse skill vocabulary: %w", err)
	}
	if len(file.Skills) == 0 {
		return nil, fmt.Errorf("skill vocabulary is empty")
	}

	var patterns []skillPattern
	for _, entry := range file.Skills {
		if entry.Name == "" {
			continue
		}
		patterns = append(patterns, skillPattern{token: strings.ToLower(entry.Name), name: entry.Name})
		for _, alias := range entry.Aliases {
			if alias == "" {
				continue
			}
			patterns = append(patterns, skillPattern{token: strings.ToLower(alias), name: entry.Name})
		}
	}
	// Longer tokens claim their span first so "react native" beats "react".
	sort.SliceStable(patterns, func(i, j int) bool {
		return len(patterns[i].token) > len(patterns[j].token)
	})

	return &SkillMatcher{patterns: patterns}, nil
}

// Extract returns the canonical skills mentioned in text, ordered by first
// appearance, each at most once. Matches honor word boundaries and longer
// vocabulary tokens suppress shorter ones on the same span.
func (m *SkillMatcher) Extract(text string) []string {
	lower := strings.ToLower(text)
	if lower == "" {
		return nil
	}

	claimed := make([]bool, len(lower))
	type hit struct {
		start int
		name  string
	}
	var hits []hit

	for _, p := range m.patterns {
		for start := 0; ; {
			i := strings.Index(lower[start:], p.token)
			if i < 0 {
				break
			}
			i += start
			end := i + len(p.token)
			start = i + 1

			if i > 0 && isWordByte(lower[i-1]) {
				continue
			}
			if end < len(lower) && isWordByte(lower[end]) {
				continue
			}
			if spanClaimed(claimed, i, end) {
				continue
			}
			for k := i; k < end; k++ {
				claimed[k] = true
			}
			hits = append(hits, hit{start: i, name: p.name})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	seen := make(map[string]struct{}, len(hits))
	var skills []string
	for _, h := range hits {
		if _, ok := seen[h.name]; ok {
			continue
		}
		seen[h.name] = struct{}{}
		skills = append(skills, h.name)
	}
	return skills
}

func spanClaimed(claimed []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if claimed[k] {
			return true
		}
	}
	return false
}
