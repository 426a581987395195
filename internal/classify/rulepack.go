package classify

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RulePack extends the built-in rule sets from a YAML file. Operators use it
// to suppress deployment-specific noise or promote known-bad signatures
// without rebuilding the engine.
type RulePack struct {
	Suppress      []string   `yaml:"suppress"`
	Critical      []string   `yaml:"critical"`
	Degradation   []string   `yaml:"degradation"`
	Informational []string   `yaml:"informational"`
	Tags          []TagEntry `yaml:"tags"`
}

// TagEntry adds one pattern to the tag vocabulary.
type TagEntry struct {
	Tag     string `yaml:"tag"`
	Pattern string `yaml:"pattern"`
}

// NewMatcherFromPack builds a matcher with the built-in rules plus the pack
// at path. An empty path or a missing file yields the built-in matcher.
func NewMatcherFromPack(path string) (*Matcher, error) {
	m := NewMatcher()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	return m.extend(pack)
}

func (m *Matcher) extend(pack RulePack) (*Matcher, error) {
	var err error
	if m.suppress, err = appendCompiled(m.suppress, pack.Suppress); err != nil {
		return nil, err
	}
	if m.critical, err = appendCompiled(m.critical, pack.Critical); err != nil {
		return nil, err
	}
	if m.degradation, err = appendCompiled(m.degradation, pack.Degradation); err != nil {
		return nil, err
	}
	if m.informational, err = appendCompiled(m.informational, pack.Informational); err != nil {
		return nil, err
	}
	for _, entry := range pack.Tags {
		if entry.Tag == "" || entry.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(entry.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile tag pattern %q: %w", entry.Pattern, err)
		}
		m.tagVocabulary = append(m.tagVocabulary, tagRule{tag: entry.Tag, pattern: re})
	}
	return m, nil
}

func appendCompiled(existing []*regexp.Regexp, patterns []string) ([]*regexp.Regexp, error) {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile rule pattern %q: %w", p, err)
		}
		existing = append(existing, re)
	}
	return existing, nil
}
