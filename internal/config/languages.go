package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultLanguages []byte

// Catalogue is the list of languages a session may interpret between
type Catalogue struct {
	Languages []string `yaml:"languages"`
}

// LoadLanguages reads the language catalogue from path, or the embedded
// default when path is empty
func LoadLanguages(path string) (*Catalogue, error) {
	data := defaultLanguages
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read languages file: %w", err)
		}
		data = b
	}

	return ParseLanguages(data)
}

// ParseLanguages decodes a YAML catalogue and drops blank or duplicate entries
func ParseLanguages(data []byte) (*Catalogue, error) {
	var raw Catalogue
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse languages: %w", err)
	}

	seen := make(map[string]bool, len(raw.Languages))
	cat := &Catalogue{}
	for _, lang := range raw.Languages {
		lang = strings.TrimSpace(lang)
		key := strings.ToLower(lang)
		if lang == "" || seen[key] {
			continue
		}
		seen[key] = true
		cat.Languages = append(cat.Languages, lang)
	}

	if len(cat.Languages) < 2 {
		return nil, fmt.Errorf("language catalogue needs at least two languages, got %d", len(cat.Languages))
	}
	return cat, nil
}

// Lookup returns the catalogue spelling of lang (case-insensitive)
func (c *Catalogue) Lookup(lang string) (string, bool) {
	lang = strings.TrimSpace(lang)
	for _, l := range c.Languages {
		if strings.EqualFold(l, lang) {
			return l, true
		}
	}
	return "", false
}
