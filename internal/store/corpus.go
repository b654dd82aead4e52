package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"formcoach/internal/logging"

	"gopkg.in/yaml.v3"
)

// yamlAtomEntry matches one knowledge entry in a corpus YAML file.
type yamlAtomEntry struct {
	Concept    string   `yaml:"concept"`
	Content    string   `yaml:"content"`
	Source     string   `yaml:"source,omitempty"`
	Confidence float64  `yaml:"confidence,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`
}

// yamlCorpusFile is the wrapper form: an explicit category plus its entries.
// Files may also be a bare list of entries, in which case the category comes
// from the file name stem (form_guides.yaml -> form_guides).
type yamlCorpusFile struct {
	Category string          `yaml:"category"`
	Atoms    []yamlAtomEntry `yaml:"atoms"`
}

// ParseCorpusFile parses one corpus YAML file into atoms. The category is
// taken from the file's `category` key when present, otherwise from the file
// name stem.
func ParseCorpusFile(path string) ([]Atom, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	category := ""
	var entries []yamlAtomEntry

	var wrapper yamlCorpusFile
	if err := yaml.Unmarshal(data, &wrapper); err == nil && len(wrapper.Atoms) > 0 {
		category = wrapper.Category
		entries = wrapper.Atoms
	} else {
		// Try parsing as a bare list of entries
		if listErr := yaml.Unmarshal(data, &entries); listErr != nil {
			// Try parsing as a single entry
			var single yamlAtomEntry
			if singleErr := yaml.Unmarshal(data, &single); singleErr != nil {
				return nil, fmt.Errorf("failed to parse YAML: %w", err)
			}
			entries = []yamlAtomEntry{single}
		}
	}

	if category == "" {
		category = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	category = strings.ToLower(strings.TrimSpace(category))

	switch category {
	case CategoryFormGuides, CategoryInjuryPatterns, CategoryCorrectives:
	default:
		logging.Get(logging.CategoryStore).Warn("Corpus file %s declares unknown category %q", filepath.Base(path), category)
	}

	var atoms []Atom
	for i, entry := range entries {
		atom, err := convertCorpusEntry(entry, category)
		if err != nil {
			logging.Get(logging.CategoryStore).Error("Skipping invalid entry %d in %s: %v", i, path, err)
			continue
		}
		atoms = append(atoms, atom)
	}
	return atoms, nil
}

func convertCorpusEntry(entry yamlAtomEntry, category string) (Atom, error) {
	if strings.TrimSpace(entry.Concept) == "" {
		return Atom{}, fmt.Errorf("entry missing concept")
	}
	if strings.TrimSpace(entry.Content) == "" {
		return Atom{}, fmt.Errorf("entry %q has no content", entry.Concept)
	}
	confidence := entry.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1.0
	}
	return Atom{
		Category:   category,
		Concept:    strings.TrimSpace(entry.Concept),
		Content:    strings.TrimSpace(entry.Content),
		Source:     strings.TrimSpace(entry.Source),
		Confidence: confidence,
		Tags:       entry.Tags,
	}, nil
}

// LoadCorpusDir walks a corpus directory, parses every YAML file, and
// replaces each category found with the parsed atoms. A category split
// across several files is merged before replacement, so a partial reload
// never leaves a category half-filled. Returns the number of atoms loaded.
func (s *LocalStore) LoadCorpusDir(ctx context.Context, dir string) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadCorpusDir")
	defer timer.Stop()

	logging.Get(logging.CategoryStore).Info("Loading knowledge corpus from %s", dir)

	byCategory := make(map[string][]Atom)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		atoms, parseErr := ParseCorpusFile(path)
		if parseErr != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to parse %s: %v", path, parseErr)
			return nil // Continue processing other files
		}
		for _, atom := range atoms {
			byCategory[atom.Category] = append(byCategory[atom.Category], atom)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk corpus directory %s: %w", dir, err)
	}

	total := 0
	for category, atoms := range byCategory {
		if err := s.ReplaceCategory(ctx, category, atoms); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to replace category %s: %v", category, err)
			continue
		}
		total += len(atoms)
	}

	logging.Get(logging.CategoryStore).Info("Corpus loaded: %d atoms across %d categories", total, len(byCategory))
	return total, nil
}
