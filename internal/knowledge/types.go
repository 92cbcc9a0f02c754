// Package knowledge ranks stored knowledge items for a user by combining
// similarity search with rule-based applicability.
package knowledge

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/intake/internal/rules"
)

// Item is a stored piece of knowledge used to personalise replies.
type Item struct {
	ID         string   `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Text       string   `json:"text" yaml:"text"`
	Tags       []string `json:"tags,omitempty" yaml:"tags"`
	Categories []string `json:"categories,omitempty" yaml:"categories"`
	Offers     []string `json:"offers,omitempty" yaml:"offers"`
	Placements []string `json:"placements,omitempty" yaml:"placements"`

	RuleGroups []rules.Group `json:"rule_groups,omitempty" yaml:"rule_groups"`
	// Conditions are simple OR-style requirements: mapping key to accepted values.
	Conditions map[string][]string `json:"conditions,omitempty" yaml:"conditions"`
}

// Document returns the text used to embed the item.
func (i Item) Document() string {
	if i.Title == "" {
		return i.Text
	}
	return i.Title + "\n" + i.Text
}

func (i Item) target() rules.Target {
	return rules.Target{Categories: i.Categories, Groups: i.RuleGroups}
}

// Candidate is a similarity hit before rule filtering.
type Candidate struct {
	Item       Item
	Similarity float64
}

// Index is a similarity search backend.
type Index interface {
	Search(ctx context.Context, embedding []float32, k int) ([]Candidate, error)
}

// Embedder turns text into a query embedding.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Query describes one retrieval request.
type Query struct {
	Embedding []float32
	Category  string
	Profile   rules.Profile
	OfferType string
	Placement string
	Limit     int
}

// Result is a ranked knowledge item.
type Result struct {
	Item       Item    `json:"item"`
	Similarity float64 `json:"similarity"`
	RuleScore  float64 `json:"rule_score"`
}

type itemFile struct {
	Items []Item `yaml:"items"`
}

// LoadItems reads knowledge items from a YAML file with a top-level "items" list.
func LoadItems(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}

	var f itemFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge yaml: %w", err)
	}

	seen := make(map[string]bool, len(f.Items))
	for i, item := range f.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("knowledge item %d has no id", i)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("duplicate knowledge item id %q", item.ID)
		}
		seen[item.ID] = true
	}
	return f.Items, nil
}
