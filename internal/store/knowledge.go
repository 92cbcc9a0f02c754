package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/intake/internal/knowledge"
)

// Add upserts a knowledge item with its embedding. It implements knowledge.Writer.
func (s *Store) Add(ctx context.Context, item knowledge.Item, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("item %s has no embedding", item.ID)
	}
	groups, err := nullableJSON(item.RuleGroups, len(item.RuleGroups) == 0)
	if err != nil {
		return fmt.Errorf("encode rule groups: %w", err)
	}
	conditions, err := nullableJSON(item.Conditions, len(item.Conditions) == 0)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_items (id, title, body, tags, categories, offers, placements, rule_groups, conditions, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::vector, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			tags = EXCLUDED.tags,
			categories = EXCLUDED.categories,
			offers = EXCLUDED.offers,
			placements = EXCLUDED.placements,
			rule_groups = EXCLUDED.rule_groups,
			conditions = EXCLUDED.conditions,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		item.ID, item.Title, item.Text, nonNil(item.Tags), nonNil(item.Categories), nonNil(item.Offers), nonNil(item.Placements),
		groups, conditions, pgVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert knowledge item %s: %w", item.ID, err)
	}
	return nil
}

// Search implements knowledge.Index with pgvector cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]knowledge.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, body, tags, categories, offers, placements, rule_groups, conditions,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM knowledge_items
		ORDER BY embedding <=> $1::vector
		LIMIT $2`,
		pgVector(embedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Candidate
	for rows.Next() {
		var (
			c                  knowledge.Candidate
			groups, conditions []byte
		)
		if err := rows.Scan(&c.Item.ID, &c.Item.Title, &c.Item.Text, &c.Item.Tags, &c.Item.Categories,
			&c.Item.Offers, &c.Item.Placements, &groups, &conditions, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		if len(groups) > 0 {
			if err := json.Unmarshal(groups, &c.Item.RuleGroups); err != nil {
				return nil, fmt.Errorf("decode rule groups for %s: %w", c.Item.ID, err)
			}
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &c.Item.Conditions); err != nil {
				return nil, fmt.Errorf("decode conditions for %s: %w", c.Item.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountItems returns the number of stored knowledge items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM knowledge_items`).Scan(&n)
	return n, err
}

func nullableJSON(v any, empty bool) (*string, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
