package clients

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// KnowledgeStore persists resolved-case knowledge in PostgreSQL and serves
// similarity lookups. Matching is full-text; the embedding model behind
// richer similarity is deliberately out of scope here.
type KnowledgeStore struct {
	db *sql.DB
}

// NewKnowledgeStore wraps the shared Postgres handle.
func NewKnowledgeStore(db *sql.DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Case is one knowledge entry.
type Case struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Problem    string         `json:"problem"`
	Resolution string         `json:"resolution"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Rank       float64        `json:"rank,omitempty"`
}

// Initialize creates the knowledge table and its search index.
func (s *KnowledgeStore) Initialize(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_cases (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			problem TEXT NOT NULL,
			resolution TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			search_vector TSVECTOR GENERATED ALWAYS AS (
				to_tsvector('simple', title || ' ' || problem || ' ' || resolution)
			) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_cases_search
			ON knowledge_cases USING GIN (search_vector)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init knowledge schema: %w", err)
		}
	}
	return nil
}

// SearchSimilar returns the cases best matching the query text.
func (s *KnowledgeStore) SearchSimilar(ctx context.Context, query string, limit int) ([]Case, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, problem, resolution, tags, metadata, created_at,
			ts_rank(search_vector, plainto_tsquery('simple', $1)) AS rank
		FROM knowledge_cases
		WHERE search_vector @@ plainto_tsquery('simple', $1)
		ORDER BY rank DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		var (
			c        Case
			metaJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Problem, &c.Resolution, pq.Array(&c.Tags), &metaJSON, &c.CreatedAt, &c.Rank); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &c.Metadata)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddCase stores a new knowledge entry and returns its id.
func (s *KnowledgeStore) AddCase(ctx context.Context, c Case) (string, error) {
	id := uuid.NewString()
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_cases (id, title, problem, resolution, tags, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, c.Title, c.Problem, c.Resolution, pq.Array(c.Tags), metaJSON)
	if err != nil {
		return "", fmt.Errorf("insert knowledge case: %w", err)
	}
	return id, nil
}
