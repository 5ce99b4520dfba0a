package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type KnowledgeRecord struct {
	ID           string
	Content      string
	Source       string
	Type         string
	Confidence   float64
	Tags         []string
	LastAccessed time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const knowledgeColumns = `id, content, source, type, confidence, tags, last_accessed, created_at, updated_at`

func scanKnowledge(scan func(...interface{}) error) (KnowledgeRecord, error) {
	var rec KnowledgeRecord
	if err := scan(&rec.ID, &rec.Content, &rec.Source, &rec.Type, &rec.Confidence,
		pq.Array(&rec.Tags), &rec.LastAccessed, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return KnowledgeRecord{}, err
	}
	return rec, nil
}

func (s *Store) CreateKnowledge(ctx context.Context, rec KnowledgeRecord) (KnowledgeRecord, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return KnowledgeRecord{}, fmt.Errorf("knowledge content required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	rec.Confidence = ClampConfidence(rec.Confidence)
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO knowledge (id, content, source, type, confidence, tags, last_accessed)
VALUES ($1,$2,$3,$4,$5,$6,now())
RETURNING `+knowledgeColumns+`
`, rec.ID, rec.Content, rec.Source, rec.Type, rec.Confidence, pq.Array(rec.Tags))
	return scanKnowledge(row.Scan)
}

func (s *Store) GetKnowledge(ctx context.Context, id string) (KnowledgeRecord, bool, error) {
	if strings.TrimSpace(id) == "" {
		return KnowledgeRecord{}, false, fmt.Errorf("knowledge id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT `+knowledgeColumns+` FROM knowledge WHERE id=$1
`, id)
	rec, err := scanKnowledge(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return KnowledgeRecord{}, false, nil
		}
		return KnowledgeRecord{}, false, err
	}
	return rec, true, nil
}

// SearchKnowledgeByKeywords matches content against any of the given
// keywords, ordered by confidence then recency of access.
func (s *Store) SearchKnowledgeByKeywords(ctx context.Context, keywords []string, limit int) ([]KnowledgeRecord, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		patterns = append(patterns, "%"+kw+"%")
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+knowledgeColumns+` FROM knowledge
WHERE content ILIKE ANY($1)
ORDER BY confidence DESC, last_accessed DESC
LIMIT $2
`, pq.Array(patterns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

// SearchKnowledgeSubstring is the broader recall fallback: a single
// substring match over content.
func (s *Store) SearchKnowledgeSubstring(ctx context.Context, text string, limit int) ([]KnowledgeRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+knowledgeColumns+` FROM knowledge
WHERE content ILIKE $1
ORDER BY confidence DESC, last_accessed DESC
LIMIT $2
`, "%"+text+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

func (s *Store) ListKnowledgeByType(ctx context.Context, knowledgeType string, limit int) ([]KnowledgeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+knowledgeColumns+` FROM knowledge
WHERE type=$1
ORDER BY confidence DESC, last_accessed DESC
LIMIT $2
`, knowledgeType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

// AllKnowledgeByConfidence loads the entire collection, highest
// confidence first. Consolidation runs over this.
func (s *Store) AllKnowledgeByConfidence(ctx context.Context) ([]KnowledgeRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+knowledgeColumns+` FROM knowledge
ORDER BY confidence DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

// AdjustKnowledgeConfidence applies a delta clamped to [0,1] and
// returns the stored value.
func (s *Store) AdjustKnowledgeConfidence(ctx context.Context, id string, delta float64) (float64, error) {
	row := s.DB.QueryRowContext(ctx, `
UPDATE knowledge
SET confidence = GREATEST(0, LEAST(1, confidence + $2)), updated_at = now()
WHERE id=$1
RETURNING confidence
`, id, delta)
	var conf float64
	if err := row.Scan(&conf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return conf, nil
}

// UpdateKnowledge rewrites content, confidence and tags in one pass.
// Used by insight application (merge tombstones, contradiction flags).
func (s *Store) UpdateKnowledge(ctx context.Context, id string, content string, confidence float64, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE knowledge
SET content=$2, confidence=$3, tags=$4, updated_at=now()
WHERE id=$1
`, id, content, ClampConfidence(confidence), pq.Array(tags))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddKnowledgeTags appends tags not already present.
func (s *Store) AddKnowledgeTags(ctx context.Context, id string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE knowledge
SET tags = (SELECT ARRAY(SELECT DISTINCT t FROM unnest(tags || $2::text[]) AS t)), updated_at = now()
WHERE id=$1
`, id, pq.Array(tags))
	return err
}

// TouchKnowledgeAccess refreshes last_accessed for knowledge used in a
// generated response.
func (s *Store) TouchKnowledgeAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE knowledge SET last_accessed = now() WHERE id = ANY($1)
`, pq.Array(ids))
	return err
}

func (s *Store) DeleteKnowledge(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge WHERE id=$1`, id)
	return err
}

func collectKnowledge(rows *sql.Rows) ([]KnowledgeRecord, error) {
	var out []KnowledgeRecord
	for rows.Next() {
		rec, err := scanKnowledge(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
