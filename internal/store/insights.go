package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Insight types. The first four have side effects when applied; the
// rest are conversational signals kept as an audit trail.
const (
	InsightKnowledgeGap           = "knowledge_gap"
	InsightKnowledgeSimilarity    = "knowledge_similarity"
	InsightKnowledgeContradiction = "knowledge_contradiction"
	InsightSynthesizedKnowledge   = "synthesized_knowledge"

	InsightRepetitiveResponses  = "repetitive_responses"
	InsightShortResponses       = "short_responses"
	InsightDefaultResponses     = "default_responses"
	InsightResponseTime         = "response_time"
	InsightDecreasingEngagement = "decreasing_engagement"
	InsightSlowUserResponses    = "slow_user_responses"
	InsightTopicShift           = "topic_shift"
	InsightRepeatedQuestion     = "repeated_question"
)

// Similarity insight recommended actions.
const (
	SimilarityActionMerge  = "merge"
	SimilarityActionReview = "review"
)

type GapInsight struct {
	Topic                 string `json:"topic"`
	Question              string `json:"question,omitempty"`
	RelatedKnowledgeCount int    `json:"relatedKnowledgeCount"`
}

type SimilarityInsight struct {
	Knowledge1ID      string  `json:"knowledge1Id"`
	Knowledge2ID      string  `json:"knowledge2Id"`
	Similarity        float64 `json:"similarity"`
	RecommendedAction string  `json:"recommendedAction"`
}

type ContradictionInsight struct {
	Knowledge1ID string `json:"knowledge1Id"`
	Knowledge2ID string `json:"knowledge2Id"`
	Reason       string `json:"reason,omitempty"`
}

type SynthesisInsight struct {
	Content   string   `json:"content"`
	SourceIDs []string `json:"sourceIds"`
}

// SignalInsight is the payload for conversational pattern insights.
type SignalInsight struct {
	ConversationID string  `json:"conversationId,omitempty"`
	Description    string  `json:"description"`
	Value          float64 `json:"value,omitempty"`
	Count          int     `json:"count,omitempty"`
}

// InsightPayload is the decoded content column. Exactly one branch is
// set, selected by the insight type.
type InsightPayload struct {
	Gap           *GapInsight
	Similarity    *SimilarityInsight
	Contradiction *ContradictionInsight
	Synthesis     *SynthesisInsight
	Signal        *SignalInsight
}

// EncodeInsightPayload produces the canonical JSON for the set branch.
// Struct marshaling gives a stable field order, so identical payloads
// always encode to identical bytes and the (type, content) de-dup can
// compare content directly.
func EncodeInsightPayload(p InsightPayload) ([]byte, error) {
	switch {
	case p.Gap != nil:
		return json.Marshal(p.Gap)
	case p.Similarity != nil:
		return json.Marshal(p.Similarity)
	case p.Contradiction != nil:
		return json.Marshal(p.Contradiction)
	case p.Synthesis != nil:
		return json.Marshal(p.Synthesis)
	case p.Signal != nil:
		return json.Marshal(p.Signal)
	}
	return nil, fmt.Errorf("empty insight payload")
}

// DecodeInsightPayload decodes the content column once, at the store
// boundary, into the branch matching the insight type.
func DecodeInsightPayload(insightType string, raw []byte) (InsightPayload, error) {
	var p InsightPayload
	switch insightType {
	case InsightKnowledgeGap:
		p.Gap = &GapInsight{}
		return p, json.Unmarshal(raw, p.Gap)
	case InsightKnowledgeSimilarity:
		p.Similarity = &SimilarityInsight{}
		return p, json.Unmarshal(raw, p.Similarity)
	case InsightKnowledgeContradiction:
		p.Contradiction = &ContradictionInsight{}
		return p, json.Unmarshal(raw, p.Contradiction)
	case InsightSynthesizedKnowledge:
		p.Synthesis = &SynthesisInsight{}
		return p, json.Unmarshal(raw, p.Synthesis)
	default:
		p.Signal = &SignalInsight{}
		return p, json.Unmarshal(raw, p.Signal)
	}
}

type InsightRecord struct {
	ID         string
	Type       string
	Payload    InsightPayload
	RawContent []byte
	Source     string
	Confidence float64
	Applied    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const insightColumns = `id, type, content, source, confidence, applied, created_at, updated_at`

func scanInsight(scan func(...interface{}) error) (InsightRecord, error) {
	var rec InsightRecord
	if err := scan(&rec.ID, &rec.Type, &rec.RawContent, &rec.Source, &rec.Confidence,
		&rec.Applied, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return InsightRecord{}, err
	}
	payload, err := DecodeInsightPayload(rec.Type, rec.RawContent)
	if err != nil {
		return InsightRecord{}, fmt.Errorf("decode insight %s content: %w", rec.ID, err)
	}
	rec.Payload = payload
	return rec, nil
}

// CreateInsight inserts an insight unless one with the same type and
// content already exists, in which case the existing row is returned
// and created is false.
func (s *Store) CreateInsight(ctx context.Context, insightType string, payload InsightPayload, source string, confidence float64) (InsightRecord, bool, error) {
	if strings.TrimSpace(insightType) == "" {
		return InsightRecord{}, false, fmt.Errorf("insight type required")
	}
	content, err := EncodeInsightPayload(payload)
	if err != nil {
		return InsightRecord{}, false, err
	}

	row := s.DB.QueryRowContext(ctx, `
SELECT `+insightColumns+` FROM insights
WHERE type=$1 AND content=$2::jsonb
LIMIT 1
`, insightType, content)
	existing, err := scanInsight(row.Scan)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return InsightRecord{}, false, err
	}

	row = s.DB.QueryRowContext(ctx, `
INSERT INTO insights (id, type, content, source, confidence)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+insightColumns+`
`, uuid.NewString(), insightType, content, source, ClampConfidence(confidence))
	rec, err := scanInsight(row.Scan)
	if err != nil {
		return InsightRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) GetInsight(ctx context.Context, id string) (InsightRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+insightColumns+` FROM insights WHERE id=$1
`, id)
	rec, err := scanInsight(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InsightRecord{}, false, nil
		}
		return InsightRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListInsights(ctx context.Context, applied *bool, limit int) ([]InsightRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if applied == nil {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+insightColumns+` FROM insights
ORDER BY created_at DESC
LIMIT $1
`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+insightColumns+` FROM insights
WHERE applied=$1
ORDER BY created_at DESC
LIMIT $2
`, *applied, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInsights(rows)
}

// UnappliedInsights returns unapplied insights above the confidence
// floor, highest confidence first.
func (s *Store) UnappliedInsights(ctx context.Context, minConfidence float64, limit int) ([]InsightRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+insightColumns+` FROM insights
WHERE applied=false AND confidence > $1
ORDER BY confidence DESC
LIMIT $2
`, minConfidence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInsights(rows)
}

// MarkInsightApplied flips applied to true. The transition is one-way;
// marking an already applied insight is a no-op.
func (s *Store) MarkInsightApplied(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE insights SET applied=true, updated_at=now() WHERE id=$1
`, id)
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

// DeleteStaleInsights removes unapplied low-confidence insights older
// than the cutoff and reports how many went away.
func (s *Store) DeleteStaleInsights(ctx context.Context, maxConfidence float64, olderThan time.Duration) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM insights
WHERE applied=false AND confidence < $1 AND created_at < now() - $2::interval
`, maxConfidence, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectInsights(rows *sql.Rows) ([]InsightRecord, error) {
	var out []InsightRecord
	for rows.Next() {
		rec, err := scanInsight(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
