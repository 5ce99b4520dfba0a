package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type DefaultResponseRecord struct {
	ID           string
	ResponseText string
	Context      string
	Priority     int
	CreatedAt    time.Time
}

type ResponseTemplateRecord struct {
	ID        string
	Template  string
	Context   string
	Usage     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ResponseLogRecord struct {
	ID                  string
	MessageID           string
	ConversationID      string
	UsedKnowledgeIDs    []string
	UsedDefaultResponse bool
	UsedTemplate        bool
	TemplateID          string
	Confidence          float64
	CreatedAt           time.Time
}

func scanDefaultResponse(scan func(...interface{}) error) (DefaultResponseRecord, error) {
	var rec DefaultResponseRecord
	var rctx sql.NullString
	if err := scan(&rec.ID, &rec.ResponseText, &rctx, &rec.Priority, &rec.CreatedAt); err != nil {
		return DefaultResponseRecord{}, err
	}
	if rctx.Valid {
		rec.Context = rctx.String
	}
	return rec, nil
}

// ListDefaultResponses returns all defaults ordered by priority,
// highest first.
func (s *Store) ListDefaultResponses(ctx context.Context) ([]DefaultResponseRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, response_text, context, priority, created_at
FROM default_responses
ORDER BY priority DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DefaultResponseRecord
	for rows.Next() {
		rec, err := scanDefaultResponse(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreateDefaultResponse(ctx context.Context, text, context_ string, priority int) (DefaultResponseRecord, error) {
	if strings.TrimSpace(text) == "" {
		return DefaultResponseRecord{}, fmt.Errorf("response text required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO default_responses (id, response_text, context, priority)
VALUES ($1,$2,$3,$4)
RETURNING id, response_text, context, priority, created_at
`, uuid.NewString(), text, nullableString(context_), priority)
	return scanDefaultResponse(row.Scan)
}

const templateColumns = `id, template, context, usage, created_at, updated_at`

func scanTemplate(scan func(...interface{}) error) (ResponseTemplateRecord, error) {
	var rec ResponseTemplateRecord
	var tctx sql.NullString
	if err := scan(&rec.ID, &rec.Template, &tctx, &rec.Usage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ResponseTemplateRecord{}, err
	}
	if tctx.Valid {
		rec.Context = tctx.String
	}
	return rec, nil
}

// ListTemplatesForContext returns templates matching the context type
// or context-agnostic ones, most used first.
func (s *Store) ListTemplatesForContext(ctx context.Context, contextType string) ([]ResponseTemplateRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+templateColumns+` FROM response_templates
WHERE context IS NULL OR context=$1
ORDER BY usage DESC
`, contextType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResponseTemplateRecord
	for rows.Next() {
		rec, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListTemplates(ctx context.Context) ([]ResponseTemplateRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+templateColumns+` FROM response_templates
ORDER BY usage DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResponseTemplateRecord
	for rows.Next() {
		rec, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreateTemplate(ctx context.Context, template, context_ string) (ResponseTemplateRecord, error) {
	if strings.TrimSpace(template) == "" {
		return ResponseTemplateRecord{}, fmt.Errorf("template required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO response_templates (id, template, context)
VALUES ($1,$2,$3)
RETURNING `+templateColumns+`
`, uuid.NewString(), template, nullableString(context_))
	return scanTemplate(row.Scan)
}

func (s *Store) IncrementTemplateUsage(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE response_templates SET usage = usage + 1, updated_at = now() WHERE id=$1
`, id)
	return err
}

func (s *Store) InsertResponseLog(ctx context.Context, rec ResponseLogRecord) (ResponseLogRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UsedKnowledgeIDs == nil {
		rec.UsedKnowledgeIDs = []string{}
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO response_logs (id, message_id, conversation_id, used_knowledge_ids, used_default_response, used_template, template_id, confidence)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, message_id, conversation_id, used_knowledge_ids, used_default_response, used_template, template_id, confidence, created_at
`, rec.ID, rec.MessageID, rec.ConversationID, pq.Array(rec.UsedKnowledgeIDs),
		rec.UsedDefaultResponse, rec.UsedTemplate, nullableString(rec.TemplateID), rec.Confidence)
	return scanResponseLog(row.Scan)
}

func scanResponseLog(scan func(...interface{}) error) (ResponseLogRecord, error) {
	var rec ResponseLogRecord
	var tmplID sql.NullString
	if err := scan(&rec.ID, &rec.MessageID, &rec.ConversationID, pq.Array(&rec.UsedKnowledgeIDs),
		&rec.UsedDefaultResponse, &rec.UsedTemplate, &tmplID, &rec.Confidence, &rec.CreatedAt); err != nil {
		return ResponseLogRecord{}, err
	}
	if tmplID.Valid {
		rec.TemplateID = tmplID.String
	}
	return rec, nil
}

func (s *Store) ListResponseLogs(ctx context.Context, conversationID string, limit int) ([]ResponseLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if conversationID == "" {
		rows, err = s.DB.QueryContext(ctx, `
SELECT id, message_id, conversation_id, used_knowledge_ids, used_default_response, used_template, template_id, confidence, created_at
FROM response_logs
ORDER BY created_at DESC
LIMIT $1
`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT id, message_id, conversation_id, used_knowledge_ids, used_default_response, used_template, template_id, confidence, created_at
FROM response_logs
WHERE conversation_id=$1
ORDER BY created_at DESC
LIMIT $2
`, conversationID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResponseLogRecord
	for rows.Next() {
		rec, err := scanResponseLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountDefaultResponseUses counts generated replies in a conversation
// that fell back to a default response.
func (s *Store) CountDefaultResponseUses(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM response_logs
WHERE conversation_id=$1 AND used_default_response=true
`, conversationID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
