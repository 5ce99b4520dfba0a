package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FeedbackRecord struct {
	ID           string
	MessageID    string
	Rating       *int
	FeedbackText string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type LearningSourceRecord struct {
	ID          string
	URL         string
	Title       string
	Content     string
	Status      string
	LastCrawled *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const feedbackColumns = `id, message_id, rating, feedback_text, created_at, updated_at`

func scanFeedback(scan func(...interface{}) error) (FeedbackRecord, error) {
	var rec FeedbackRecord
	var rating sql.NullInt64
	var text sql.NullString
	if err := scan(&rec.ID, &rec.MessageID, &rating, &text, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return FeedbackRecord{}, err
	}
	if rating.Valid {
		r := int(rating.Int64)
		rec.Rating = &r
	}
	if text.Valid {
		rec.FeedbackText = text.String
	}
	return rec, nil
}

func (s *Store) CreateFeedback(ctx context.Context, messageID string, rating *int, feedbackText string) (FeedbackRecord, error) {
	if strings.TrimSpace(messageID) == "" {
		return FeedbackRecord{}, fmt.Errorf("message id required")
	}
	var ratingArg interface{}
	if rating != nil {
		ratingArg = *rating
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO feedback (id, message_id, rating, feedback_text)
VALUES ($1,$2,$3,$4)
RETURNING `+feedbackColumns+`
`, uuid.NewString(), messageID, ratingArg, nullableString(feedbackText))
	return scanFeedback(row.Scan)
}

func (s *Store) GetFeedback(ctx context.Context, id string) (FeedbackRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+feedbackColumns+` FROM feedback WHERE id=$1
`, id)
	rec, err := scanFeedback(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FeedbackRecord{}, false, nil
		}
		return FeedbackRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) UpdateFeedback(ctx context.Context, id string, rating *int, feedbackText string) (FeedbackRecord, error) {
	var ratingArg interface{}
	if rating != nil {
		ratingArg = *rating
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE feedback
SET rating=COALESCE($2::int, rating),
    feedback_text=COALESCE($3, feedback_text),
    updated_at=now()
WHERE id=$1
RETURNING `+feedbackColumns+`
`, id, ratingArg, nullableString(feedbackText))
	rec, err := scanFeedback(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FeedbackRecord{}, ErrNotFound
		}
		return FeedbackRecord{}, err
	}
	return rec, nil
}

const learningSourceColumns = `id, url, title, content, status, last_crawled, created_at, updated_at`

func scanLearningSource(scan func(...interface{}) error) (LearningSourceRecord, error) {
	var rec LearningSourceRecord
	var title, content sql.NullString
	var crawled sql.NullTime
	if err := scan(&rec.ID, &rec.URL, &title, &content, &rec.Status, &crawled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return LearningSourceRecord{}, err
	}
	if title.Valid {
		rec.Title = title.String
	}
	if content.Valid {
		rec.Content = content.String
	}
	if crawled.Valid {
		t := crawled.Time
		rec.LastCrawled = &t
	}
	return rec, nil
}

func (s *Store) CreateLearningSource(ctx context.Context, url string) (LearningSourceRecord, error) {
	if strings.TrimSpace(url) == "" {
		return LearningSourceRecord{}, fmt.Errorf("source url required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO learning_sources (id, url, status)
VALUES ($1,$2,'queued')
RETURNING `+learningSourceColumns+`
`, uuid.NewString(), url)
	return scanLearningSource(row.Scan)
}

func (s *Store) GetLearningSource(ctx context.Context, id string) (LearningSourceRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+learningSourceColumns+` FROM learning_sources WHERE id=$1
`, id)
	rec, err := scanLearningSource(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LearningSourceRecord{}, false, nil
		}
		return LearningSourceRecord{}, false, err
	}
	return rec, true, nil
}

// QueuedLearningSources returns sources awaiting a crawl, oldest first.
func (s *Store) QueuedLearningSources(ctx context.Context, limit int) ([]LearningSourceRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+learningSourceColumns+` FROM learning_sources
WHERE status='queued'
ORDER BY created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LearningSourceRecord
	for rows.Next() {
		rec, err := scanLearningSource(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateLearningSource records crawl results and status; a processed
// source stamps last_crawled.
func (s *Store) UpdateLearningSource(ctx context.Context, id, status, title, content string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE learning_sources
SET status=$2,
    title=COALESCE($3, title),
    content=COALESCE($4, content),
    last_crawled=CASE WHEN $2='processed' THEN now() ELSE last_crawled END,
    updated_at=now()
WHERE id=$1
`, id, status, nullableString(title), nullableString(content))
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
