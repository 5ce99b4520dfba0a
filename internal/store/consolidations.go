package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ConsolidationRecord struct {
	ID             string
	Status         string
	KnowledgeCount int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

const consolidationColumns = `id, status, knowledge_count, started_at, completed_at, created_at`

func scanConsolidation(scan func(...interface{}) error) (ConsolidationRecord, error) {
	var rec ConsolidationRecord
	var started, completed sql.NullTime
	if err := scan(&rec.ID, &rec.Status, &rec.KnowledgeCount, &started, &completed, &rec.CreatedAt); err != nil {
		return ConsolidationRecord{}, err
	}
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

func (s *Store) CreateConsolidation(ctx context.Context) (ConsolidationRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO knowledge_consolidations (id, status)
VALUES ($1,'pending')
RETURNING `+consolidationColumns+`
`, uuid.NewString())
	return scanConsolidation(row.Scan)
}

func (s *Store) GetConsolidation(ctx context.Context, id string) (ConsolidationRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+consolidationColumns+` FROM knowledge_consolidations WHERE id=$1
`, id)
	rec, err := scanConsolidation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConsolidationRecord{}, false, nil
		}
		return ConsolidationRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) StartConsolidation(ctx context.Context, id string, knowledgeCount int) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE knowledge_consolidations
SET status='processing', knowledge_count=$2, started_at=now()
WHERE id=$1
`, id, knowledgeCount)
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

func (s *Store) FinishConsolidation(ctx context.Context, id string, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE knowledge_consolidations
SET status=$2, completed_at=now()
WHERE id=$1
`, id, status)
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

// LatestConsolidationTime reports when the last completed consolidation
// finished; used to gate the cron schedule.
func (s *Store) LatestConsolidationTime(ctx context.Context) (*time.Time, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT completed_at FROM knowledge_consolidations
WHERE status='completed' AND completed_at IS NOT NULL
ORDER BY completed_at DESC
LIMIT 1
`)
	var t sql.NullTime
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	out := t.Time
	return &out, nil
}
