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

type ProcessingTaskRecord struct {
	ID          string
	MessageID   string
	Status      string
	Services    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type LearningTaskRecord struct {
	ID          string
	Type        string
	SourceID    string
	SourceType  string
	Status      string
	Progress    float64
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

const processingTaskColumns = `id, message_id, status, services, created_at, updated_at, completed_at`

func scanProcessingTask(scan func(...interface{}) error) (ProcessingTaskRecord, error) {
	var rec ProcessingTaskRecord
	var services []byte
	var completed sql.NullTime
	if err := scan(&rec.ID, &rec.MessageID, &rec.Status, &services, &rec.CreatedAt, &rec.UpdatedAt, &completed); err != nil {
		return ProcessingTaskRecord{}, err
	}
	rec.Services = map[string]string{}
	if len(services) > 0 {
		if err := json.Unmarshal(services, &rec.Services); err != nil {
			return ProcessingTaskRecord{}, fmt.Errorf("decode services: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

// CreateProcessingTask enqueues pipeline work for a message. If an
// active task already exists for the message the existing record is
// returned and created is false. The lookup and insert happen inside
// one transaction with the candidate row locked, so concurrent enqueues
// for the same message cannot both insert.
func (s *Store) CreateProcessingTask(ctx context.Context, messageID string, services map[string]string) (ProcessingTaskRecord, bool, error) {
	if strings.TrimSpace(messageID) == "" {
		return ProcessingTaskRecord{}, false, fmt.Errorf("message id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return ProcessingTaskRecord{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT `+processingTaskColumns+` FROM processing_tasks
WHERE message_id=$1 AND status IN ('pending','processing')
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`, messageID)
	existing, err := scanProcessingTask(row.Scan)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return ProcessingTaskRecord{}, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ProcessingTaskRecord{}, false, err
	}

	if services == nil {
		services = map[string]string{}
	}
	svcJSON, err := json.Marshal(services)
	if err != nil {
		return ProcessingTaskRecord{}, false, err
	}
	row = tx.QueryRowContext(ctx, `
INSERT INTO processing_tasks (id, message_id, status, services)
VALUES ($1,$2,'pending',$3)
RETURNING `+processingTaskColumns+`
`, uuid.NewString(), messageID, svcJSON)
	rec, err := scanProcessingTask(row.Scan)
	if err != nil {
		return ProcessingTaskRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return ProcessingTaskRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) GetProcessingTask(ctx context.Context, id string) (ProcessingTaskRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+processingTaskColumns+` FROM processing_tasks WHERE id=$1
`, id)
	rec, err := scanProcessingTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProcessingTaskRecord{}, false, nil
		}
		return ProcessingTaskRecord{}, false, err
	}
	return rec, true, nil
}

// GetProcessingTaskByMessage returns the most recent task for a message.
func (s *Store) GetProcessingTaskByMessage(ctx context.Context, messageID string) (ProcessingTaskRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+processingTaskColumns+` FROM processing_tasks
WHERE message_id=$1
ORDER BY created_at DESC
LIMIT 1
`, messageID)
	rec, err := scanProcessingTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProcessingTaskRecord{}, false, nil
		}
		return ProcessingTaskRecord{}, false, err
	}
	return rec, true, nil
}

// TransitionProcessingTask moves a task to a new status. The current
// row is locked for the duration so two sweeps cannot race the same
// transition. Transitions out of a terminal state are rejected.
func (s *Store) TransitionProcessingTask(ctx context.Context, id string, status string) (ProcessingTaskRecord, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return ProcessingTaskRecord{}, err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM processing_tasks WHERE id=$1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProcessingTaskRecord{}, ErrNotFound
		}
		return ProcessingTaskRecord{}, err
	}
	if taskStatusTerminal(current) {
		return ProcessingTaskRecord{}, fmt.Errorf("task %s is %s: %w", id, current, ErrTaskTerminal)
	}

	row := tx.QueryRowContext(ctx, `
UPDATE processing_tasks
SET status=$2,
    updated_at=now(),
    completed_at=CASE WHEN $2 IN ('completed','failed','canceled') THEN now() ELSE completed_at END
WHERE id=$1
RETURNING `+processingTaskColumns+`
`, id, status)
	rec, err := scanProcessingTask(row.Scan)
	if err != nil {
		return ProcessingTaskRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return ProcessingTaskRecord{}, err
	}
	return rec, nil
}

// SetProcessingServiceStatus records a sub-service status on the task,
// e.g. services.learning = "completed".
func (s *Store) SetProcessingServiceStatus(ctx context.Context, id string, service string, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE processing_tasks
SET services = jsonb_set(services, ARRAY[$2], to_jsonb($3::text), true), updated_at = now()
WHERE id=$1
`, id, service, status)
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

// FailStalledProcessingTasks forces tasks stuck in processing past the
// age threshold to failed and returns their ids.
func (s *Store) FailStalledProcessingTasks(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
UPDATE processing_tasks
SET status='failed', updated_at=now(), completed_at=now(),
    services = services || '{"error": "stalled"}'::jsonb
WHERE status='processing' AND updated_at < now() - $1::interval
RETURNING id
`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const learningTaskColumns = `id, type, source_id, source_type, status, progress, error, created_at, updated_at, completed_at`

func scanLearningTask(scan func(...interface{}) error) (LearningTaskRecord, error) {
	var rec LearningTaskRecord
	var errMsg sql.NullString
	var completed sql.NullTime
	if err := scan(&rec.ID, &rec.Type, &rec.SourceID, &rec.SourceType, &rec.Status,
		&rec.Progress, &errMsg, &rec.CreatedAt, &rec.UpdatedAt, &completed); err != nil {
		return LearningTaskRecord{}, err
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

func (s *Store) CreateLearningTask(ctx context.Context, taskType, sourceID, sourceType string) (LearningTaskRecord, error) {
	if strings.TrimSpace(taskType) == "" {
		return LearningTaskRecord{}, fmt.Errorf("task type required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO learning_tasks (id, type, source_id, source_type, status)
VALUES ($1,$2,$3,$4,'pending')
RETURNING `+learningTaskColumns+`
`, uuid.NewString(), taskType, sourceID, sourceType)
	return scanLearningTask(row.Scan)
}

func (s *Store) GetLearningTask(ctx context.Context, id string) (LearningTaskRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+learningTaskColumns+` FROM learning_tasks WHERE id=$1
`, id)
	rec, err := scanLearningTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LearningTaskRecord{}, false, nil
		}
		return LearningTaskRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListLearningTasks(ctx context.Context, status string, limit int) ([]LearningTaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+learningTaskColumns+` FROM learning_tasks
ORDER BY created_at DESC
LIMIT $1
`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+learningTaskColumns+` FROM learning_tasks
WHERE status=$1
ORDER BY created_at DESC
LIMIT $2
`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LearningTaskRecord
	for rows.Next() {
		rec, err := scanLearningTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetLearningTaskStatus moves a learning task; failed tasks carry the
// error message, terminal transitions stamp completed_at.
func (s *Store) SetLearningTaskStatus(ctx context.Context, id string, status string, errMsg string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE learning_tasks
SET status=$2,
    error=$3,
    updated_at=now(),
    completed_at=CASE WHEN $2 IN ('completed','failed','canceled') THEN now() ELSE completed_at END
WHERE id=$1
`, id, status, nullableString(errMsg))
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

// SetLearningTaskProgress updates progress, rejecting decreases while
// the task is active. Callers treat a decrease as a logic error.
func (s *Store) SetLearningTaskProgress(ctx context.Context, id string, progress float64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current float64
	var status string
	if err := tx.QueryRowContext(ctx, `SELECT progress, status FROM learning_tasks WHERE id=$1 FOR UPDATE`, id).Scan(&current, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !taskStatusTerminal(status) && progress < current {
		return fmt.Errorf("task %s progress %.2f -> %.2f: %w", id, current, progress, ErrProgressDecrease)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE learning_tasks SET progress=$2, updated_at=now() WHERE id=$1
`, id, ClampConfidence(progress)); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentFailedLearningTasks returns tasks that failed inside the retry
// window, oldest first, bounded by limit.
func (s *Store) RecentFailedLearningTasks(ctx context.Context, window time.Duration, limit int) ([]LearningTaskRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+learningTaskColumns+` FROM learning_tasks
WHERE status='failed' AND updated_at > now() - $1::interval
ORDER BY updated_at ASC
LIMIT $2
`, fmt.Sprintf("%d seconds", int(window.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LearningTaskRecord
	for rows.Next() {
		rec, err := scanLearningTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResetLearningTask puts a failed task back to pending for replay.
func (s *Store) ResetLearningTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE learning_tasks
SET status='pending', progress=0, error=NULL, updated_at=now(), completed_at=NULL
WHERE id=$1 AND status='failed'
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
