package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"dhruv/internal/feedback/models"
	review "dhruv/internal/review/models"
	"dhruv/pkg/platform/sentinel"
)

// SQLiteStore is the durable training-example log.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open feedback db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate feedback db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_examples (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			original_text TEXT NOT NULL,
			original_payload TEXT NOT NULL,
			corrected_payload TEXT NOT NULL,
			changes TEXT NOT NULL,
			reviewer_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			forwarded_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_training_examples_status ON training_examples(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_training_examples_item ON training_examples(item_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, e *models.TrainingExample) error {
	original, err := json.Marshal(e.OriginalPayload)
	if err != nil {
		return fmt.Errorf("encode original payload: %w", err)
	}
	corrected, err := json.Marshal(e.CorrectedPayload)
	if err != nil {
		return fmt.Errorf("encode corrected payload: %w", err)
	}
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	var forwardedAt sql.NullString
	if e.ForwardedAt != nil {
		forwardedAt = sql.NullString{String: formatTime(*e.ForwardedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO training_examples(
			id, item_id, original_text, original_payload, corrected_payload, changes,
			reviewer_id, status, decision, reason, last_error, attempts, created_at, forwarded_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, decision=excluded.decision,
			reason=excluded.reason, last_error=excluded.last_error, attempts=excluded.attempts,
			forwarded_at=excluded.forwarded_at`,
		e.ID, e.ItemID, e.OriginalText, string(original), string(corrected), string(changes),
		e.ReviewerID, string(e.Status), string(e.Decision), e.Reason, e.LastError, e.Attempts,
		formatTime(e.CreatedAt), forwardedAt)
	if err != nil {
		return fmt.Errorf("save training example: %w", err)
	}
	return nil
}

// Claim moves example id from one status to another and reports whether this
// caller made the move.
func (s *SQLiteStore) Claim(ctx context.Context, id string, from, to models.ForwardStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE training_examples SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("claim training example: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim training example: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM training_examples WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete training example: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, item_id, original_text, original_payload, corrected_payload, changes,
	reviewer_id, status, decision, reason, last_error, attempts, created_at, forwarded_at
	FROM training_examples`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.TrainingExample, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanExample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status models.ForwardStatus) ([]*models.TrainingExample, error) {
	return s.list(ctx, selectColumns+` WHERE status = ? ORDER BY rowid`, string(status))
}

func (s *SQLiteStore) ListByItem(ctx context.Context, itemID string) ([]*models.TrainingExample, error) {
	return s.list(ctx, selectColumns+` WHERE item_id = ? ORDER BY rowid`, itemID)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*models.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list training examples: %w", err)
	}
	defer rows.Close()

	var out []*models.TrainingExample
	for rows.Next() {
		e, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExample(row scanner) (*models.TrainingExample, error) {
	var (
		e                            models.TrainingExample
		original, corrected, changes string
		status, decision, createdAt  string
		forwardedAt                  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ItemID, &e.OriginalText, &original, &corrected, &changes,
		&e.ReviewerID, &status, &decision, &e.Reason, &e.LastError, &e.Attempts, &createdAt, &forwardedAt); err != nil {
		return nil, err
	}
	e.Status = models.ForwardStatus(status)
	e.Decision = models.Decision(decision)

	if err := json.Unmarshal([]byte(original), &e.OriginalPayload); err != nil {
		return nil, fmt.Errorf("decode original payload: %w", err)
	}
	if err := json.Unmarshal([]byte(corrected), &e.CorrectedPayload); err != nil {
		return nil, fmt.Errorf("decode corrected payload: %w", err)
	}
	var raw []review.FieldChange
	if err := json.Unmarshal([]byte(changes), &raw); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	e.Changes = raw

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if forwardedAt.Valid {
		at, err := parseTime(forwardedAt.String)
		if err != nil {
			return nil, err
		}
		e.ForwardedAt = &at
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
