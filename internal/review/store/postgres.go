package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"dhruv/internal/review/models"
	"dhruv/pkg/platform/sentinel"
	"dhruv/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS review_items (
	id                      TEXT PRIMARY KEY,
	seq                     BIGINT NOT NULL,
	record                  JSONB NOT NULL,
	event_type              TEXT NOT NULL DEFAULT '',
	location                TEXT NOT NULL DEFAULT '',
	district                TEXT NOT NULL DEFAULT '',
	people                  TEXT[] NOT NULL DEFAULT '{}',
	organisations           TEXT[] NOT NULL DEFAULT '{}',
	schemes                 TEXT[] NOT NULL DEFAULT '{}',
	communities             TEXT[] NOT NULL DEFAULT '{}',
	approved                BOOLEAN NOT NULL DEFAULT FALSE,
	approved_at             TIMESTAMPTZ,
	approved_by             TEXT NOT NULL DEFAULT '',
	excluded_from_analytics BOOLEAN NOT NULL DEFAULT FALSE,
	geocode                 JSONB,
	created_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS review_items_pending_idx ON review_items (seq) WHERE NOT approved;

CREATE TABLE IF NOT EXISTS review_corrections (
	position        BIGSERIAL PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	item_id         TEXT NOT NULL REFERENCES review_items (id),
	field           TEXT NOT NULL,
	original_value  JSONB,
	corrected_value JSONB,
	reviewer_id     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS review_corrections_item_idx ON review_corrections (item_id, position);
`

// PostgresMirror persists review items and their correction logs in
// PostgreSQL.
type PostgresMirror struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed mirror.
func NewPostgres(db *sql.DB) *PostgresMirror {
	return &PostgresMirror{db: db}
}

// Migrate creates the tables if they do not exist.
func (m *PostgresMirror) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate review schema: %w", err)
	}
	return nil
}

func (m *PostgresMirror) InsertItems(ctx context.Context, items []*models.ReviewItem) error {
	return tx.Run(ctx, m.db, func(ctx context.Context) error {
		q := tx.Q(ctx, m.db)
		for _, item := range items {
			record, err := json.Marshal(item.Record)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", item.ID, err)
			}
			p := item.Payload
			_, err = q.ExecContext(ctx, `
				INSERT INTO review_items (id, seq, record, event_type, location, district,
					people, organisations, schemes, communities, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				item.ID, item.Seq, record, p.EventType, p.Location, p.District,
				pq.Array(p.People), pq.Array(p.Organisations), pq.Array(p.Schemes), pq.Array(p.Communities),
				item.CreatedAt,
			)
			if err != nil {
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == "23505" {
					return fmt.Errorf("insert review item %s: %w", item.ID, sentinel.ErrConflict)
				}
				return fmt.Errorf("insert review item %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

// SaveApproval flips the stored approval flag. It only matches unapproved rows
// so a second approval surfaces as sentinel.ErrAlreadyUsed.
func (m *PostgresMirror) SaveApproval(ctx context.Context, item *models.ReviewItem) error {
	res, err := tx.Q(ctx, m.db).ExecContext(ctx, `
		UPDATE review_items
		SET approved = TRUE, approved_at = $2, approved_by = $3, excluded_from_analytics = $4
		WHERE id = $1 AND NOT approved`,
		item.ID, item.ApprovedAt, item.ApprovedBy, item.ExcludedFromAnalytics,
	)
	if err != nil {
		return fmt.Errorf("save approval %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save approval %s: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("save approval %s: %w", item.ID, sentinel.ErrAlreadyUsed)
	}
	return nil
}

// AppendCorrections appends log entries and rewrites the payload columns in one
// transaction.
func (m *PostgresMirror) AppendCorrections(ctx context.Context, itemID string, entries []models.CorrectionEntry, p models.Payload) error {
	return tx.Run(ctx, m.db, func(ctx context.Context) error {
		q := tx.Q(ctx, m.db)
		res, err := q.ExecContext(ctx, `
			UPDATE review_items
			SET event_type = $2, location = $3, district = $4,
				people = $5, organisations = $6, schemes = $7, communities = $8
			WHERE id = $1`,
			itemID, p.EventType, p.Location, p.District,
			pq.Array(p.People), pq.Array(p.Organisations), pq.Array(p.Schemes), pq.Array(p.Communities),
		)
		if err != nil {
			return fmt.Errorf("update payload %s: %w", itemID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update payload %s: %w", itemID, sentinel.ErrNotFound)
		}

		for _, e := range entries {
			orig, err := json.Marshal(e.OriginalValue)
			if err != nil {
				return fmt.Errorf("encode correction %s: %w", e.ID, err)
			}
			corrected, err := json.Marshal(e.CorrectedValue)
			if err != nil {
				return fmt.Errorf("encode correction %s: %w", e.ID, err)
			}
			if _, err := q.ExecContext(ctx, `
				INSERT INTO review_corrections (id, item_id, field, original_value, corrected_value, reviewer_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				e.ID, itemID, string(e.Field), orig, corrected, e.ReviewerID, e.Timestamp,
			); err != nil {
				return fmt.Errorf("append correction %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

func (m *PostgresMirror) SaveGeocode(ctx context.Context, itemID string, g models.Geocode) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode geocode: %w", err)
	}
	if _, err := tx.Q(ctx, m.db).ExecContext(ctx,
		`UPDATE review_items SET geocode = $2 WHERE id = $1 AND geocode IS NULL`, itemID, raw); err != nil {
		return fmt.Errorf("save geocode %s: %w", itemID, err)
	}
	return nil
}

// LoadAll reads every item with its correction log, ordered by sequence.
func (m *PostgresMirror) LoadAll(ctx context.Context) ([]*models.ReviewItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, seq, record, event_type, location, district,
			people, organisations, schemes, communities,
			approved, approved_at, approved_by, excluded_from_analytics, geocode, created_at
		FROM review_items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load review items: %w", err)
	}
	defer rows.Close()

	var (
		items []*models.ReviewItem
		byID  = make(map[string]*models.ReviewItem)
	)
	for rows.Next() {
		var (
			id, approvedBy     string
			seq                int64
			record, geocode    []byte
			p                  models.Payload
			approved, excluded bool
			approvedAt         sql.NullTime
			createdAt          time.Time
		)
		if err := rows.Scan(&id, &seq, &record, &p.EventType, &p.Location, &p.District,
			pq.Array(&p.People), pq.Array(&p.Organisations), pq.Array(&p.Schemes), pq.Array(&p.Communities),
			&approved, &approvedAt, &approvedBy, &excluded, &geocode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}

		var rec models.RawParseRecord
		if err := json.Unmarshal(record, &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", id, err)
		}
		item, err := models.NewReviewItem(rec, createdAt)
		if err != nil {
			return nil, fmt.Errorf("rebuild item %s: %w", id, err)
		}
		item.Seq = seq
		item.Payload = p
		item.Payload.Normalize()
		if approved {
			item.ApplyApproval(excluded, approvedBy, approvedAt.Time)
		}
		if len(geocode) > 0 {
			var g models.Geocode
			if err := json.Unmarshal(geocode, &g); err != nil {
				return nil, fmt.Errorf("decode geocode %s: %w", id, err)
			}
			item.AttachGeocode(g)
		}
		items = append(items, item)
		byID[id] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load review items: %w", err)
	}

	if err := m.loadCorrections(ctx, byID); err != nil {
		return nil, err
	}
	return items, nil
}

func (m *PostgresMirror) loadCorrections(ctx context.Context, byID map[string]*models.ReviewItem) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, item_id, field, original_value, corrected_value, reviewer_id, created_at
		FROM review_corrections ORDER BY position`)
	if err != nil {
		return fmt.Errorf("load corrections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e               models.CorrectionEntry
			itemID, field   string
			orig, corrected []byte
		)
		if err := rows.Scan(&e.ID, &itemID, &field, &orig, &corrected, &e.ReviewerID, &e.Timestamp); err != nil {
			return fmt.Errorf("scan correction: %w", err)
		}
		item, ok := byID[itemID]
		if !ok {
			continue
		}
		e.Field = models.Field(field)
		if e.OriginalValue, err = decodeValue(e.Field, orig); err != nil {
			return err
		}
		if e.CorrectedValue, err = decodeValue(e.Field, corrected); err != nil {
			return err
		}
		item.CorrectionLog = append(item.CorrectionLog, e)
	}
	return rows.Err()
}

// decodeValue restores the Go type a correction value had when it was logged.
func decodeValue(f models.Field, raw []byte) (any, error) {
	var probe models.Payload
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode correction value: %w", err)
	}
	if err := probe.Set(f, v); err != nil {
		return v, nil
	}
	return probe.Get(f)
}
