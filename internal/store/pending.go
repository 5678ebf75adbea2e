package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prepdesk/prepdesk/internal/history"
)

// PendingStore implements history.Retention over SQL.
type PendingStore struct {
	db *sql.DB
}

func NewPendingStore(db *sql.DB) *PendingStore { return &PendingStore{db: db} }

// Put retains a record whose submission failed. Re-retaining the same record
// bumps its retry counter instead of duplicating it.
func (s *PendingStore) Put(ctx context.Context, rec history.Record, lastErr string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_submissions (id, student_id, payload, last_error, retries, created_at)
		 VALUES ($1,$2,$3,$4,0,$5)
		 ON CONFLICT(id) DO UPDATE SET
		   payload = excluded.payload,
		   last_error = excluded.last_error,
		   retries = pending_submissions.retries + 1`,
		rec.ID, rec.OwnerID, string(payload), lastErr, time.Now().Unix())
	return err
}

func (s *PendingStore) Get(ctx context.Context, id string) (history.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM pending_submissions WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return history.Record{}, fmt.Errorf("pending submission %q not found", id)
	}
	if err != nil {
		return history.Record{}, err
	}
	return decodeRecord(payload)
}

func (s *PendingStore) List(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM pending_submissions ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []history.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PendingStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_submissions WHERE id = $1`, id)
	return err
}

func decodeRecord(payload string) (history.Record, error) {
	var rec history.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return history.Record{}, fmt.Errorf("decode pending submission: %w", err)
	}
	return rec, nil
}
