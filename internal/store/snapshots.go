package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prepdesk/prepdesk/internal/history"
)

// SnapshotStore implements history.Snapshots over SQL. One row per student
// holds the last successfully fetched record list.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore { return &SnapshotStore{db: db} }

// Replace overwrites the student's snapshot with the given records.
func (s *SnapshotStore) Replace(ctx context.Context, studentID string, recs []history.Record) error {
	payload, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history_snapshots (student_id, payload, stamped_at)
		 VALUES ($1,$2,$3)
		 ON CONFLICT(student_id) DO UPDATE SET
		   payload = excluded.payload,
		   stamped_at = excluded.stamped_at`,
		studentID, string(payload), time.Now().Unix())
	return err
}

// Load returns the student's last snapshot, or an empty list when none exists.
func (s *SnapshotStore) Load(ctx context.Context, studentID string) ([]history.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM history_snapshots WHERE student_id = $1`, studentID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []history.Record
	if err := json.Unmarshal([]byte(payload), &recs); err != nil {
		return nil, fmt.Errorf("decode history snapshot: %w", err)
	}
	return recs, nil
}
