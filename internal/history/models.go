// Package history maintains the student's test history: the TTL-bound cache
// of backend records, the live-feed view, and the reconciliation that merges
// the two without duplicates or stale identity data.
package history

import (
	"time"

	"github.com/prepdesk/prepdesk/internal/score"
)

// Provenance records which identity-resolution rule produced a record's
// displayed student name/id. Records arrive from three write paths (this
// session's own submission, another device synced later, a backend
// migration) that populate identity fields inconsistently.
type Provenance string

const (
	SourceProfile   Provenance = "profile"   // fresh profile of the authenticated student
	SourceEmbedded  Provenance = "embedded"  // student-info object on the record
	SourceReference Provenance = "reference" // structured student reference
	SourceMatched   Provenance = "matched"   // bare id matched against a known identity
	SourceUnknown   Provenance = "unknown"
)

// StudentInfo is the embedded identity object some records carry.
type StudentInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// StudentRef is the structured reference older records carry instead.
type StudentRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Record is one durable test outcome. Records are immutable once stored; a
// newer record with the same ID supersedes, never mutates, an older one.
type Record struct {
	ID           string          `json:"id"`
	Subject      string          `json:"subject"`
	Score        int             `json:"score"`
	TotalTimeSec int             `json:"total_time_sec"`
	Outcomes     []score.Outcome `json:"outcomes,omitempty"`

	// Identity material as delivered; resolution fills the display fields.
	OwnerID string       `json:"owner_id,omitempty"`
	Info    *StudentInfo `json:"student_info,omitempty"`
	Ref     *StudentRef  `json:"student_ref,omitempty"`

	StudentName string     `json:"student_name"`
	StudentID   string     `json:"student_id"`
	Provenance  Provenance `json:"provenance"`

	Timestamp time.Time `json:"timestamp"`
}

// Identity is a resolved student identity with its freshness stamp.
type Identity struct {
	Name      string     `json:"name"`
	ID        string     `json:"id"`
	Source    Provenance `json:"source"`
	FetchedAt time.Time  `json:"fetched_at"`
}
