package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Exchange is one inbound client email plus the pipeline's drafted reply and
// verdict. RunJSON carries the full pipeline run for diagnostics.
type Exchange struct {
	ID                string
	ClientID          string
	RequestID         string
	ThreadID          string
	Subject           string
	Body              string
	Sender            string
	Recipients        string // JSON array stored as text
	DraftSubject      string
	DraftBody         string
	Recommendation    string
	FinalScore        float64
	Success           bool
	AverageConfidence float64
	RunJSON           string
	CreatedAt         time.Time
}

// StageAudit is one stage's outcome within an exchange, written by the
// archive worker for the analytics surface. Seq is the stage's position in
// the run; listing orders by it, not by timestamp, because fast stages can
// share a creation time.
type StageAudit struct {
	ID         string
	ExchangeID string
	Seq        int
	Stage      string
	Confidence float64
	DurationMs int64
	Issues     string // JSON array stored as text
	CreatedAt  time.Time
}

// Document is stored client context: itineraries, booking confirmations,
// notes. Its content grounds draft generation and hallucination checks.
type Document struct {
	ID        string
	ClientID  string
	Title     string
	Content   string
	Source    string
	Kind      string // "text" or "pdf"
	CreatedAt time.Time
}

// Job is a queued unit of background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
