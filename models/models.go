package models

import "time"

// RunSummary is the body returned by POST /poll on every exit path.
type RunSummary struct {
	Message         string  `json:"message"`
	DurationSeconds float64 `json:"duration_seconds"`
	Iterations      int     `json:"iterations"`
}

// Outcome is the terminal state a poll run ended in.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeTokenExpired Outcome = "token_expired"
	OutcomeCrashed      Outcome = "crashed"
)

// RunRecord is what gets reported to Kafka and MongoDB after a run.
type RunRecord struct {
	RunID        string     `json:"run_id" bson:"run_id"`
	Outcome      Outcome    `json:"outcome" bson:"outcome"`
	StartedAt    time.Time  `json:"started_at" bson:"started_at"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty" bson:"token_expiry,omitempty"`
	TokenTTLSecs *float64   `json:"token_ttl_seconds,omitempty" bson:"token_ttl_seconds,omitempty"`
	Error        string     `json:"error,omitempty" bson:"error,omitempty"`
	Summary      RunSummary `json:"summary" bson:"summary"`
}

// IterationEvent describes one completed downstream call.
type IterationEvent struct {
	RunID          string  `json:"run_id"`
	Iteration      int     `json:"iteration"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	StatusCode     int     `json:"status_code"`
	TraceID        string  `json:"trace_id,omitempty"`
}
