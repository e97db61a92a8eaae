// Package report hands finished run records to the configured sinks.
package report

import (
	"context"
	"time"

	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/models"
	"github.com/tzhukov/pollprobe/poller"
	"github.com/tzhukov/pollprobe/token"
)

// Recorder persists or forwards a run record.
type Recorder interface {
	Record(ctx context.Context, rec models.RunRecord) error
}

// Multi records to every sink in order. A failing sink is logged and skipped.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, rec models.RunRecord) error {
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil {
			logger.Error("run record sink failed", err, logger.FieldKV("run_id", rec.RunID))
		}
	}
	return nil
}

// NewRecord assembles the record for one run.
func NewRecord(runID string, start time.Time, in token.Inspection, res poller.Result) models.RunRecord {
	rec := models.RunRecord{
		RunID:     runID,
		Outcome:   res.Outcome,
		StartedAt: start.UTC(),
		Summary:   res.Summary,
	}
	if in.Claims != nil && in.Claims.ExpiresAt != nil {
		exp := in.Claims.ExpiresAt.UTC()
		rec.TokenExpiry = &exp
	}
	if in.TTL != nil {
		secs := in.TTL.Seconds()
		rec.TokenTTLSecs = &secs
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}
