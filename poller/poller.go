// Package poller runs the bounded liveness loop: one downstream call per poll
// interval until the time budget is spent, the token is rejected, or a fault
// stops the run.
package poller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tzhukov/pollprobe/inventory"
	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/metrics"
	"github.com/tzhukov/pollprobe/models"
	"github.com/tzhukov/pollprobe/tracing"
)

const (
	MaxDuration  = 660 * time.Second
	PollInterval = 60 * time.Second
	// QueryLimit keeps each call as cheap as the API allows.
	QueryLimit = 1
)

const (
	msgCompleted    = "Long polling completed successfully"
	msgTokenExpired = "Token expired"
	msgCrashed      = "Poll run crashed: "
)

// Clock abstracts wall time so runs can be simulated.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observer is told about every completed downstream call, synchronously.
type Observer interface {
	OnIteration(ctx context.Context, ev models.IterationEvent)
}

// Result is the terminal state of a run.
type Result struct {
	Summary models.RunSummary
	Outcome models.Outcome
	// Err is the fault behind OutcomeCrashed.
	Err error
}

type Poller struct {
	querier      inventory.Querier
	clock        Clock
	observer     Observer
	runID        string
	maxDuration  time.Duration
	pollInterval time.Duration
}

type Option func(*Poller)

func WithClock(c Clock) Option { return func(p *Poller) { p.clock = c } }
func WithObserver(o Observer) Option { return func(p *Poller) { p.observer = o } }
func WithRunID(id string) Option { return func(p *Poller) { p.runID = id } }

func New(q inventory.Querier, opts ...Option) *Poller {
	p := &Poller{
		querier:      q,
		clock:        SystemClock{},
		maxDuration:  MaxDuration,
		pollInterval: PollInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poller) elapsed(start time.Time) time.Duration { return p.clock.Now().Sub(start) }

// Run polls from start until a terminal state is reached. It always returns a
// summary; faults, including panics, become OutcomeCrashed.
func (p *Poller) Run(ctx context.Context, start time.Time) (res Result) {
	ctx, span := tracing.Tracer().Start(ctx, "poll.run", trace.WithAttributes(
		attribute.String("pollprobe.run_id", p.runID),
		attribute.Float64("pollprobe.max_duration_seconds", p.maxDuration.Seconds()),
	))
	defer span.End()

	logger.Info("starting long polling run",
		logger.FieldKV("run_id", p.runID),
		logger.FieldKV("start", start.Unix()),
		logger.FieldKV("target_seconds", p.maxDuration.Seconds()))

	iterations := 0
	defer func() {
		if r := recover(); r != nil {
			metrics.IncPollFault()
			res = p.crashed(start, iterations, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(
			attribute.String("pollprobe.outcome", string(res.Outcome)),
			attribute.Int("pollprobe.iterations", res.Summary.Iterations),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	for {
		elapsed := p.elapsed(start)
		if elapsed >= p.maxDuration {
			logger.Info("reached maximum duration, stopping", logger.FieldKV("run_id", p.runID))
			break
		}

		logger.Info("polling API",
			logger.FieldKV("run_id", p.runID),
			logger.FieldKV("iteration", iterations+1),
			logger.FieldKV("elapsed_seconds", elapsed.Seconds()))

		resp, err := p.poll(ctx, iterations+1)
		if err != nil {
			metrics.IncPollFault()
			return p.crashed(start, iterations, err)
		}
		iterations++
		metrics.ObservePoll(resp.StatusCode)
		p.notify(ctx, iterations, elapsed, resp)

		if resp.StatusCode == http.StatusOK {
			traceID := resp.TraceID()
			if traceID == "" {
				traceID = "N/A"
			}
			logger.Info("API call succeeded", logger.FieldKV("run_id", p.runID), logger.FieldKV("trace_id", traceID))
		} else {
			logger.Error("API call failed", fmt.Errorf("status %d", resp.StatusCode),
				logger.FieldKV("run_id", p.runID),
				logger.FieldKV("status", resp.StatusCode),
				logger.FieldKV("body", string(resp.Body)))
			if resp.StatusCode == http.StatusUnauthorized {
				logger.Error("downstream rejected token, treating as expired", nil, logger.FieldKV("run_id", p.runID))
				return Result{
					Summary: models.RunSummary{Message: msgTokenExpired, DurationSeconds: elapsed.Seconds(), Iterations: iterations},
					Outcome: models.OutcomeTokenExpired,
				}
			}
		}

		remaining := p.maxDuration - p.elapsed(start)
		if remaining <= 0 {
			break
		}
		if err := p.clock.Sleep(ctx, min(p.pollInterval, remaining)); err != nil {
			return p.crashed(start, iterations, fmt.Errorf("sleep interrupted: %w", err))
		}
	}

	total := p.elapsed(start)
	logger.Info("run completed successfully",
		logger.FieldKV("run_id", p.runID),
		logger.FieldKV("duration_seconds", total.Seconds()),
		logger.FieldKV("iterations", iterations))
	return Result{
		Summary: models.RunSummary{Message: msgCompleted, DurationSeconds: total.Seconds(), Iterations: iterations},
		Outcome: models.OutcomeCompleted,
	}
}

func (p *Poller) poll(ctx context.Context, attempt int) (*inventory.Response, error) {
	ctx, span := tracing.Tracer().Start(ctx, "poll.iteration", trace.WithAttributes(
		attribute.Int("pollprobe.iteration", attempt),
	))
	defer span.End()

	resp, err := p.querier.QueryDevices(ctx, QueryLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if id := resp.TraceID(); id != "" {
		span.SetAttributes(attribute.String("pollprobe.downstream_trace_id", id))
	}
	return resp, nil
}

func (p *Poller) notify(ctx context.Context, iteration int, elapsed time.Duration, resp *inventory.Response) {
	if p.observer == nil {
		return
	}
	p.observer.OnIteration(ctx, models.IterationEvent{
		RunID:          p.runID,
		Iteration:      iteration,
		ElapsedSeconds: elapsed.Seconds(),
		StatusCode:     resp.StatusCode,
		TraceID:        resp.TraceID(),
	})
}

func (p *Poller) crashed(start time.Time, iterations int, err error) Result {
	logger.Error("poll run crashed", err, logger.FieldKV("run_id", p.runID), logger.FieldKV("iterations", iterations))
	return Result{
		Summary: models.RunSummary{
			Message:         msgCrashed + err.Error(),
			DurationSeconds: p.elapsed(start).Seconds(),
			Iterations:      iterations,
		},
		Outcome: models.OutcomeCrashed,
		Err:     err,
	}
}
