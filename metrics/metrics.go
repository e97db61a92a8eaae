package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/tzhukov/pollprobe/models"
)

// Prometheus-style counters (uint64 via atomic)
var (
	runsCompleted    atomic.Uint64
	runsTokenExpired atomic.Uint64
	runsCrashed      atomic.Uint64
	runsActive       atomic.Int64

	pollsOK           atomic.Uint64
	pollsUnauthorized atomic.Uint64
	pollsFailed       atomic.Uint64
	pollsFault        atomic.Uint64

	wsConnections atomic.Int64

	lastRunIterations  atomic.Uint64 // gauge semantics
	lastRunDurationBit atomic.Uint64 // float64 bits, gauge semantics
)

func IncRunStarted() { runsActive.Add(1) }

// ObserveRun records the terminal state of a run.
func ObserveRun(outcome models.Outcome, s models.RunSummary) {
	runsActive.Add(-1)
	switch outcome {
	case models.OutcomeCompleted:
		runsCompleted.Add(1)
	case models.OutcomeTokenExpired:
		runsTokenExpired.Add(1)
	case models.OutcomeCrashed:
		runsCrashed.Add(1)
	}
	lastRunIterations.Store(uint64(s.Iterations))
	lastRunDurationBit.Store(math.Float64bits(s.DurationSeconds))
}

// ObservePoll records a downstream call result by status code.
func ObservePoll(status int) {
	switch status {
	case http.StatusOK:
		pollsOK.Add(1)
	case http.StatusUnauthorized:
		pollsUnauthorized.Add(1)
	default:
		pollsFailed.Add(1)
	}
}

func IncPollFault() { pollsFault.Add(1) }

func IncWSConnections() { wsConnections.Add(1) }
func DecWSConnections() { wsConnections.Add(-1) }

// Handler exposes metrics in a minimal Prometheus exposition format.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP pollprobe_runs_total Poll runs by terminal outcome\n")
	fmt.Fprintf(w, "# TYPE pollprobe_runs_total counter\n")
	fmt.Fprintf(w, "pollprobe_runs_total{outcome=\"completed\"} %d\n", runsCompleted.Load())
	fmt.Fprintf(w, "pollprobe_runs_total{outcome=\"token_expired\"} %d\n", runsTokenExpired.Load())
	fmt.Fprintf(w, "pollprobe_runs_total{outcome=\"crashed\"} %d\n", runsCrashed.Load())

	fmt.Fprintf(w, "# HELP pollprobe_runs_active Poll runs currently in progress\n")
	fmt.Fprintf(w, "# TYPE pollprobe_runs_active gauge\n")
	fmt.Fprintf(w, "pollprobe_runs_active %d\n", runsActive.Load())

	fmt.Fprintf(w, "# HELP pollprobe_polls_total Downstream inventory calls by result\n")
	fmt.Fprintf(w, "# TYPE pollprobe_polls_total counter\n")
	fmt.Fprintf(w, "pollprobe_polls_total{result=\"ok\"} %d\n", pollsOK.Load())
	fmt.Fprintf(w, "pollprobe_polls_total{result=\"unauthorized\"} %d\n", pollsUnauthorized.Load())
	fmt.Fprintf(w, "pollprobe_polls_total{result=\"failed\"} %d\n", pollsFailed.Load())
	fmt.Fprintf(w, "pollprobe_polls_total{result=\"fault\"} %d\n", pollsFault.Load())

	fmt.Fprintf(w, "# HELP pollprobe_ws_connections Connected progress feed clients\n")
	fmt.Fprintf(w, "# TYPE pollprobe_ws_connections gauge\n")
	fmt.Fprintf(w, "pollprobe_ws_connections %d\n", wsConnections.Load())

	fmt.Fprintf(w, "# HELP pollprobe_last_run_iterations Iterations performed by the most recent run\n")
	fmt.Fprintf(w, "# TYPE pollprobe_last_run_iterations gauge\n")
	fmt.Fprintf(w, "pollprobe_last_run_iterations %d\n", lastRunIterations.Load())

	fmt.Fprintf(w, "# HELP pollprobe_last_run_duration_seconds Wall-clock duration of the most recent run\n")
	fmt.Fprintf(w, "# TYPE pollprobe_last_run_duration_seconds gauge\n")
	fmt.Fprintf(w, "pollprobe_last_run_duration_seconds %g\n", math.Float64frombits(lastRunDurationBit.Load()))
}
