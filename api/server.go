package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tzhukov/pollprobe/inventory"
	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/metrics"
	"github.com/tzhukov/pollprobe/models"
	"github.com/tzhukov/pollprobe/poller"
	"github.com/tzhukov/pollprobe/report"
	"github.com/tzhukov/pollprobe/token"
)

// QuerierFactory builds the downstream client for one run. accessToken is the
// caller's bearer token and may be empty.
type QuerierFactory func(ctx context.Context, accessToken string) inventory.Querier

// RunLister serves the run history.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int64) ([]models.RunRecord, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	recentRunsLimit = 50
	// recordTimeout bounds reporting so a slow sink cannot hold the response.
	recordTimeout = 5 * time.Second
)

type Server struct {
	mux        *http.ServeMux
	handler    http.Handler
	hub        *Hub
	parser     token.ClaimsParser
	newQuerier QuerierFactory
	recorder   report.Recorder
	runs       RunLister
	deps       map[string]Pinger
	clock      poller.Clock

	recordTimeout time.Duration
}

type Option func(*Server)

func WithRecorder(r report.Recorder) Option { return func(s *Server) { s.recorder = r } }
func WithRunLister(l RunLister) Option { return func(s *Server) { s.runs = l } }
func WithClock(c poller.Clock) Option { return func(s *Server) { s.clock = c } }

// WithDependency adds a named readiness check.
func WithDependency(name string, p Pinger) Option {
	return func(s *Server) { s.deps[name] = p }
}

func NewServer(parser token.ClaimsParser, newQuerier QuerierFactory, opts ...Option) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		hub:        NewHub(),
		parser:     parser,
		newQuerier: newQuerier,
		deps:       map[string]Pinger{},
		clock:      poller.SystemClock{},

		recordTimeout: recordTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	s.handler = RequestIDMiddleware(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/poll", s.handlePoll)
	s.mux.HandleFunc("/runs", s.handleRuns)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/metrics", metrics.Handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Hub exposes the progress feed so in-process runs can publish to it.
func (s *Server) Hub() *Hub { return s.hub }

// handlePoll runs one full poll loop inside the request. The response is 200
// on every outcome; the body says what happened.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// The run is bounded by its own budget, not by the caller staying connected.
	ctx := context.WithoutCancel(r.Context())
	start := s.clock.Now()
	runID := uuid.NewString()
	raw := token.BearerToken(r)

	logger.Info("poll request received",
		logger.FieldKV("run_id", runID),
		logger.FieldKV("request_id", GetRequestID(ctx)))

	in := token.Inspect(ctx, s.parser, raw, start, poller.MaxDuration)

	metrics.IncRunStarted()
	p := poller.New(s.newQuerier(ctx, raw),
		poller.WithClock(s.clock),
		poller.WithObserver(s.hub),
		poller.WithRunID(runID))
	res := p.Run(ctx, start)
	metrics.ObserveRun(res.Outcome, res.Summary)

	if s.recorder != nil {
		rctx, cancel := context.WithTimeout(ctx, s.recordTimeout)
		if err := s.recorder.Record(rctx, report.NewRecord(runID, start, in, res)); err != nil {
			logger.Error("run record failed", err, logger.FieldKV("run_id", runID))
		}
		cancel()
	}

	w.Header().Set("X-Run-ID", runID)
	writeJSON(w, http.StatusOK, res.Summary)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "run history not configured", http.StatusNotFound)
		return
	}
	list, err := s.runs.RecentRuns(r.Context(), recentRunsLimit)
	if err != nil {
		logger.Error("fetch runs failed", err)
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handleWS streams iteration events until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", err)
		return
	}
	s.hub.Add(conn)
	go func() {
		defer s.hub.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()
	for name, p := range s.deps {
		if err := p.Ping(ctx); err != nil {
			logger.Error("readiness check failed", err, logger.FieldKV("dependency", name))
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response failed", err)
	}
}
