package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzhukov/pollprobe/inventory"
	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/models"
	"github.com/tzhukov/pollprobe/token"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type mockQuerier struct {
	calls   int
	statusN map[int]int
	errOn   int
}

func (m *mockQuerier) QueryDevices(context.Context, int) (*inventory.Response, error) {
	m.calls++
	if m.errOn == m.calls {
		return nil, errors.New("dial tcp: connection refused")
	}
	code := http.StatusOK
	if c, ok := m.statusN[m.calls]; ok {
		code = c
	}
	return &inventory.Response{StatusCode: code, Header: http.Header{}}, nil
}

type mockRecorder struct{ got []models.RunRecord }

func (m *mockRecorder) Record(_ context.Context, rec models.RunRecord) error {
	m.got = append(m.got, rec)
	return nil
}

// stalledRecorder blocks until its context is done.
type stalledRecorder struct{ hadDeadline bool }

func (m *stalledRecorder) Record(ctx context.Context, _ models.RunRecord) error {
	_, m.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

type mockRuns struct {
	list []models.RunRecord
	err  error
}

func (m *mockRuns) RecentRuns(context.Context, int64) ([]models.RunRecord, error) {
	return m.list, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

func newTestServer(q *mockQuerier, opts ...Option) (*Server, *[]string) {
	var tokens []string
	factory := func(_ context.Context, accessToken string) inventory.Querier {
		tokens = append(tokens, accessToken)
		return q
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewServer(token.NewUnverifiedParser(), factory, opts...), &tokens
}

func decodeSummary(t *testing.T, w *httptest.ResponseRecorder) models.RunSummary {
	t.Helper()
	var s models.RunSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	return s
}

func TestPollCompletes(t *testing.T) {
	q := &mockQuerier{}
	rec := &mockRecorder{}
	srv, tokens := newTestServer(q, WithRecorder(rec))

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/poll", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSummary(t, w)
	assert.Equal(t, "Long polling completed successfully", s.Message)
	assert.Equal(t, 11, s.Iterations)
	assert.Equal(t, 660.0, s.DurationSeconds)
	assert.Equal(t, []string{tok}, *tokens)
	assert.NotEmpty(t, w.Header().Get("X-Run-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	require.Len(t, rec.got, 1)
	assert.Equal(t, models.OutcomeCompleted, rec.got[0].Outcome)
	assert.Equal(t, w.Header().Get("X-Run-ID"), rec.got[0].RunID)
	require.NotNil(t, rec.got[0].TokenTTLSecs)
	assert.Equal(t, 3600.0, *rec.got[0].TokenTTLSecs)
}

func TestPollTokenExpiredStill200(t *testing.T) {
	q := &mockQuerier{statusN: map[int]int{2: http.StatusUnauthorized}}
	srv, _ := newTestServer(q)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/poll", nil))

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSummary(t, w)
	assert.Equal(t, "Token expired", s.Message)
	assert.Equal(t, 2, s.Iterations)
	assert.Equal(t, 60.0, s.DurationSeconds)
}

func TestPollCrashStill200(t *testing.T) {
	q := &mockQuerier{errOn: 1}
	rec := &mockRecorder{}
	srv, _ := newTestServer(q, WithRecorder(rec))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/poll", nil))

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSummary(t, w)
	assert.Equal(t, 0, s.Iterations)
	assert.Contains(t, s.Message, "connection refused")
	require.Len(t, rec.got, 1)
	assert.Equal(t, models.OutcomeCrashed, rec.got[0].Outcome)
	assert.Contains(t, rec.got[0].Error, "connection refused")
}

func TestPollRejectsOtherMethods(t *testing.T) {
	srv, _ := newTestServer(&mockQuerier{})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/poll", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRuns(t *testing.T) {
	srv, _ := newTestServer(&mockQuerier{})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	srv, _ = newTestServer(&mockQuerier{}, WithRunLister(&mockRuns{list: []models.RunRecord{{RunID: "a"}, {RunID: "b"}}}))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.RunRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 2)

	srv, _ = newTestServer(&mockQuerier{}, WithRunLister(&mockRuns{err: errors.New("mongo down")}))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	srv, _ := newTestServer(&mockQuerier{}, WithDependency("mongo", mockPinger{}))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	srv, _ = newTestServer(&mockQuerier{}, WithDependency("kafka", mockPinger{err: errors.New("no broker")}))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "kafka")
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(&mockQuerier{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestProgressFeedReceivesIterations(t *testing.T) {
	q := &mockQuerier{statusN: map[int]int{2: http.StatusUnauthorized}}
	srv, _ := newTestServer(q)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/poll", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second models.IterationEvent
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 1, first.Iteration)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, 2, second.Iteration)
	assert.Equal(t, http.StatusUnauthorized, second.StatusCode)
	assert.Equal(t, first.RunID, second.RunID)
}

func TestPollRecordIsBoundedAndLogged(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	rec := &stalledRecorder{}
	srv, _ := newTestServer(&mockQuerier{}, WithRecorder(rec))
	srv.recordTimeout = 20 * time.Millisecond

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/poll", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rec.hadDeadline)
	assert.Contains(t, logs.String(), "run record failed")
	assert.Contains(t, logs.String(), context.DeadlineExceeded.Error())
	assert.Equal(t, 11, decodeSummary(t, w).Iterations)
}
