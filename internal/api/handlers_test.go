package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/dropwatch/internal/auth"
	"github.com/mattjoyce/dropwatch/internal/dispatch"
	"github.com/mattjoyce/dropwatch/internal/events"
	"github.com/mattjoyce/dropwatch/internal/joblog"
	"github.com/mattjoyce/dropwatch/internal/metrics"
	"github.com/mattjoyce/dropwatch/internal/trigger"
)

const testAPIKey = "test-key-123"

type mockStatus struct {
	status dispatch.Status
}

func (m *mockStatus) Status() dispatch.Status { return m.status }

// mockHistory implements HistoryReader for testing
type mockHistory struct {
	jobs map[string]*joblog.Job
	logs map[string][]joblog.LogEntry
}

func (m *mockHistory) Get(ctx context.Context, id string) (*joblog.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, joblog.ErrJobNotFound
	}
	return j, nil
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]*joblog.Job, error) {
	out := make([]*joblog.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockHistory) Log(ctx context.Context, id string) ([]joblog.LogEntry, error) {
	return m.logs[id], nil
}

type testServer struct {
	server   *Server
	handler  http.Handler
	inputDir string
	status   *mockStatus
	history  *mockHistory
	hub      *events.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	inputDir := t.TempDir()
	status := &mockStatus{status: dispatch.Status{Running: true}}
	history := &mockHistory{
		jobs: map[string]*joblog.Job{},
		logs: map[string][]joblog.LogEntry{},
	}
	hub := events.NewHub(16)

	srv := New(Config{
		APIKey: testAPIKey,
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeJobsRO}},
			{Token: "watcher", Scopes: []string{auth.ScopeEventsRO}},
		},
		InputDir:     inputDir,
		InputPattern: "*.input",
		MarkerSuffix: ".output",
	}, Deps{
		Status:  status,
		History: history,
		Events:  hub,
		Metrics: metrics.New(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &testServer{
		server:   srv,
		handler:  srv.Handler(),
		inputDir: inputDir,
		status:   status,
		history:  history,
		hub:      hub,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	ts.status.status = dispatch.Status{
		Running:            true,
		AwaitingCompletion: true,
		CurrentJob:         "abc",
		GateWaiters:        2,
	}

	rr := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.Running || !resp.AwaitingCompletion {
		t.Fatalf("unexpected health: %+v", resp)
	}
	if resp.CurrentJob != "abc" || resp.GateWaiters != 2 {
		t.Fatalf("unexpected current job: %+v", resp)
	}
}

func TestHealthzStopped(t *testing.T) {
	ts := newTestServer(t)
	ts.status.status = dispatch.Status{}

	rr := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"stopped"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "dropwatch_gate_waiters") {
		t.Fatalf("metrics body missing dropwatch series:\n%s", rr.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "missing token", method: http.MethodGet, path: "/jobs", want: http.StatusUnauthorized},
		{name: "wrong token", method: http.MethodGet, path: "/jobs", token: "nope", want: http.StatusUnauthorized},
		{name: "reader lists jobs", method: http.MethodGet, path: "/jobs", token: "reader", want: http.StatusOK},
		{name: "reader cannot trigger", method: http.MethodPost, path: "/trigger/build", token: "reader", want: http.StatusForbidden},
		{name: "event token cannot read jobs", method: http.MethodGet, path: "/jobs", token: "watcher", want: http.StatusForbidden},
		{name: "api key triggers", method: http.MethodPost, path: "/trigger/build", token: testAPIKey, want: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, tt.method, tt.path, tt.token, nil)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestTriggerWritesDescriptor(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"args":[{"key":"env","value":"prod"},{"key":"note","value":"two words"}]}`)
	rr := ts.do(t, http.MethodPost, "/trigger/build", testAPIKey, body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp TriggerResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Descriptor != "build|env=prod^note=two words" {
		t.Fatalf("descriptor = %q", resp.Descriptor)
	}

	trig, err := trigger.Parse(resp.Path)
	if err != nil {
		t.Fatalf("dropped file name not parseable: %v", err)
	}
	if trig.ID.String() != resp.JobID {
		t.Fatalf("job id = %s, file id = %s", resp.JobID, trig.ID)
	}
	if resp.Marker != trigger.MarkerName(trig.ID, ".output") {
		t.Fatalf("marker = %q", resp.Marker)
	}
	if filepath.Dir(resp.Path) != ts.inputDir || filepath.Ext(resp.Path) != ".input" {
		t.Fatalf("path = %q", resp.Path)
	}

	content, err := os.ReadFile(resp.Path)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if string(content) != resp.Descriptor {
		t.Fatalf("content = %q", content)
	}

	entries, err := os.ReadDir(ts.inputDir)
	if err != nil {
		t.Fatalf("read input dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the descriptor in input dir, got %d entries", len(entries))
	}
}

func TestTriggerWithoutBody(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/trigger/cleanup", testAPIKey, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp TriggerResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	content, err := os.ReadFile(resp.Path)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if string(content) != "cleanup" {
		t.Fatalf("content = %q", content)
	}
}

func TestTriggerRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "bad job name", path: "/trigger/bad-name"},
		{name: "bad key", path: "/trigger/build", body: `{"args":[{"key":"a-b","value":"x"}]}`},
		{name: "bad value", path: "/trigger/build", body: `{"args":[{"key":"a","value":"x=y"}]}`},
		{name: "empty value", path: "/trigger/build", body: `{"args":[{"key":"a","value":""}]}`},
		{name: "trailing all-space value", path: "/trigger/build", body: `{"args":[{"key":"a","value":"x"},{"key":"pad","value":"   "}]}`},
		{name: "unknown field", path: "/trigger/build", body: `{"payload":{}}`},
		{name: "not json", path: "/trigger/build", body: `build|a=b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			rr := ts.do(t, http.MethodPost, tt.path, testAPIKey, body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rr.Code, rr.Body.String())
			}
		})
	}

	entries, err := os.ReadDir(ts.inputDir)
	if err != nil {
		t.Fatalf("read input dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected triggers left %d files behind", len(entries))
	}
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	msg := "launched"
	ts.history.jobs["abc"] = &joblog.Job{ID: "abc", JobName: "build", Status: joblog.StatusRunning}
	ts.history.logs["abc"] = []joblog.LogEntry{
		{Seq: 1, JobID: "abc", Status: joblog.StatusReceived},
		{Seq: 2, JobID: "abc", Status: joblog.StatusRunning, Message: &msg},
	}

	rr := ts.do(t, http.MethodGet, "/job/abc", "reader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID      string            `json:"id"`
		JobName string            `json:"job_name"`
		Status  string            `json:"status"`
		Log     []joblog.LogEntry `json:"log"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "abc" || resp.JobName != "build" || resp.Status != "running" {
		t.Fatalf("unexpected job: %+v", resp)
	}
	if len(resp.Log) != 2 {
		t.Fatalf("log entries = %d, want 2", len(resp.Log))
	}

	rr = ts.do(t, http.MethodGet, "/job/missing", "reader", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/jobs", "reader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != `{"jobs":[]}` {
		t.Fatalf("empty list body = %s", rr.Body.String())
	}

	ts.history.jobs["a"] = &joblog.Job{ID: "a", Status: joblog.StatusSucceeded}
	ts.history.jobs["b"] = &joblog.Job{ID: "b", Status: joblog.StatusFailed}

	rr = ts.do(t, http.MethodGet, "/jobs?limit=1", "reader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp JobsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(resp.Jobs))
	}

	for _, bad := range []string{"0", "-3", "ten"} {
		rr = ts.do(t, http.MethodGet, "/jobs?limit="+bad, "reader", nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: status = %d, want 400", bad, rr.Code)
		}
	}
}

func TestEventsReplayAndLive(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.handler)
	t.Cleanup(httpSrv.Close)

	ts.hub.Publish(events.TriggerReceived, events.JobPayload{JobID: "one"})
	ts.hub.Publish(events.JobWaiting, events.JobPayload{JobID: "one"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer watcher")
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(want string) {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", want)
				}
				if line == "id: 1" {
					t.Fatal("event 1 replayed despite Last-Event-ID")
				}
				if line == want {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	waitFor("id: 2")
	waitFor("event: " + events.JobWaiting)

	// Live delivery once the replay has been flushed.
	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ts.hub.Publish(events.JobLaunched, events.JobPayload{JobID: "one", PID: 42})
	waitFor("id: 3")
	waitFor("event: " + events.JobLaunched)
}

func TestParseLastEventID(t *testing.T) {
	cases := map[string]int64{"": 0, "7": 7, "-2": 0, "x": 0}
	for in, want := range cases {
		if got := parseLastEventID(in); got != want {
			t.Fatalf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}
