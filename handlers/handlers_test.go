package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"

	"newton/services"
	"newton/shared"
	"newton/streaming"
	wfgw "newton/temporal"
)

type fakeWorkflows struct {
	started   []string
	status    *wfgw.Status
	cancelled []string
}

func (f *fakeWorkflows) Start(_ context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", wfgw.ErrEmptyRequest
	}
	f.started = append(f.started, text)
	return "newton-gen-1", nil
}

func (f *fakeWorkflows) Status(_ context.Context, id string) (*wfgw.Status, error) {
	if f.status == nil {
		return nil, errors.New("not found")
	}
	return f.status, nil
}

func (f *fakeWorkflows) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeRuns struct {
	mu     sync.Mutex
	runs   map[string]*shared.RunRecord
	events []shared.Event
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*shared.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.runs[id]; ok {
		return rec, nil
	}
	return nil, services.ErrRunNotFound
}

func (f *fakeRuns) Events(_ context.Context, id string, after int64) ([]shared.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []shared.Event
	for _, ev := range f.events {
		if ev.WorkflowID == id && ev.Sequence > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeRuns) add(evs ...shared.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evs...)
}

func ev(seq int64, typ shared.EventType, stage string) shared.Event {
	return shared.Event{WorkflowID: "wf-1", Sequence: seq, Type: typ, Stage: stage, Message: stage}
}

func newRouter(tb testing.TB, wf Workflows, runs RunReader, hub streaming.EventHub) http.Handler {
	tb.Helper()
	h, err := NewHandler(wf, runs, hub, nil)
	require.NoError(tb, err)
	r := chi.NewRouter()
	h.RegisterRoutes(r, time.Minute)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndexRendersForm(t *testing.T) {
	rec := serve(newRouter(t, &fakeWorkflows{}, &fakeRuns{}, nil), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hx-post="/submit"`)
}

func TestSubmitStartsWorkflowAndPolls(t *testing.T) {
	wf := &fakeWorkflows{}
	form := url.Values{"prompt": {"simple pendulum"}}
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := serve(newRouter(t, wf, &fakeRuns{}, nil), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"simple pendulum"}, wf.started)
	assert.Contains(t, rec.Body.String(), `hx-get="/status/newton-gen-1"`)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("prompt="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(newRouter(t, &fakeWorkflows{}, &fakeRuns{}, nil), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusRunningKeepsPolling(t *testing.T) {
	wf := &fakeWorkflows{status: &wfgw.Status{WorkflowID: "wf-1", Execution: enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING}}
	runs := &fakeRuns{}
	runs.add(ev(1, shared.EventUpdate, "plan"), ev(2, shared.EventUpdate, "physics"))

	rec := serve(newRouter(t, wf, runs, nil), httptest.NewRequest(http.MethodGet, "/status/wf-1", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `hx-get="/status/wf-1"`)
	assert.Contains(t, body, "Processing [physics]")
}

func TestStatusCompletedShowsResult(t *testing.T) {
	wf := &fakeWorkflows{status: &wfgw.Status{
		WorkflowID: "wf-1",
		Execution:  enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED,
		State: &shared.WorkflowState{
			Phase:      shared.PhaseSucceeded,
			OutputPath: "/out/<scene>.mp4",
			RetryCount: 1,
			FixMethod:  shared.FixMethodRetrieved,
			Artifact:   "class PhysicsScene(Scene): pass",
		},
	}}
	rec := serve(newRouter(t, wf, &fakeRuns{}, nil), httptest.NewRequest(http.MethodGet, "/status/wf-1", nil))
	body := rec.Body.String()
	assert.NotContains(t, body, "hx-get")
	assert.Contains(t, body, "Status: COMPLETED")
	assert.Contains(t, body, "/out/&lt;scene&gt;.mp4")
	assert.Contains(t, body, "fix: retrieved")
}

func TestGenerateAPI(t *testing.T) {
	wf := &fakeWorkflows{}
	router := newRouter(t, wf, &fakeRuns{}, nil)

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"request":"projectile motion"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp generateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "newton-gen-1", resp.WorkflowID)
	assert.Equal(t, "/runs/newton-gen-1/events", resp.EventsURL)

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"request":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunLookup(t *testing.T) {
	runs := &fakeRuns{runs: map[string]*shared.RunRecord{
		"wf-1": {WorkflowID: "wf-1", Status: shared.RunStatusCompleted, Phase: shared.PhaseSucceeded},
	}}
	router := newRouter(t, &fakeWorkflows{}, runs, nil)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/runs/wf-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got shared.RunRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, shared.RunStatusCompleted, got.Status)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	wf := &fakeWorkflows{}
	rec := serve(newRouter(t, wf, &fakeRuns{}, nil), httptest.NewRequest(http.MethodPost, "/runs/wf-1/cancel", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"wf-1"}, wf.cancelled)
}

// sseIDs extracts the id lines of an SSE body in order.
func sseIDs(body string) []string {
	var ids []string
	for _, line := range strings.Split(body, "\n") {
		if id, ok := strings.CutPrefix(line, "id: "); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func TestEventsReplayHistoryUntilFinal(t *testing.T) {
	runs := &fakeRuns{}
	runs.add(ev(1, shared.EventUpdate, "plan"), ev(2, shared.EventUpdate, "execute"), ev(3, shared.EventResult, "complete"))

	rec := serve(newRouter(t, &fakeWorkflows{}, runs, nil), httptest.NewRequest(http.MethodGet, "/runs/wf-1/events", nil))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"1", "2", "3"}, sseIDs(rec.Body.String()))
	assert.Contains(t, rec.Body.String(), "event: result\n")
}

func TestEventsResumeFromLastEventID(t *testing.T) {
	runs := &fakeRuns{}
	runs.add(ev(1, shared.EventUpdate, "plan"), ev(2, shared.EventUpdate, "execute"), ev(3, shared.EventError, "complete"))

	req := httptest.NewRequest(http.MethodGet, "/runs/wf-1/events", nil)
	req.Header.Set("Last-Event-ID", "2")
	rec := serve(newRouter(t, &fakeWorkflows{}, runs, nil), req)
	assert.Equal(t, []string{"3"}, sseIDs(rec.Body.String()))
}

func TestEventsFollowLiveHubAndBackfillGaps(t *testing.T) {
	hub := streaming.NewMemoryHub()
	runs := &fakeRuns{}
	runs.add(ev(1, shared.EventUpdate, "plan"))
	router := newRouter(t, &fakeWorkflows{}, runs, hub)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/wf-1/events", nil))
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	// Sequence 1 is a duplicate of the replayed history and sequence 2 only
	// reaches the store, so the handler has to skip one and backfill the other.
	runs.add(ev(2, shared.EventUpdate, "execute"))
	require.NoError(t, hub.Publish(ctx, ev(1, shared.EventUpdate, "plan")))
	require.NoError(t, hub.Publish(ctx, ev(3, shared.EventResult, "complete")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the final event")
	}
	assert.Equal(t, []string{"1", "2", "3"}, sseIDs(rec.Body.String()))
}

func TestEventsEndWhenFinalEventOnlyReachesStore(t *testing.T) {
	hub := streaming.NewMemoryHub()
	runs := &fakeRuns{}
	runs.add(ev(1, shared.EventUpdate, "plan"))

	h, err := NewHandler(&fakeWorkflows{}, runs, hub, nil)
	require.NoError(t, err)
	h.PollInterval = 10 * time.Millisecond
	router := chi.NewRouter()
	h.RegisterRoutes(router, time.Minute)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/wf-1/events", nil))
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	// The final event is persisted but never published.
	runs.add(ev(2, shared.EventError, "complete"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the stored final event")
	}
	assert.Equal(t, []string{"1", "2"}, sseIDs(rec.Body.String()))
}
