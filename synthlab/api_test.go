package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/pipeline"
	"github.com/animus-labs/synthlab/internal/platform/auditlog"
	"github.com/animus-labs/synthlab/internal/platform/auth"
	"github.com/animus-labs/synthlab/internal/platform/httpserver"
	"github.com/animus-labs/synthlab/internal/synth/export"
	"github.com/animus-labs/synthlab/internal/synth/generator"
)

type auditRecorder struct {
	mu     sync.Mutex
	events []auditlog.Event
}

func (a *auditRecorder) record(ctx context.Context, event auditlog.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

type testLab struct {
	api     *labAPI
	sink    *export.MemorySink
	audit   *auditRecorder
	handler http.Handler
}

func newTestLab(t *testing.T) *testLab {
	t.Helper()
	opts := pipeline.DefaultOptions()
	opts.TickInterval = time.Millisecond
	opts.Script.Epochs = 1
	opts.Script.StepsPerEpoch = 2

	sink := export.NewMemorySink()
	sessions, err := pipeline.NewRegistry(
		newSessionFactory(generator.DefaultConfig(), generator.DefaultCatalog(), sink, nil, nil, opts),
		pipeline.RegistryConfig{SessionTTL: time.Minute, ReapInterval: time.Minute, MaxSessions: 2},
		nil,
	)
	if err != nil {
		t.Fatalf("NewRegistry() err=%v", err)
	}
	t.Cleanup(sessions.Close)

	logger := slog.New(slog.DiscardHandler)
	audit := &auditRecorder{}
	api := newLabAPI(logger, sessions, opts.Formatter, 3, audit.record)
	api.streamPoll = 2 * time.Millisecond

	mux := http.NewServeMux()
	mux.HandleFunc("GET /openapi.yaml", handleOpenAPI)
	api.register(mux)
	handler := auth.Middleware{
		Authenticator: auth.NewDevAuthenticator(auth.DevConfig{Subject: "student-1", Email: "student@lab", Roles: []string{auth.RoleInstructor}}),
		Authorize:     auth.MethodRoleAuthorizer(),
	}.Wrap(mux)
	return &testLab{api: api, sink: sink, audit: audit, handler: httpserver.Wrap(logger, serviceName, handler)}
}

func (l *testLab) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://synthlab.test"+path, r)
	rec := httptest.NewRecorder()
	l.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return out
}

func (l *testLab) createSession(t *testing.T) string {
	t.Helper()
	rec := l.do(t, http.MethodPost, "/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body)
	}
	return decode[pipeline.Snapshot](t, rec).SessionID
}

func (l *testLab) waitComplete(t *testing.T, id string) logsResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := l.do(t, http.MethodGet, "/sessions/"+id+"/logs", "")
		logs := decode[logsResponse](t, rec)
		if logs.Session.Complete {
			return logs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not complete", id)
	return logsResponse{}
}

func TestSessionWorkflow(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)

	rec := lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", `{"count": 3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status=%d body=%s", rec.Code, rec.Body)
	}
	if snap := decode[pipeline.Snapshot](t, rec); snap.Stage != domain.StageDataReady || snap.RecordCount != 3 {
		t.Fatalf("snapshot=%+v", snap)
	}

	rec = lab.do(t, http.MethodGet, "/sessions/"+id+"/records?limit=2", "")
	page := decode[struct {
		Records []domain.SyntheticRecord `json:"records"`
		Total   int                      `json:"total"`
	}](t, rec)
	if len(page.Records) != 2 || page.Total != 3 {
		t.Fatalf("records page=%+v", page)
	}

	rec = lab.do(t, http.MethodGet, "/sessions/"+id+"/dataset", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("dataset status=%d content-type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	n, err := lab.api.formatter.VerifyDocument(rec.Body.Bytes())
	if err != nil || n != 3 {
		t.Fatalf("VerifyDocument()=%d, %v", n, err)
	}
	dataset := rec.Body.String()

	rec = lab.do(t, http.MethodPost, "/sessions/"+id+"/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status=%d body=%s", rec.Code, rec.Body)
	}
	exp := decode[exportResponse](t, rec)
	if exp.Export.Lines != 3 || !exp.Session.Exported {
		t.Fatalf("export=%+v", exp)
	}
	emissions := lab.sink.Emissions()
	if len(emissions) != 1 || export.Checksum(emissions[0].Content) != exp.Export.SHA256 {
		t.Fatalf("emissions=%d sha=%s", len(emissions), exp.Export.SHA256)
	}
	if emissions[0].Content != dataset {
		t.Fatalf("dataset body differs from emitted export: len %d vs %d", len(dataset), len(emissions[0].Content))
	}

	rec = lab.do(t, http.MethodPost, "/sessions/"+id+"/training", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("training status=%d body=%s", rec.Code, rec.Body)
	}

	logs := lab.waitComplete(t, id)
	if logs.Session.Stage != domain.StageComplete || logs.Session.Progress != 100 {
		t.Fatalf("session=%+v", logs.Session)
	}
	if len(logs.Lines) != logs.Session.TotalLines || logs.Next != logs.Session.TotalLines {
		t.Fatalf("lines=%d next=%d total=%d", len(logs.Lines), logs.Next, logs.Session.TotalLines)
	}

	rec = lab.do(t, http.MethodGet, "/sessions/"+id+"/logs?from=12", "")
	if tail := decode[logsResponse](t, rec); len(tail.Lines) != logs.Session.TotalLines-12 || tail.Lines[0].Seq != 12 {
		t.Fatalf("tail=%+v", tail.Lines)
	}

	want := []string{"session.create", "session.generate", "session.export", "session.training"}
	got := lab.audit.actions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit actions=%v, want %v", got, want)
	}
	lab.audit.mu.Lock()
	actor := lab.audit.events[0].Actor
	lab.audit.mu.Unlock()
	if actor != "student@lab" {
		t.Fatalf("audit actor=%q", actor)
	}
}

func TestGenerateUsesDefaultCount(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	rec := lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status=%d body=%s", rec.Code, rec.Body)
	}
	if snap := decode[pipeline.Snapshot](t, rec); snap.RecordCount != 3 {
		t.Fatalf("RecordCount=%d, want 3", snap.RecordCount)
	}
}

func TestErrorMapping(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)

	cases := []struct {
		name         string
		method, path string
		body         string
		status       int
		code         string
	}{
		{"unknown session", http.MethodGet, "/sessions/missing", "", http.StatusNotFound, "not_found"},
		{"zero count", http.MethodPost, "/sessions/" + id + "/generate", `{"count":0}`, http.StatusBadRequest, "invalid_count"},
		{"over max count", http.MethodPost, "/sessions/" + id + "/generate", `{"count":100001}`, http.StatusBadRequest, "invalid_count"},
		{"bad json", http.MethodPost, "/sessions/" + id + "/generate", `{"count":`, http.StatusBadRequest, "invalid_json"},
		{"unknown field", http.MethodPost, "/sessions/" + id + "/generate", `{"rows":3}`, http.StatusBadRequest, "invalid_json"},
		{"train without data", http.MethodPost, "/sessions/" + id + "/training", "", http.StatusConflict, "invalid_transition"},
		{"export without data", http.MethodPost, "/sessions/" + id + "/export", "", http.StatusConflict, "invalid_transition"},
		{"dataset without data", http.MethodGet, "/sessions/" + id + "/dataset", "", http.StatusConflict, "invalid_transition"},
		{"negative offset", http.MethodGet, "/sessions/" + id + "/logs?from=-1", "", http.StatusBadRequest, "invalid_from"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := lab.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status=%d, want %d (body=%s)", rec.Code, tc.status, rec.Body)
			}
			body := decode[map[string]any](t, rec)
			if body["error"] != tc.code {
				t.Fatalf("error=%v, want %s", body["error"], tc.code)
			}
			if body["request_id"] == "" {
				t.Fatalf("request_id missing")
			}
		})
	}

	if snap := decode[pipeline.Snapshot](t, lab.do(t, http.MethodGet, "/sessions/"+id, "")); snap.Stage != domain.StageIdle {
		t.Fatalf("rejected calls changed stage to %s", snap.Stage)
	}
}

func TestExportSinkFailure(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	if rec := lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", `{"count":2}`); rec.Code != http.StatusOK {
		t.Fatalf("generate status=%d", rec.Code)
	}
	before := decode[pipeline.Snapshot](t, lab.do(t, http.MethodGet, "/sessions/"+id, ""))

	lab.sink.SetErr(errors.New("bucket gone"))
	rec := lab.do(t, http.MethodPost, "/sessions/"+id+"/export", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("export status=%d, want 502", rec.Code)
	}
	if body := decode[map[string]any](t, rec); body["error"] != "sink_unavailable" {
		t.Fatalf("error=%v", body["error"])
	}
	after := decode[pipeline.Snapshot](t, lab.do(t, http.MethodGet, "/sessions/"+id, ""))
	if before != after {
		t.Fatalf("snapshot changed: %+v -> %+v", before, after)
	}
}

func TestSessionLimitAndDelete(t *testing.T) {
	lab := newTestLab(t)
	a := lab.createSession(t)
	lab.createSession(t)

	rec := lab.do(t, http.MethodPost, "/sessions", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("third create status=%d, want 503", rec.Code)
	}

	list := decode[struct {
		Sessions []pipeline.Snapshot `json:"sessions"`
	}](t, lab.do(t, http.MethodGet, "/sessions", ""))
	if len(list.Sessions) != 2 {
		t.Fatalf("sessions=%d, want 2", len(list.Sessions))
	}

	lab.do(t, http.MethodPost, "/sessions/"+a+"/generate", `{"count":2}`)
	ready := decode[struct {
		Sessions []pipeline.Snapshot `json:"sessions"`
	}](t, lab.do(t, http.MethodGet, "/sessions?stage=ready", ""))
	if len(ready.Sessions) != 1 || ready.Sessions[0].SessionID != a {
		t.Fatalf("stage=ready sessions=%+v, want only %s", ready.Sessions, a)
	}
	if rec := lab.do(t, http.MethodGet, "/sessions?stage=exporting", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage status=%d, want 400", rec.Code)
	}

	if rec := lab.do(t, http.MethodDelete, "/sessions/"+a, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rec.Code)
	}
	if rec := lab.do(t, http.MethodGet, "/sessions/"+a, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rec.Code)
	}
	if rec := lab.do(t, http.MethodDelete, "/sessions/"+a, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rec.Code)
	}
	lab.createSession(t)
}

func TestResetReturnsToIdle(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", `{"count":2}`)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/training", "")

	rec := lab.do(t, http.MethodPost, "/sessions/"+id+"/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status=%d", rec.Code)
	}
	snap := decode[pipeline.Snapshot](t, rec)
	if snap.Stage != domain.StageIdle || snap.RecordCount != 0 || snap.LineCount != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

type sseEvent struct {
	name string
	id   string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		out []sseEvent
		cur sseEvent
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.name != "" || cur.data != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return out
}

func TestStreamFollowsRun(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", `{"count":3}`)
	if rec := lab.do(t, http.MethodPost, "/sessions/"+id+"/training", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("training status=%d", rec.Code)
	}

	rec := lab.do(t, http.MethodGet, "/sessions/"+id+"/stream", "")
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}
	events := parseSSE(t, rec.Body.String())
	if len(events) < 3 || events[0].name != "ready" || events[len(events)-1].name != "complete" {
		t.Fatalf("events=%+v", events)
	}

	lines := events[1 : len(events)-1]
	final := decode[pipeline.Snapshot](t, lab.do(t, http.MethodGet, "/sessions/"+id, ""))
	if len(lines) != final.TotalLines {
		t.Fatalf("line events=%d, want %d", len(lines), final.TotalLines)
	}
	for i, ev := range lines {
		var line streamLineEvent
		if err := json.Unmarshal([]byte(ev.data), &line); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		if ev.name != "line" || line.Seq != i || ev.id != line.RunID+":"+strconv.Itoa(i) || line.RunID != final.RunID {
			t.Fatalf("event %d=%+v", i, ev)
		}
		if i == len(lines)-1 && line.Progress != 100 {
			t.Fatalf("last progress=%d, want 100", line.Progress)
		}
		if i < len(lines)-1 && line.Progress > 99 {
			t.Fatalf("progress=%d before last line", line.Progress)
		}
	}
}

func TestStreamResumesFromLastEventID(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", `{"count":3}`)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/training", "")
	logs := lab.waitComplete(t, id)

	req := httptest.NewRequest(http.MethodGet, "http://synthlab.test/sessions/"+id+"/stream", nil)
	req.Header.Set("Last-Event-ID", "9")
	rec := httptest.NewRecorder()
	lab.handler.ServeHTTP(rec, req)

	events := parseSSE(t, rec.Body.String())
	if len(events) != 1+(logs.Session.TotalLines-10)+1 {
		t.Fatalf("events=%d", len(events))
	}
	if want := logs.Session.RunID + ":10"; events[1].id != want {
		t.Fatalf("first resumed id=%q, want %s", events[1].id, want)
	}

	req = httptest.NewRequest(http.MethodGet, "http://synthlab.test/sessions/"+id+"/stream", nil)
	req.Header.Set("Last-Event-ID", logs.Session.RunID+":11")
	rec = httptest.NewRecorder()
	lab.handler.ServeHTTP(rec, req)
	if events := parseSSE(t, rec.Body.String()); len(events) < 2 || events[1].id != logs.Session.RunID+":12" {
		t.Fatalf("resume with run id: events=%+v", events)
	}
}

func TestStreamRestartsWhenLastEventIDIsFromEarlierRun(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/generate", `{"count":3}`)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/training", "")
	first := lab.waitComplete(t, id)
	lab.do(t, http.MethodPost, "/sessions/"+id+"/training", "")
	second := lab.waitComplete(t, id)
	if first.Session.RunID == second.Session.RunID {
		t.Fatalf("run id not replaced: %s", first.Session.RunID)
	}

	req := httptest.NewRequest(http.MethodGet, "http://synthlab.test/sessions/"+id+"/stream", nil)
	req.Header.Set("Last-Event-ID", first.Session.RunID+":9")
	rec := httptest.NewRecorder()
	lab.handler.ServeHTTP(rec, req)

	events := parseSSE(t, rec.Body.String())
	if len(events) != 1+second.Session.TotalLines+1 {
		t.Fatalf("events=%d, want every line of the new run", len(events))
	}
	if want := second.Session.RunID + ":0"; events[1].id != want {
		t.Fatalf("first id=%q, want %s", events[1].id, want)
	}
}

func TestStreamRejectsBadLastEventID(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)
	req := httptest.NewRequest(http.MethodGet, "http://synthlab.test/sessions/"+id+"/stream", nil)
	req.Header.Set("Last-Event-ID", "run:abc")
	rec := httptest.NewRecorder()
	lab.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestStreamEndsWhenSessionDeleted(t *testing.T) {
	lab := newTestLab(t)
	id := lab.createSession(t)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "http://synthlab.test/sessions/"+id+"/stream", nil)
		rec := httptest.NewRecorder()
		lab.handler.ServeHTTP(rec, req)
		done <- rec
	}()
	time.Sleep(20 * time.Millisecond)
	lab.do(t, http.MethodDelete, "/sessions/"+id, "")

	select {
	case rec := <-done:
		events := parseSSE(t, rec.Body.String())
		if len(events) == 0 {
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status=%d with no events", rec.Code)
			}
			return
		}
		if last := events[len(events)-1]; last.name != "error" {
			t.Fatalf("last event=%+v, want error", last)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not end after delete")
	}
}
