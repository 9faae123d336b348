package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/researcher/internal/events"
	"github.com/ankittk/researcher/internal/manager"
	"github.com/ankittk/researcher/internal/pipeline"
	"github.com/ankittk/researcher/internal/stages"
	"github.com/ankittk/researcher/internal/task"
)

func newTestServer(t *testing.T, opts ServerOptions) (*App, *httptest.Server) {
	t.Helper()
	hub := NewSSEHub()
	st := task.NewStore()
	mgr := manager.New(manager.Options{
		Store: st,
		Runner: &pipeline.Executor{
			Stages:   stages.Stub(),
			Recorder: &task.Recorder{Store: st, Events: hub},
		},
		Events: events.Fanout{hub},
	})
	app, err := NewApp(opts, mgr, hub)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		mgr.Wait()
	})
	return app, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestServerSmoke(t *testing.T) {
	t.Parallel()
	app, ts := newTestServer(t, ServerOptions{Addr: "127.0.0.1:0"})

	r1 := getURL(t, ts.URL+"/health")
	if r1.StatusCode != http.StatusOK {
		t.Fatalf("/health status=%d", r1.StatusCode)
	}
	var health map[string]any
	decode(t, r1, &health)
	if health["ok"] != true {
		t.Fatalf("/health body=%v", health)
	}

	resp := postJSON(t, ts.URL+"/tasks", `{"query":"What is the capital of France?","mode":"direct"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /tasks status=%d", resp.StatusCode)
	}
	var created struct {
		TaskID string `json:"task_id"`
	}
	decode(t, resp, &created)
	if created.TaskID == "" {
		t.Fatal("expected task_id")
	}

	app.Manager.Wait()

	var v task.View
	decode(t, getURL(t, ts.URL+"/tasks/"+created.TaskID), &v)
	if v.Status != task.StatusSucceeded {
		t.Fatalf("status=%s", v.Status)
	}
	if v.Result == nil || *v.Result != "Stub answer to: What is the capital of France?" {
		t.Fatalf("result=%v", v.Result)
	}
	if v.Details == nil || v.Details.Mode == nil || *v.Details.Mode != task.ModeDirect {
		t.Fatalf("details=%+v", v.Details)
	}
	if len(v.Details.Attempts) != 1 || v.Details.Attempts[0].Status != task.AttemptCompleted {
		t.Fatalf("attempts=%+v", v.Details.Attempts)
	}

	var list []task.View
	decode(t, getURL(t, ts.URL+"/tasks?limit=10"), &list)
	if len(list) != 1 || list[0].TaskID != created.TaskID {
		t.Fatalf("list=%+v", list)
	}
}

func TestCreateTask_badRequests(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"query":`},
		{"empty query", `{"query":"   "}`},
		{"missing query", `{}`},
		{"unknown mode", `{"query":"q","mode":"deep"}`},
	}
	for _, tc := range cases {
		resp := postJSON(t, ts.URL+"/tasks", tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status=%d", tc.name, resp.StatusCode)
			continue
		}
		var body map[string]string
		decode(t, resp, &body)
		if body["error"] == "" {
			t.Errorf("%s: expected error message", tc.name)
		}
	}

	var list []task.View
	decode(t, getURL(t, ts.URL+"/tasks"), &list)
	if len(list) != 0 {
		t.Fatalf("rejected requests created tasks: %+v", list)
	}
}

func TestCreateTask_bodyTooLarge(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	big := `{"query":"` + strings.Repeat("a", defaultMaxRequestBodyBytes+1) + `"}`
	resp := postJSON(t, ts.URL+"/tasks", big)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestGetTask_notFound(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	for _, path := range []string{"/tasks/nope", "/debug/tasks/nope"} {
		resp := getURL(t, ts.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s: status=%d", path, resp.StatusCode)
		}
		var body map[string]string
		decode(t, resp, &body)
		if body["error"] != "task not found" {
			t.Fatalf("GET %s: body=%v", path, body)
		}
	}
}

func TestListTasks_badLimit(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	for _, q := range []string{"abc", "-1"} {
		resp := getURL(t, ts.URL+"/tasks?limit="+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("limit=%s: status=%d", q, resp.StatusCode)
		}
	}
}

func TestDebugRoutes_legacyModes(t *testing.T) {
	t.Parallel()
	app, ts := newTestServer(t, ServerOptions{})

	resp := postJSON(t, ts.URL+"/debug/get-mode", `{"query":"Compare Go and Rust","mode":"pro"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /debug/get-mode status=%d", resp.StatusCode)
	}
	var created map[string]string
	decode(t, resp, &created)
	app.Manager.Wait()

	var v struct {
		Status  task.Status `json:"status"`
		Error   *string     `json:"error"`
		Result  *string     `json:"result"`
		Details *struct {
			Mode         string `json:"mode"`
			Thoughts     string `json:"thoughts"`
			ThoughtsData struct {
				Attempts       []task.Attempt `json:"attempts"`
				CurrentAttempt int            `json:"current_attempt"`
			} `json:"thoughts_data"`
		} `json:"details"`
	}
	decode(t, getURL(t, ts.URL+"/debug/tasks/"+created["task_id"]), &v)
	if v.Status != task.StatusSucceeded || v.Result == nil {
		t.Fatalf("status=%s error=%v", v.Status, v.Error)
	}
	if v.Details == nil || v.Details.Mode != "pro" {
		t.Fatalf("details=%+v", v.Details)
	}
	if v.Details.ThoughtsData.CurrentAttempt != 1 || len(v.Details.ThoughtsData.Attempts) != 1 {
		t.Fatalf("thoughts_data=%+v", v.Details.ThoughtsData)
	}
	if !strings.Contains(v.Details.Thoughts, "[Attempt 1] Forced mode set to RESEARCH.") {
		t.Fatalf("thoughts=%q", v.Details.Thoughts)
	}
	var sawDecomposition bool
	for _, s := range v.Details.ThoughtsData.Attempts[0].Steps {
		if s.Type == task.StepDecomposition {
			sawDecomposition = true
			if _, ok := s.Data.(task.DecompositionData); !ok {
				t.Fatalf("decomposition data=%T", s.Data)
			}
		}
	}
	if !sawDecomposition {
		t.Fatal("expected a decomposition step")
	}

	// The main API keeps the native shape.
	var native task.View
	decode(t, getURL(t, ts.URL+"/tasks/"+created["task_id"]), &native)
	if native.Details == nil || *native.Details.Mode != task.ModeResearch {
		t.Fatalf("native details=%+v", native.Details)
	}

	// "auto" means no forced mode.
	resp = postJSON(t, ts.URL+"/debug/get-mode", `{"query":"hello","mode":"auto"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("mode auto: status=%d", resp.StatusCode)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{APIKey: "secret"})

	for _, path := range []string{"/health", "/metrics"} {
		if resp := getURL(t, ts.URL+path); resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s without key: %d", path, resp.StatusCode)
		}
	}
	if resp := getURL(t, ts.URL+"/tasks"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /tasks without key: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/tasks", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /tasks: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /tasks with key: %d", resp.StatusCode)
	}

	if resp := getURL(t, ts.URL+"/tasks?api_key=secret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /tasks with api_key query: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/tasks", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /tasks: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /tasks with wrong key: %d", resp.StatusCode)
	}
}

func TestDevCORS(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{Dev: true, APIKey: "secret"})
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/tasks", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /tasks: %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestPlainMetrics(t *testing.T) {
	t.Parallel()
	app, ts := newTestServer(t, ServerOptions{})
	postJSON(t, ts.URL+"/tasks", `{"query":"q","mode":"direct"}`)
	app.Manager.Wait()

	resp := getURL(t, ts.URL+"/metrics")
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(b)
	if !strings.Contains(body, `researcher_tasks{status="succeeded"} 1`) {
		t.Fatalf("metrics body:\n%s", body)
	}
	if !strings.Contains(body, `researcher_tasks{status="pending"} 0`) {
		t.Fatalf("metrics body:\n%s", body)
	}
}

func TestMetricsHandlerOverride(t *testing.T) {
	t.Parallel()
	custom := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "custom_metric 1\n")
	})
	_, ts := newTestServer(t, ServerOptions{MetricsHandler: custom, UseOtelHTTP: true})
	b, _ := io.ReadAll(getURL(t, ts.URL+"/metrics").Body)
	if string(b) != "custom_metric 1\n" {
		t.Fatalf("metrics=%q", b)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})
	if resp := getURL(t, ts.URL+"/teams"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /teams: %d", resp.StatusCode)
	}
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/tasks", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /tasks: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /tasks: %d", resp.StatusCode)
	}
}

func TestNewApp_requiresManager(t *testing.T) {
	t.Parallel()
	if _, err := NewApp(ServerOptions{}, nil, nil); err == nil {
		t.Fatal("expected error without manager")
	}
}

func TestStream_taskEvents(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, ServerOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	next := func() map[string]any {
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("event %q: %v", line, err)
			}
			return ev
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return nil
	}
	if ev := next(); ev["type"] != "connected" {
		t.Fatalf("first event=%v", ev)
	}

	postJSON(t, ts.URL+"/tasks", `{"query":"q","mode":"direct"}`)
	var sawStep bool
	for {
		ev := next()
		if ev["type"] == "task_step" {
			sawStep = true
		}
		if ev["type"] == "task_update" && ev["status"] == "succeeded" {
			break
		}
	}
	if !sawStep {
		t.Fatal("expected task_step events before completion")
	}
}
