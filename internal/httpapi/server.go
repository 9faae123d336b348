// Package httpapi exposes the task manager over HTTP: task submission and polling, an SSE
// stream of task events, health and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ankittk/researcher/internal/manager"
	"github.com/ankittk/researcher/internal/task"
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr           string
	Dev            bool         // enables permissive CORS for a front-end on another origin
	APIKey         string       // if set, require X-API-Key header or query api_key
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, the SSE hub and the manager it serves.
type App struct {
	Server  *http.Server
	Hub     *SSEHub
	Manager *manager.Manager
}

// NewApp builds the router around mgr. hub may be nil, in which case a new one is created;
// callers that want task events on /stream pass the same hub to the manager and recorder.
func NewApp(opts ServerOptions, mgr *manager.Manager, hub *SSEHub) (*App, error) {
	if mgr == nil {
		return nil, errors.New("httpapi: manager is required")
	}
	if hub == nil {
		hub = NewSSEHub()
	}
	a := &App{Hub: hub, Manager: mgr}

	r := chi.NewRouter()
	r.Use(requestLog)
	if opts.Dev {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		}))
	}
	if opts.APIKey != "" {
		r.Use(apiKeyAuth(opts.APIKey))
	}
	r.Use(bodyLimit(defaultMaxRequestBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	} else {
		r.Get("/metrics", a.plainMetrics)
	}
	r.Get("/stream", hub.Handler())

	r.Post("/tasks", a.createTask)
	r.Get("/tasks", a.listTasks)
	r.Get("/tasks/{id}", a.getTask)
	r.Post("/debug/get-mode", a.createTask)
	r.Get("/debug/tasks/{id}", a.getLegacyTask)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	var handler http.Handler = r
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "researcher")
	}
	a.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /stream responses stay open.
		IdleTimeout: 60 * time.Second,
	}
	return a, nil
}

type createTaskRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
}

func (a *App) createTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, manager.ErrEmptyQuery.Error())
		return
	}
	var forced *task.Mode
	if m := strings.TrimSpace(body.Mode); m != "" && !strings.EqualFold(m, "auto") {
		mode, err := task.ParseMode(m)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		forced = &mode
	}
	id, err := a.Manager.CreateTask(r.Context(), body.Query, forced)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"task_id": id})
}

func (a *App) getTask(w http.ResponseWriter, r *http.Request) {
	v, err := a.Manager.GetTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, task.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, task.ErrNotFound.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, v)
}

func (a *App) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	views := a.Manager.ListTasks(limit)
	if views == nil {
		views = []task.View{}
	}
	writeJSON(w, views)
}

// plainMetrics serves task counts in Prometheus text format when no OTel handler is set.
func (a *App) plainMetrics(w http.ResponseWriter, _ *http.Request) {
	counts := a.Manager.Store().Counts()
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = fmt.Fprintln(w, "# TYPE researcher_tasks gauge")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "researcher_tasks{status=%q} %d\n", s, counts[task.Status(s)])
	}
	_, _ = fmt.Fprintln(w, "# TYPE researcher_sse_connections gauge")
	_, _ = fmt.Fprintf(w, "researcher_sse_connections %d\n", a.Hub.Subscribers())
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]any{"error": message})
}
