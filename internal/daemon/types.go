package daemon

import "github.com/ankittk/researcher/internal/config"

// DefaultAddr is the listen address when StartOptions.Addr is empty.
const DefaultAddr = "127.0.0.1:3548"

// StartOptions configures the server process.
type StartOptions struct {
	Home       string
	Addr       string // listen address; "host:0" picks a free port
	Dev        bool
	PprofAddr  string
	Stub       bool   // deterministic offline stages instead of LLM and web search
	DBDriver   string // "sqlite" (default), "postgres" or "none"
	DBURL      string // for postgres: connection string (or DATABASE_URL)
	APIKey     string // overrides Settings.ResearcherAPIKey
	EnableOtel bool   // OpenTelemetry metrics on /metrics and otelhttp request instrumentation
	Settings   config.Settings
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
