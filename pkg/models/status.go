package models

// Task statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Processing modes. The server also accepts the legacy names "simple" and "pro".
const (
	ModeDirect   = "direct"
	ModeResearch = "research"
)

// Attempt statuses.
const (
	AttemptInProgress = "in_progress"
	AttemptCompleted  = "completed"
	AttemptFailed     = "failed"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultMaxAttempts         = 3
)

// IsTerminal reports whether status is succeeded or failed.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}
