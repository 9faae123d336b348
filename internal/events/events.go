// Package events carries task lifecycle notifications to subscribers (SSE clients, Kafka).
package events

// Publisher accepts JSON-serializable events. Implementations must not block the caller
// for long: task progress is recorded on the pipeline's goroutine.
type Publisher interface {
	PublishJSON(v any)
}

// Fanout publishes every event to each non-nil publisher in order.
type Fanout []Publisher

func (f Fanout) PublishJSON(v any) {
	for _, p := range f {
		if p != nil {
			p.PublishJSON(v)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) PublishJSON(any) {}

// TaskUpdate builds the task_update event published on status changes.
func TaskUpdate(taskID, status string) map[string]any {
	return map[string]any{"type": "task_update", "task_id": taskID, "status": status}
}
