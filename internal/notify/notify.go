// Package notify posts a short message to chat webhooks when a task finishes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ankittk/researcher/internal/task"
)

// Target is a destination for finished-task messages.
type Target interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
	HTTPClient *http.Client
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	hc := s.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// maxExcerpt caps the answer or error quoted in a message, in runes.
const maxExcerpt = 280

// Notifier is an events.Publisher that reacts to terminal task_update events. Sends run
// in the background; Wait blocks until they are done.
type Notifier struct {
	Targets []Target
	Lookup  func(id string) (task.View, error) // e.g. (*task.Store).Get
	Timeout time.Duration                      // per send; default 10s

	wg sync.WaitGroup
}

func (n *Notifier) PublishJSON(v any) {
	ev, ok := v.(map[string]any)
	if !ok || ev["type"] != "task_update" {
		return
	}
	id, _ := ev["task_id"].(string)
	status, _ := ev["status"].(string)
	if id == "" || !task.Status(status).Terminal() || len(n.Targets) == 0 {
		return
	}
	msg := n.message(id, task.Status(status))
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for _, t := range n.Targets {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := t.Notify(ctx, msg); err != nil {
				slog.Warn("notify failed", "target", t.Name(), "task_id", id, "err", err)
			}
		}()
	}
}

// Wait blocks until every pending send has finished.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) message(id string, status task.Status) string {
	head := fmt.Sprintf("Task %s %s", id, status)
	if n.Lookup == nil {
		return head
	}
	v, err := n.Lookup(id)
	if err != nil {
		return head
	}
	msg := fmt.Sprintf("%s: %q", head, excerpt(v.Query))
	switch {
	case v.Result != nil:
		msg += "\n" + excerpt(*v.Result)
	case v.Error != nil:
		msg += "\nerror: " + excerpt(*v.Error)
	}
	return msg
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= maxExcerpt {
		return s
	}
	return string([]rune(s)[:maxExcerpt]) + "..."
}
