package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/researcher/internal/events"
)

var _ events.Publisher = (*SSEHub)(nil)

func TestSSEHub_Subscribe_Publish_Unsubscribe(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe()
	if n := hub.Subscribers(); n != 1 {
		t.Fatalf("Subscribers=%d", n)
	}
	hub.PublishJSON(events.TaskUpdate("t1", "running"))
	msg := <-ch
	if !strings.Contains(string(msg), `"task_update"`) || !strings.Contains(string(msg), `"t1"`) {
		t.Errorf("PublishJSON: got %s", msg)
	}
	hub.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Unsubscribe")
	}
	hub.Unsubscribe(ch)
	if n := hub.Subscribers(); n != 0 {
		t.Fatalf("Subscribers after unsubscribe=%d", n)
	}
}

func TestSSEHub_slowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.PublishJSON(map[string]int{"n": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishJSON blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered=%d want %d", len(ch), cap(ch))
	}
}

func TestSSEHub_Handler(t *testing.T) {
	hub := NewSSEHub()
	handler := hub.Handler()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler(rec, req)
		close(done)
	}()
	// Read the body only after the handler returns; the recorder is not safe for concurrent use.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	sc := bufio.NewScanner(rec.Body)
	var found bool
	for sc.Scan() {
		if strings.Contains(sc.Text(), "connected") {
			found = true
			break
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !found {
		t.Error("expected response to contain \"connected\"")
	}
	if n := hub.Subscribers(); n != 0 {
		t.Fatalf("Subscribers after disconnect=%d", n)
	}
}
