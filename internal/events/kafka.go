package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// KafkaPublisher forwards events to a Kafka topic, keyed by task id so all events of one
// task land on the same partition in order. Writes happen on a background goroutine fed
// by a bounded queue; events are dropped when the queue is full.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration

	queue chan kgo.Message
	done  chan struct{}
	once  sync.Once
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// NewKafkaPublisher returns a publisher writing to topic on the comma-separated brokers.
func NewKafkaPublisher(brokersCSV, topic string) *KafkaPublisher {
	w := &kgo.Writer{
		Addr:         kgo.TCP(splitCSV(brokersCSV)...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:  w,
		timeout: 3 * time.Second,
		queue:   make(chan kgo.Message, 1024),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) PublishJSON(v any) {
	msg, err := encodeMessage(v)
	if err != nil {
		return
	}
	select {
	case p.queue <- msg:
	default:
		slog.Warn("kafka event queue full, dropping event", "key", string(msg.Key))
	}
}

// Close flushes queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.once.Do(func() { close(p.queue) })
	<-p.done
	return p.writer.Close()
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			slog.Warn("kafka publish failed", "key", string(msg.Key), "err", err)
		}
		cancel()
	}
}

func encodeMessage(v any) (kgo.Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return kgo.Message{}, err
	}
	var key string
	if m, ok := v.(map[string]any); ok {
		key, _ = m["task_id"].(string)
	}
	return kgo.Message{Key: []byte(key), Value: b, Time: time.Now()}, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
