package mq

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaMessageHeadersSurviveConversion(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &Message{
		ID:         "m-1",
		Body:       []byte(`{"testId":"T1"}`),
		Timestamp:  ts,
		Expiration: 30 * time.Second,
	}
	in.SetHeader("origin", "http")

	out := fromKafkaMessage(toKafkaMessage("monitor.broadcast", in))
	if out.ID != "m-1" || string(out.Body) != `{"testId":"T1"}` {
		t.Fatalf("unexpected message: %+v", out)
	}
	if !out.Timestamp.Equal(ts) || out.Expiration != 30*time.Second {
		t.Fatalf("timestamp/expiration lost: %+v", out)
	}
	if v, ok := out.GetHeader("origin"); !ok || v != "http" {
		t.Fatalf("custom header lost: %v", out.Headers)
	}
	if _, ok := out.GetHeader(headerID); ok {
		t.Fatalf("reserved headers must not leak into Headers")
	}
}

func TestFromKafkaMessageFallsBackToKey(t *testing.T) {
	m := fromKafkaMessage(kafka.Message{Key: []byte("k-9"), Value: []byte("x")})
	if m.ID != "k-9" {
		t.Fatalf("ID = %q", m.ID)
	}
}

func TestMessageExpired(t *testing.T) {
	now := time.Now()
	m := &Message{Timestamp: now.Add(-time.Minute), Expiration: time.Second}
	if !m.Expired(now) {
		t.Fatalf("expected expired")
	}
	m.Expiration = 0
	if m.Expired(now) {
		t.Fatalf("no expiration means never expired")
	}
}

func TestSubscribeValidation(t *testing.T) {
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	handler := func(context.Context, *Message) error { return nil }
	if err := q.Subscribe(context.Background(), "", handler); err == nil {
		t.Fatalf("expected topic error")
	}
	if err := q.Subscribe(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected handler error")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Subscribe(context.Background(), "t", handler); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected brokers error")
	}
}
