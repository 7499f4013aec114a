package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/logger"
	"github.com/Strob0t/LaunchLoop/internal/port/messagequeue"
)

const testStream = "LAUNCHLOOP_TEST"

var errAlwaysFail = errors.New("handler always fails")

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, testStream)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueSubject returns a subject the stream captures and the validator
// accepts as any valid JSON.
func uniqueSubject(t *testing.T) string {
	t.Helper()
	return messagequeue.SubjectPrefix + "test." + strings.ToLower(t.Name())
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := messagequeue.SubjectGraphCommitted

	want := event.GraphCommitted{Version: 42, Kind: "swap_variant"}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var (
		mu       sync.Mutex
		received *event.GraphCommitted
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		var got event.GraphCommitted
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		mu.Lock()
		received = &got
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("handler was not called")
	}
	if received.Version != want.Version {
		t.Errorf("got version %d, want %d", received.Version, want.Version)
	}
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)
	err := q.Publish(context.Background(), messagequeue.SubjectProposalResolved, []byte(`{"proposal_id":""}`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestQueue_RequestIDPropagation(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)

	const wantReqID = "req-abc-123"

	var (
		mu       sync.Mutex
		gotReqID string
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		mu.Lock()
		gotReqID = logger.RequestID(ctx)
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), wantReqID)
	if err := q.Publish(ctx, subject, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotReqID != wantReqID {
		t.Errorf("request ID = %q, want %q", gotReqID, wantReqID)
	}
}

// consumeDLQ returns a channel receiving the first message on subject.dlq.
func consumeDLQ(t *testing.T, q *Queue, subject string) <-chan jetstream.Msg {
	t.Helper()
	consumer, err := q.js.CreateOrUpdateConsumer(context.Background(), testStream, jetstream.ConsumerConfig{
		FilterSubject: subject + dlqSuffix,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}
	out := make(chan jetstream.Msg, 1)
	var once sync.Once
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		once.Do(func() { out <- msg })
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume DLQ: %v", err)
	}
	t.Cleanup(sub.Stop)
	return out
}

func TestQueue_DLQ_InvalidPayload(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.SubjectMetricsIngest + ".ch-dlq"

	dlq := consumeDLQ(t, q, subject)
	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		t.Error("handler must not see invalid payloads")
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	// bypass Publish, which would reject the payload up front
	if _, err := q.js.Publish(ctx, subject, []byte(`{"channel_id":"ch-dlq","readings":[]}`)); err != nil {
		t.Fatalf("raw publish: %v", err)
	}

	select {
	case msg := <-dlq:
		if msg.Headers().Get(headerDLQReason) == "" {
			t.Error("expected DLQ reason header")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}
}

func TestQueue_DLQ_RetryExhaustion(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := uniqueSubject(t)

	dlq := consumeDLQ(t, q, subject)
	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		return errAlwaysFail
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	msg := &nats.Msg{Subject: subject, Data: []byte(`{"exhausted":true}`)}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	select {
	case got := <-dlq:
		if string(got.Data()) != `{"exhausted":true}` {
			t.Errorf("DLQ data = %q", string(got.Data()))
		}
	case <-time.After(time.Duration(maxDeliver+2) * redeliverDelay * 2):
		t.Fatal("timed out waiting for DLQ message after retry exhaustion")
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "LAUNCHLOOP_TEST_KV", 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	if _, err := kv.Put(ctx, "graph.v1", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "graph.v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "payload" {
		t.Errorf("got %q, want payload", entry.Value())
	}
	if !q.IsConnected() {
		t.Error("expected connected")
	}
}
