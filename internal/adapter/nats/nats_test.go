package nats

import (
	"context"
	"os"
	"testing"
	"time"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Bus {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	b, err := Connect(context.Background(), url, "prdforge.test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := testConnect(t)
	ctx := context.Background()

	got := make(chan string, 1)
	stop, err := b.Subscribe(ctx, func(subject string, _ []byte) {
		got <- subject
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := b.Publish(ctx, "prdforge.test.pipeline.stage", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case subject := <-got:
		if subject != "prdforge.test.pipeline.stage" {
			t.Errorf("subject = %q", subject)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBus_KeyValue(t *testing.T) {
	b := testConnect(t)

	ctx := context.Background()
	kv, err := b.KeyValue(ctx, "test-kv-"+t.Name(), 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "hello" {
		t.Errorf("value = %q, want %q", string(entry.Value()), "hello")
	}
	if !b.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}
