package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowkit/respwatch/transport"
)

func TestSubscribePublish(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	got := make(chan string, 1)
	if err := tr.Subscribe(ctx, "ch-1", func(payload string) {
		got <- payload
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := tr.Publish(ctx, "ch-1", "hello"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case payload := <-got:
		if payload != "hello" {
			t.Errorf("expected hello, got %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("payload not delivered")
	}
}

func TestFanOutToAllSubscribers(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	const subscribers = 3
	var wg sync.WaitGroup
	wg.Add(subscribers)
	for i := 0; i < subscribers; i++ {
		if err := tr.Subscribe(ctx, "shared", func(string) {
			wg.Done()
		}); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	if err := tr.Publish(ctx, "shared", "x"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the payload")
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	if err := tr.Publish(ctx, "empty", "dropped"); err != nil {
		t.Errorf("publish without subscribers should not error: %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	got := make(chan string, 1)
	tr.Subscribe(ctx, "ch-1", func(payload string) {
		got <- payload
	})

	if err := tr.Unsubscribe(ctx, "ch-1"); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if err := tr.Publish(ctx, "ch-1", "late"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case payload := <-got:
		t.Errorf("received %q after unsubscribe", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeUnknownChannel(t *testing.T) {
	tr := New()
	defer tr.Close(context.Background())

	err := tr.Unsubscribe(context.Background(), "never-subscribed")
	if !errors.Is(err, transport.ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestEmptyChannelName(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	if err := tr.Subscribe(ctx, "", func(string) {}); !errors.Is(err, transport.ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
	if err := tr.Publish(ctx, "", "x"); !errors.Is(err, transport.ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	tr := New()

	tr.Subscribe(ctx, "ch-1", func(string) {})
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := tr.Subscribe(ctx, "ch-1", func(string) {}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := tr.Publish(ctx, "ch-1", "x"); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Idempotent
	if err := tr.Close(ctx); err != nil {
		t.Errorf("second close should not error: %v", err)
	}
}
