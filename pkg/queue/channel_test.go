package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestChannelQueueFlushesOnBatchSize(t *testing.T) {
	var mu sync.Mutex
	var got []*Message

	q := NewChannelQueue(nil, func(batch []*Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, batch...)
	}, WithBatchSize(2), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(&Message{Payload: []byte("one")})
	q.Enqueue(&Message{Payload: []byte("two")})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages flushed by batch size, got %d", len(got))
	}
}

func TestChannelQueueFlushesOnTicker(t *testing.T) {
	var mu sync.Mutex
	var got []*Message

	q := NewChannelQueue(nil, func(batch []*Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, batch...)
	}, WithBatchSize(100), WithFlushInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(&Message{Payload: []byte("lonely")})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected ticker to flush the lone message, got %d", len(got))
	}
}

func TestChannelQueueCloseDrainsBuffered(t *testing.T) {
	var mu sync.Mutex
	var got []*Message

	q := NewChannelQueue(nil, func(batch []*Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, batch...)
	}, WithBatchSize(100), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 5; i++ {
		q.Enqueue(&Message{Payload: []byte("x")})
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected all 5 buffered messages drained on close, got %d", len(got))
	}
}

func TestChannelQueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewChannelQueue(nil, func(batch []*Message) {
		<-block
	}, WithBatchSize(1), WithFlushInterval(time.Hour), WithChannelSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 10; i++ {
		q.Enqueue(&Message{Payload: []byte("x")})
	}
	close(block)

	_, dropped := q.Stats()
	if dropped == 0 {
		t.Fatal("expected some messages to be dropped once the channel filled up")
	}
}
