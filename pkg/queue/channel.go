// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ChannelQueue is the default Queue: a bounded channel drained by a single
// goroutine that batches by size or by a flush ticker, whichever comes
// first. Grounded on pkg/export.Manager's processLogs/Stop drain loop --
// the same select{ data-channel | ticker | stop-channel } shape, generalized
// from "export telemetry" to "dispatch a ruleset message batch to Drain."
type ChannelQueue struct {
	log   *zap.Logger
	drain Drain

	ch   chan *Message
	stop chan struct{}
	wg   sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	enqueued  atomic.Int64
	dropped   atomic.Int64
	flushedAt atomic.Int64 // unix nanos of the last flush, for health reporting

	flushNow chan chan struct{}
}

// Option configures a ChannelQueue at construction time.
type Option func(*ChannelQueue)

// WithBatchSize overrides the default flush batch size.
func WithBatchSize(n int) Option {
	return func(q *ChannelQueue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithFlushInterval overrides the default ticker-driven flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(q *ChannelQueue) {
		if d > 0 {
			q.flushInterval = d
		}
	}
}

// WithChannelSize overrides the default buffered-channel capacity.
func WithChannelSize(n int) Option {
	return func(q *ChannelQueue) {
		if n > 0 {
			q.ch = make(chan *Message, n)
		}
	}
}

// NewChannelQueue builds a queue that hands batched messages to drain.
// Start must be called before Enqueue has any effect beyond buffering.
func NewChannelQueue(log *zap.Logger, drain Drain, opts ...Option) *ChannelQueue {
	if log == nil {
		log = zap.NewNop()
	}
	q := &ChannelQueue{
		log:           log,
		drain:         drain,
		ch:            make(chan *Message, defaultChannelSize),
		stop:          make(chan struct{}),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		flushNow:      make(chan chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the drain goroutine. Safe to call once.
func (q *ChannelQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Enqueue buffers msg for the next batch. If the channel is full the
// message is dropped and counted -- mirrors ExportLog's
// select{ch<-:; default: drop}: ingestion must never block on a slow
// or wedged drain.
func (q *ChannelQueue) Enqueue(msg *Message) {
	select {
	case q.ch <- msg:
		q.enqueued.Add(1)
	default:
		q.dropped.Add(1)
		q.log.Warn("queue: channel full, dropping message",
			zap.String("input", msg.InputName))
	}
}

// Flush blocks until one full batch cycle (whatever is currently
// buffered) has been handed to Drain, or ctx is done.
func (q *ChannelQueue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case q.flushNow <- done:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stop:
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new batches and drains whatever remains
// buffered before returning, bounded by ctx.
func (q *ChannelQueue) Close(ctx context.Context) error {
	close(q.stop)
	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports lifetime enqueue/drop counters, for the health endpoint.
func (q *ChannelQueue) Stats() (enqueued, dropped int64) {
	return q.enqueued.Load(), q.dropped.Load()
}

func (q *ChannelQueue) run(ctx context.Context) {
	defer q.wg.Done()

	batch := make([]*Message, 0, q.batchSize)
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		q.drain(batch)
		q.flushedAt.Store(time.Now().UnixNano())
		batch = batch[:0]
	}

	for {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
			if len(batch) >= q.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case done := <-q.flushNow:
			flush()
			close(done)

		case <-q.stop:
			for {
				select {
				case msg := <-q.ch:
					batch = append(batch, msg)
				default:
					flush()
					return
				}
			}

		case <-ctx.Done():
			for {
				select {
				case msg := <-q.ch:
					batch = append(batch, msg)
				default:
					flush()
					return
				}
			}
		}
	}
}
