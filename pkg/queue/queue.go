// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package queue provides the ruleset's asynchronous action-dispatch
// collaborator. spec.md treats "the queue implementation" as an external
// collaborator (enqueue/dequeue/flush); this package supplies one
// concrete, swappable default so a ruleset's attach_queue/destroy_all
// operations have something real to construct, in the same spirit as
// pkg/export.Manager being a concrete implementation of "export telemetry
// somewhere."
package queue

import (
	"context"
	"time"
)

// Message is the unit that flows from a session, through a ruleset's
// rules, into a Queue, and finally to an Action.
type Message struct {
	Payload     []byte
	PeerAddr    string
	PeerFQDN    string
	PeerTLSName string
	InputName   string
}

// Queue is the enqueue/dequeue/flush collaborator a Ruleset attaches.
// Enqueue must not block the caller indefinitely; implementations are
// expected to apply backpressure or drop-with-log under sustained overload
// rather than stall message ingestion.
type Queue interface {
	Enqueue(msg *Message)
	// Flush forces any buffered messages to be dispatched immediately,
	// blocking until the in-flight flush completes or ctx is done.
	Flush(ctx context.Context) error
	// Close stops accepting new messages, drains whatever is buffered,
	// and releases resources. Safe to call once.
	Close(ctx context.Context) error
}

// Drain is the terminal consumer a Queue hands batches of messages to.
// It returns nothing: any error handling happens inside Drain itself, and
// the drain loop keeps running after each call -- spec §7, queue/action
// errors surface per rule but do not abort the batch.
type Drain func(batch []*Message)

const (
	defaultBatchSize     = 256
	defaultFlushInterval = 2 * time.Second
	defaultChannelSize   = 4096
)
