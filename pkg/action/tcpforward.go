// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package action

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/queue"
)

// TCPForwardAction relays a message's payload, LF-terminated, to a
// downstream TCP listener over one persistent connection, reconnecting
// lazily on the next Invoke after a failure. Guarded by a CircuitBreaker
// so a downstream outage degrades to fast no-ops instead of blocking
// every rule invocation on dial/write timeouts.
type TCPForwardAction struct {
	name string
	log  *zap.Logger
	addr string
	cb   *CircuitBreaker

	dialTimeout  time.Duration
	writeTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPForwardAction builds a forwarding action that dials addr lazily
// on first use.
func NewTCPForwardAction(name, addr string, log *zap.Logger) *TCPForwardAction {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPForwardAction{
		name:         name,
		log:          log,
		addr:         addr,
		cb:           NewCircuitBreaker(5, 30*time.Second),
		dialTimeout:  5 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

func (a *TCPForwardAction) Name() string { return a.name }

func (a *TCPForwardAction) Invoke(msg *queue.Message) error {
	if !a.cb.Allow() {
		return fmt.Errorf("action %s: circuit open, downstream %s unavailable", a.name, a.addr)
	}

	conn, err := a.getConn()
	if err != nil {
		a.cb.RecordFailure()
		return fmt.Errorf("action %s: dial %s: %w", a.name, a.addr, err)
	}

	conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	if _, err := conn.Write(append(msg.Payload, '\n')); err != nil {
		a.dropConn()
		a.cb.RecordFailure()
		return fmt.Errorf("action %s: write %s: %w", a.name, a.addr, err)
	}

	a.cb.RecordSuccess()
	return nil
}

func (a *TCPForwardAction) getConn() (net.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := net.DialTimeout("tcp", a.addr, a.dialTimeout)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	return conn, nil
}

func (a *TCPForwardAction) dropConn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// Close releases the persistent connection, if any.
func (a *TCPForwardAction) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}
