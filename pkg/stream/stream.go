// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package stream abstracts plaintext vs. TLS connection I/O behind a small
// Driver interface, exposing read/write and authenticated peer identity to
// the rest of the ingestion core (spec.md L2).
package stream

import (
	"context"
	"fmt"
	"net"
)

// Mode selects the stream driver variant.
type Mode int

const (
	ModePlaintext Mode = iota
	ModeTLSAnon
	ModeTLSX509
)

// AuthMode controls how a TLS peer's identity is established.
type AuthMode int

const (
	AuthAnon AuthMode = iota
	AuthName
	AuthFingerprint
)

func ParseAuthMode(s string) (AuthMode, error) {
	switch s {
	case "", "anon":
		return AuthAnon, nil
	case "name":
		return AuthName, nil
	case "fingerprint":
		return AuthFingerprint, nil
	default:
		return 0, fmt.Errorf("stream: unknown auth mode %q", s)
	}
}

// Conn is a single accepted connection, plaintext or TLS. PeerName is the
// verified TLS peer name; empty for plaintext or anonymous TLS.
type Conn struct {
	net.Conn
	PeerAddr net.IP
	PeerPort int
	PeerName string // verified TLS peer name, empty if not applicable
}

// Listener owns one bound socket and knows how to complete the handshake
// (if any) for connections it accepts.
type Listener interface {
	// Accept blocks until a new connection is established and, for TLS
	// variants, its handshake completes and the verified peer name (if
	// any) is available. Returns an error if the listener is closed.
	Accept(ctx context.Context) (*Conn, error)
	Addr() net.Addr
	Close() error
}

// Driver opens listeners for a given mode. There is one Driver per
// configured driver_mode; the TCP server holds whichever Driver its
// module config selected.
type Driver interface {
	OpenListener(network, address string) (Listener, error)
	Mode() Mode
}
