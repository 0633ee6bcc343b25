// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package stream

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
)

// TLSConfig carries the on-disk TLS material and auth policy for the TLS
// driver variants. CertFile/KeyFile are always required to accept
// connections. In ModeTLSX509 client certificates are required and
// verified against the CAs in CAFile, or against the system roots when
// CAFile is empty. ModeTLSAnon skips client certificate verification
// entirely.
type TLSConfig struct {
	Mode     Mode
	Auth     AuthMode
	CertFile string
	KeyFile  string
	CAFile   string

	// PeerAllowed reports whether the verified peer name (derived from the
	// client certificate's subject or SAN, per Auth) is permitted. Called
	// once per handshake, after the certificate chain has been verified.
	// A nil PeerAllowed permits everyone.
	PeerAllowed func(peerName string) bool
}

// TLSDriver is the driver_mode={1,2} variant.
type TLSDriver struct {
	cfg    TLSConfig
	tlsCfg *tls.Config
}

// NewTLSDriver loads the configured certificate/key/CA material and builds
// a driver ready to open listeners.
func NewTLSDriver(cfg TLSConfig) (*TLSDriver, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("stream: load TLS keypair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.Mode == ModeTLSX509 {
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("stream: read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("stream: no certificates found in %s", cfg.CAFile)
			}
			tlsCfg.ClientCAs = pool
		}
	} else {
		tlsCfg.ClientAuth = tls.RequestClientCert
		tlsCfg.InsecureSkipVerify = true
	}

	return &TLSDriver{cfg: cfg, tlsCfg: tlsCfg}, nil
}

func (d *TLSDriver) Mode() Mode { return d.cfg.Mode }

func (d *TLSDriver) OpenListener(network, address string) (Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &tlsListener{ln: ln, driver: d}, nil
}

type tlsListener struct {
	ln     net.Listener
	driver *TLSDriver
}

func (l *tlsListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tlsListener) Close() error   { return l.ln.Close() }

// ErrHandshakeRejected is returned by Accept when the TLS handshake
// completed but the verified peer name was not permitted, or the
// handshake itself failed. Per spec §4.2 the caller discards the
// connection without creating a session.
type ErrHandshakeRejected struct{ Reason string }

func (e *ErrHandshakeRejected) Error() string { return "stream: TLS handshake rejected: " + e.Reason }

func (l *tlsListener) Accept(ctx context.Context) (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Server(raw, l.driver.tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return nil, &ErrHandshakeRejected{Reason: err.Error()}
	}

	peerName := verifiedPeerName(tlsConn.ConnectionState(), l.driver.cfg.Auth)
	if l.driver.cfg.PeerAllowed != nil && !l.driver.cfg.PeerAllowed(peerName) {
		tlsConn.Close()
		return nil, &ErrHandshakeRejected{Reason: "peer not permitted: " + peerName}
	}

	addr, port := splitHostPort(raw.RemoteAddr())
	return &Conn{Conn: tlsConn, PeerAddr: addr, PeerPort: port, PeerName: peerName}, nil
}

func verifiedPeerName(state tls.ConnectionState, auth AuthMode) string {
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	cert := state.PeerCertificates[0]
	switch auth {
	case AuthFingerprint:
		return fingerprintHex(cert.Raw)
	case AuthName:
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0]
		}
		return cert.Subject.CommonName
	default:
		return cert.Subject.CommonName
	}
}

func fingerprintHex(der []byte) string {
	const hexDigits = "0123456789abcdef"
	sum := sha256.Sum256(der)
	var sb strings.Builder
	for _, b := range sum {
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0xf])
	}
	return sb.String()
}
