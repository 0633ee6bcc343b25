// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package tcpserver is the singleton listener/session-table owner (spec.md
// L5), grounded on pkg/health.Server's Start/Stop shape generalized from
// one HTTP listener to a set of per-instance stream listeners, plus
// pkg/export.Manager's goroutine+WaitGroup+stopCh shutdown discipline.
package tcpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/acl"
	"github.com/relaylog/logcore/pkg/ruleset"
	"github.com/relaylog/logcore/pkg/session"
	"github.com/relaylog/logcore/pkg/stream"
)

// ListenerSpec is a pending listener configuration accumulated by the
// facade during config load and consumed once by OpenListenSockets
// (spec.md §4.5 "configure(port, support_octet_framing)").
type ListenerSpec struct {
	Address             string
	InputName           string
	Ruleset             *ruleset.Ruleset
	SupportOctetFraming bool
}

// Callbacks is the single capability record the legacy hooks are
// collapsed into (spec.md §9 "callback forest" design note): a server is
// constructed once with its full behavior fixed, rather than wired via
// mutable setters. It holds the accept-filter and the two close hooks;
// received messages go to Config.Dispatch, and listen sockets are opened
// by OpenListenSockets.
type Callbacks struct {
	// IsPermittedHost runs at accept time, before a session is created.
	IsPermittedHost func(addr net.IP, fqdn string) bool
	// OnRegularClose runs after a session's final flush and after its
	// connection has been released.
	OnRegularClose func(s *session.Session)
	// OnErrClose runs when a session is torn down without flushing.
	OnErrClose func(s *session.Session)
}

// Config carries the module-level parameters that apply to every
// listener the server opens (spec.md §3 "Module config").
type Config struct {
	MaxSessions         int
	MaxListeners        int
	KeepAlive           bool
	EmitMsgOnClose      bool
	AddtlFrameDelim     int
	DisableLFDelim      bool
	MaxFrame            int
	Peers               *acl.List
	AcceptWarnInterval  time.Duration // rate limit for the over-cap warning; default 1s

	// Dispatch receives every message a session's reassembler completes,
	// tagged with peer identity and input name. The server does not
	// interpret it further -- the batch router (pkg/batch) is the
	// caller's concern, wired in by whatever constructs the Server.
	Dispatch session.Sink
}

// Server is the singleton TCP server: listener set, session table, and
// the five-callback behavior record (spec.md L5). The zero value is not
// usable; build with New.
type Server struct {
	log *zap.Logger
	cfg Config
	cb  Callbacks
	drv stream.Driver

	mu        sync.Mutex
	listeners []stream.Listener
	sessions  map[*session.Session]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc

	lastWarn   atomic64
	warnWindow time.Duration
}

// atomic64 is a tiny unix-nanos clock guard so the accept-over-cap
// warning is rate limited without pulling in a dedicated limiter
// dependency for a single call site.
type atomic64 struct {
	mu sync.Mutex
	v  int64
}

func (a *atomic64) tryMark(now int64, window int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now-a.v < window {
		return false
	}
	a.v = now
	return true
}

// New builds a server bound to drv (the stream driver producing
// connections for every listener it opens) with the given config and
// callback record.
func New(log *zap.Logger, drv stream.Driver, cfg Config, cb Callbacks) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AcceptWarnInterval <= 0 {
		cfg.AcceptWarnInterval = time.Second
	}
	return &Server{
		log:        log,
		cfg:        cfg,
		cb:         cb,
		drv:        drv,
		sessions:   make(map[*session.Session]struct{}),
		warnWindow: cfg.AcceptWarnInterval,
	}
}

// ErrNoListeners is returned by OpenListenSockets when specs is empty --
// spec.md §4.8 "no-listeners" activation failure, raised by the facade
// but defined here since it names the server's own precondition.
var ErrNoListeners = errNoListeners{}

type errNoListeners struct{}

func (errNoListeners) Error() string { return "tcpserver: no listener instances configured" }

// OpenListenSockets resolves and binds every pending spec, up to
// MaxListeners. It does not start accepting yet; call Run for that.
func (s *Server) OpenListenSockets(specs []ListenerSpec) error {
	if len(specs) == 0 {
		return ErrNoListeners
	}
	max := s.cfg.MaxListeners
	if max <= 0 {
		max = 20
	}
	if len(specs) > max {
		specs = specs[:max]
		s.log.Warn("tcpserver: listener specs exceed max_listeners, truncating",
			zap.Int("max_listeners", max))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range specs {
		ln, err := s.drv.OpenListener("tcp", spec.Address)
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, boundListener{Listener: ln, spec: spec})
	}
	return nil
}

type boundListener struct {
	stream.Listener
	spec ListenerSpec
}

// Run starts the accept loop for every opened listener and returns
// without waiting; the loops run until ctx is canceled or Destruct is
// called. Each listener's accept loop runs in its own goroutine; session reads happen in further goroutines so
// accept never blocks on existing session progress (spec §5).
func (s *Server) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	listeners := make([]boundListener, len(s.listeners))
	for i, l := range s.listeners {
		listeners[i] = l.(boundListener)
	}
	s.mu.Unlock()

	for _, bl := range listeners {
		s.wg.Add(1)
		go s.acceptLoop(ctx, bl)
	}
}

func (s *Server) acceptLoop(ctx context.Context, bl boundListener) {
	defer s.wg.Done()
	for {
		conn, err := bl.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("tcpserver: accept error", zap.Error(err))
			continue
		}
		s.handleAccept(ctx, bl.spec, conn)
	}
}

func (s *Server) handleAccept(ctx context.Context, spec ListenerSpec, conn *stream.Conn) {
	if s.cb.IsPermittedHost != nil && !s.cb.IsPermittedHost(conn.PeerAddr, conn.PeerName) {
		conn.Close()
		return
	}
	if !acl.IsAllowed(s.cfg.Peers, conn.PeerAddr, "", conn.PeerName, false) {
		conn.Close()
		return
	}

	if s.overCap() {
		now := time.Now().UnixNano()
		if s.lastWarn.tryMark(now, int64(s.warnWindow)) {
			s.log.Warn("tcpserver: session cap reached, rejecting connection",
				zap.Int("max_sessions", s.cfg.MaxSessions))
		}
		conn.Close()
		return
	}

	if s.cfg.KeepAlive {
		if tc, ok := conn.Conn.(interface{ SetKeepAlive(bool) error }); ok {
			tc.SetKeepAlive(true)
		}
	}

	sess := session.New(s.log, session.Config{
		Conn:                conn,
		Ruleset:             spec.Ruleset,
		InputName:           spec.InputName,
		Sink:                s.cfg.Dispatch,
		SupportOctetFraming: spec.SupportOctetFraming,
		AddtlFrameDelim:     s.cfg.AddtlFrameDelim,
		DisableLFDelim:      s.cfg.DisableLFDelim,
		MaxFrame:            s.cfg.MaxFrame,
		EmitMsgOnClose:      s.cfg.EmitMsgOnClose,
	})
	sess.Open()

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serveSession(ctx, sess)
}

func (s *Server) serveSession(ctx context.Context, sess *session.Session) {
	defer s.wg.Done()
	defer s.removeSession(sess)

	buf := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			sess.OnCloseError("server shutting down")
			if s.cb.OnErrClose != nil {
				s.cb.OnErrClose(sess)
			}
			return
		default:
		}

		n, err := sess.Conn().Read(buf)
		if n > 0 {
			if dataErr := sess.OnData(buf[:n]); dataErr != nil {
				sess.OnCloseError(dataErr.Error())
				if s.cb.OnErrClose != nil {
					s.cb.OnErrClose(sess)
				}
				return
			}
		}
		if err != nil {
			if session.IsRemoteClose(err) {
				sess.OnCloseRegular("remote closed connection")
				if s.cb.OnRegularClose != nil {
					s.cb.OnRegularClose(sess)
				}
			} else {
				sess.OnCloseError(err.Error())
				if s.cb.OnErrClose != nil {
					s.cb.OnErrClose(sess)
				}
			}
			return
		}
	}
}

func (s *Server) removeSession(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) overCap() bool {
	if s.cfg.MaxSessions <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) >= s.cfg.MaxSessions
}

// SessionCount returns the current number of open sessions (P6 testing
// hook).
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Destruct initiates shutdown: cancels the accept/serve context, closes
// every listener and every session's connection (unblocking any pending
// Read), and waits for in-flight goroutines to tear down their sessions
// via the error-close path (spec §5: "on shutdown they take the
// error-close path... to guarantee bounded teardown time").
func (s *Server) Destruct() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	for sess := range s.sessions {
		sess.Conn().Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
