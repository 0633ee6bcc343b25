// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package input is the L8 module facade: it accumulates the legacy
// directive file's scratch state (config.Directives) into pending
// listener instances and, on ActivatePrePrivDrop, turns them into a
// running tcpserver.Server bound to a ruleset registry. Grounded on
// original_source/plugins/imtcp/imtcp.c's addInstance/activate flow:
// module-level cnModCurrParams persist across instances until an
// explicit resetconfigvariables, and inputtcpserverrun commits the
// current scratch state as one more pending instance.
package input

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/acl"
	"github.com/relaylog/logcore/pkg/queue"
	"github.com/relaylog/logcore/pkg/ruleset"
	"github.com/relaylog/logcore/pkg/session"
	"github.com/relaylog/logcore/pkg/stream"
	"github.com/relaylog/logcore/pkg/tcpserver"
)

// pendingInstance is one inputtcpserverrun commit: the scratch state at
// the moment the directive fired, frozen for later listener construction.
type pendingInstance struct {
	port                int
	inputName           string
	bindRuleset         string
	supportOctetFraming bool
}

// QueueFactory builds the concrete Queue a ruleset's rulesetcreatemainqueue
// directive attaches. Injected by the caller (cmd/logcored) since queue
// construction needs the batch router as its Drain target, which the
// facade must not import (would cycle back through ruleset).
type QueueFactory func(rulesetName string) queue.Queue

// Facade is the L8 module facade. The zero value is not usable; build
// with New.
type Facade struct {
	log *zap.Logger
	reg *ruleset.Registry

	mu sync.Mutex

	// module-level defaults, persisted across instances until an
	// explicit resetconfigvariables (spec.md §6).
	keepAlive           bool
	supportOctetFraming bool
	maxSessions         int
	maxListeners        int
	notifyOnClose       bool
	driverMode          stream.Mode
	authMode            stream.AuthMode
	permittedPeers      []string
	addtlFrameDelim     int
	disableLFDelim      bool
	flowControl         bool
	certFile            string
	keyFile             string
	caFile              string

	// per-instance scratch, tagging the next inputtcpserverrun.
	curInputName   string
	curBindRuleset string

	pending      []pendingInstance
	queueFactory QueueFactory

	// inputRulesets caches the input-name -> ruleset binding computed by
	// the last ActivatePrePrivDrop call, so the caller's shared-queue
	// Dispatch closure can resolve which ruleset a message belongs to
	// without re-walking pending instances (and re-logging unknown-name
	// warnings) on every message.
	inputRulesets map[string]*ruleset.Ruleset
}

// New builds a facade with rsyslog-equivalent defaults: no TLS, LF
// delimiting enabled, no additional delimiter, session/listener caps at
// 200/20.
func New(log *zap.Logger, reg *ruleset.Registry) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{
		log:             log,
		reg:             reg,
		keepAlive:       false,
		maxSessions:     200,
		maxListeners:    20,
		driverMode:      stream.ModePlaintext,
		authMode:        stream.AuthAnon,
		addtlFrameDelim: -1,
		curInputName:    "imtcp",
	}
}

// --- config.Directives implementation ---

func (f *Facade) SetKeepAlive(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlive = v
}

func (f *Facade) SetSupportOctetFraming(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supportOctetFraming = v
}

func (f *Facade) SetMaxSessions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxSessions = n
}

func (f *Facade) SetMaxListeners(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxListeners = n
}

func (f *Facade) SetNotifyOnClose(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyOnClose = v
}

func (f *Facade) SetDriverMode(mode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch mode {
	case 0:
		f.driverMode = stream.ModePlaintext
	case 1:
		f.driverMode = stream.ModeTLSAnon
	case 2:
		f.driverMode = stream.ModeTLSX509
	default:
		return fmt.Errorf("input: unknown driver mode %d", mode)
	}
	return nil
}

func (f *Facade) SetAuthMode(word string) error {
	am, err := stream.ParseAuthMode(word)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authMode = am
	return nil
}

func (f *Facade) AddPermittedPeer(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permittedPeers = append(f.permittedPeers, pattern)
}

func (f *Facade) SetAddtlFrameDelim(delim int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addtlFrameDelim = delim
}

func (f *Facade) SetDisableLFDelim(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disableLFDelim = v
}

func (f *Facade) SetInputName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.curInputName = name
}

func (f *Facade) SetBindRuleset(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.curBindRuleset = name
}

func (f *Facade) SetFlowControl(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flowControl = v
}

// AddListener commits the current scratch state (input name, bind
// ruleset, module framing default) as one more pending instance --
// mirrors imtcp.c's addInstance called from inputtcpserverrun.
func (f *Facade) AddListener(port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, pendingInstance{
		port:                port,
		inputName:           f.curInputName,
		bindRuleset:         f.curBindRuleset,
		supportOctetFraming: f.supportOctetFraming,
	})
}

// AddRulesetParser appends a parser to the registry's current ruleset.
// NO_CURR_RULESET / PARSER_NOT_FOUND are logged and the directive is
// rejected without aborting the load (spec §7) -- the rejection happens
// here rather than in the directive loader, which only knows CONFIG_INVALID.
func (f *Facade) AddRulesetParser(name string) {
	if err := f.reg.AddParser(nil, name); err != nil {
		f.log.Warn("input: rulesetparser rejected", zap.String("parser", name), zap.Error(err))
	}
}

// SetRulesetCreateMainQueue attaches a private queue to the registry's
// current ruleset when v is true. Same log-and-reject handling as
// AddRulesetParser for NO_CURR_RULESET / RULES_QUEUE_EXISTS.
func (f *Facade) SetRulesetCreateMainQueue(v bool) {
	if !v {
		return
	}
	f.mu.Lock()
	qf := f.queueFactory
	f.mu.Unlock()

	rs := f.reg.Current()
	if rs == nil {
		f.log.Warn("input: rulesetcreatemainqueue rejected: no current ruleset")
		return
	}
	if qf == nil {
		f.log.Warn("input: rulesetcreatemainqueue rejected: no queue factory configured")
		return
	}
	q := qf(rs.Name())
	if err := f.reg.AttachQueue(nil, q); err != nil {
		f.log.Warn("input: rulesetcreatemainqueue rejected", zap.Error(err))
	}
}

func (f *Facade) SetCertFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.certFile = path
}

func (f *Facade) SetKeyFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyFile = path
}

func (f *Facade) SetCAFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caFile = path
}

// ResetConfigVariables clears per-instance scratch and module-level
// defaults back to New's starting point -- mirrors the original's
// resetConfigVariables handler.
func (f *Facade) ResetConfigVariables() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlive = false
	f.supportOctetFraming = false
	f.maxSessions = 200
	f.maxListeners = 20
	f.notifyOnClose = false
	f.driverMode = stream.ModePlaintext
	f.authMode = stream.AuthAnon
	f.permittedPeers = nil
	f.addtlFrameDelim = -1
	f.disableLFDelim = false
	f.flowControl = false
	f.certFile = ""
	f.keyFile = ""
	f.caFile = ""
	f.curInputName = "imtcp"
	f.curBindRuleset = ""
}

// SetQueueFactory injects the queue constructor rulesetcreatemainqueue
// uses. Must be called before directives are loaded if that directive
// is present in the file.
func (f *Facade) SetQueueFactory(qf QueueFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueFactory = qf
}

// ErrNoListeners re-exports tcpserver's sentinel so callers checking for
// spec §7's NO_LISTENERS error kind don't need to import tcpserver
// themselves.
var ErrNoListeners = tcpserver.ErrNoListeners

// ActivatePrePrivDrop builds the shared stream driver and TCP server from
// accumulated module parameters and pending instances, resolves each
// instance's bind ruleset (falling back to the registry default with a
// warning if the name is unknown, spec §4.8), and opens every listen
// socket. Fails with ErrNoListeners if no inputtcpserverrun directive
// was ever seen.
func (f *Facade) ActivatePrePrivDrop(cb tcpserver.Callbacks, dispatch session.Sink, acceptWarnInterval time.Duration) (*tcpserver.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return nil, ErrNoListeners
	}

	drv, err := f.buildDriver()
	if err != nil {
		return nil, fmt.Errorf("input: build stream driver: %w", err)
	}

	peers := acl.NewList(f.permittedPeers)

	srv := tcpserver.New(f.log, drv, tcpserver.Config{
		MaxSessions:        f.maxSessions,
		MaxListeners:       f.maxListeners,
		KeepAlive:          f.keepAlive,
		EmitMsgOnClose:     f.notifyOnClose,
		AddtlFrameDelim:    f.addtlFrameDelim,
		DisableLFDelim:     f.disableLFDelim,
		Peers:              peers,
		AcceptWarnInterval: acceptWarnInterval,
		Dispatch:           dispatch,
	}, cb)

	specs := make([]tcpserver.ListenerSpec, 0, len(f.pending))
	inputRulesets := make(map[string]*ruleset.Ruleset, len(f.pending))
	for _, inst := range f.pending {
		rs := f.resolveRuleset(inst.bindRuleset)
		specs = append(specs, tcpserver.ListenerSpec{
			Address:             fmt.Sprintf(":%d", inst.port),
			InputName:           inst.inputName,
			Ruleset:             rs,
			SupportOctetFraming: inst.supportOctetFraming,
		})
		inputRulesets[inst.inputName] = rs
	}

	if err := srv.OpenListenSockets(specs); err != nil {
		return nil, err
	}
	f.inputRulesets = inputRulesets
	return srv, nil
}

// InputRulesets returns the input-name -> ruleset binding computed by the
// most recent successful ActivatePrePrivDrop call. A Dispatch closure
// uses this to route a message to its bound ruleset's private queue (if
// any) before falling back to a shared main queue.
func (f *Facade) InputRulesets() map[string]*ruleset.Ruleset {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*ruleset.Ruleset, len(f.inputRulesets))
	for k, v := range f.inputRulesets {
		out[k] = v
	}
	return out
}

// resolveRuleset looks up name in the registry, falling back to the
// default ruleset with a warning if name is set but unknown -- spec
// §4.8: "If any instance's bind-ruleset name is unknown, a warning is
// logged and that instance uses the default ruleset."
func (f *Facade) resolveRuleset(name string) *ruleset.Ruleset {
	if name == "" {
		return f.reg.Default()
	}
	rs, ok := f.reg.Get(name)
	if !ok {
		f.log.Warn("input: bind-ruleset unknown, falling back to default",
			zap.String("ruleset", name))
		return f.reg.Default()
	}
	return rs
}

func (f *Facade) buildDriver() (stream.Driver, error) {
	switch f.driverMode {
	case stream.ModePlaintext:
		return stream.NewPlaintextDriver(), nil
	case stream.ModeTLSAnon, stream.ModeTLSX509:
		if f.certFile == "" || f.keyFile == "" {
			return nil, errors.New("tls driver requires cert and key files")
		}
		return stream.NewTLSDriver(stream.TLSConfig{
			Mode:        f.driverMode,
			Auth:        f.authMode,
			CertFile:    f.certFile,
			KeyFile:     f.keyFile,
			CAFile:      f.caFile,
			PeerAllowed: f.tlsPeerAllowed(),
		})
	default:
		return nil, fmt.Errorf("input: unhandled driver mode %v", f.driverMode)
	}
}

func (f *Facade) tlsPeerAllowed() func(string) bool {
	peers := acl.NewList(f.permittedPeers)
	if peers.Empty() {
		return nil
	}
	return func(peerName string) bool {
		return acl.IsAllowed(peers, nil, "", peerName, false)
	}
}
