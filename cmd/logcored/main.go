// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaylog/logcore/pkg/action"
	"github.com/relaylog/logcore/pkg/batch"
	"github.com/relaylog/logcore/pkg/config"
	"github.com/relaylog/logcore/pkg/health"
	"github.com/relaylog/logcore/pkg/input"
	"github.com/relaylog/logcore/pkg/metrics"
	"github.com/relaylog/logcore/pkg/queue"
	"github.com/relaylog/logcore/pkg/ruleset"
	"github.com/relaylog/logcore/pkg/session"
	"github.com/relaylog/logcore/pkg/tcpserver"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// knownParsers is the built-in set of message parsers this daemon ships.
// rulesetparser directives naming anything else are rejected
// (PARSER_NOT_FOUND, spec §7).
var knownParsers = map[string]bool{
	"rfc5424": true,
	"rfc3164": true,
	"json":    true,
}

func main() {
	var (
		configPath    string
		configDir     string
		directiveFile string
		logLevel      string
		showVersion   bool
	)

	flag.StringVar(&configPath, "config", "", "path to module config file")
	flag.StringVar(&configDir, "config-dir", "", "directory to watch for directive-file changes")
	flag.StringVar(&directiveFile, "directive-file", "", "path to legacy directive file (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("logcored %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := loadModuleConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if directiveFile != "" {
		cfg.DirectiveFile = directiveFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting logcored", zap.String("version", version), zap.String("commit", commit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize daemon", zap.Error(err))
	}
	if err := d.Start(ctx); err != nil {
		logger.Fatal("failed to start daemon", zap.Error(err))
	}

	var watcher *config.Watcher
	if configDir != "" {
		watcher = config.NewWatcher(configDir, filepath.Base(cfg.DirectiveFile), func(changedFile string) {
			if err := d.Reload(); err != nil {
				logger.Error("failed to reload directive file", zap.String("file", changedFile), zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("failed to start config watcher", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			done := make(chan struct{})
			go func() {
				d.Stop()
				close(done)
			}()

			select {
			case <-done:
				logger.Info("logcored stopped")
			case <-time.After(cfg.ShutdownTimeout):
				logger.Error("shutdown timed out, forcing exit")
				os.Exit(1)
			}
			return

		case <-hupCh:
			logger.Info("received SIGHUP, propagating to actions")
			d.HUP()
		}
	}
}

func loadModuleConfig(path string) (*config.ModuleConfig, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, p := range []string{"configs/logcored.yaml", "/etc/logcored/logcored.yaml", "/etc/logcored.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}
	cfg := config.DefaultConfig()
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	c := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return c.Build()
}

// daemon wires the ingestion pipeline end to end: facade (L8) -> tcpserver
// (L5) -> shared main queue -> batch router (L7) -> ruleset registry (L6)
// -> action. Grounded on pkg/agent.Agent's Start/Stop/Reload shape,
// generalized from "own every telemetry pipeline stage" to "own every
// ingestion pipeline stage."
type daemon struct {
	log *zap.Logger
	cfg *config.ModuleConfig

	reg       *ruleset.Registry
	facade    *input.Facade
	router    *batch.Router
	mainQueue *queue.ChannelQueue
	server    *tcpserver.Server
	healthSrv *health.Server
	stats     *health.Stats
	proc      *metrics.ProcessSampler

	// rulesetQueues accumulates every private queue a rulesetcreatemainqueue
	// directive attaches during directive loading (single-goroutine phase,
	// before Start), so Start can launch their drain goroutines alongside
	// the shared main queue's.
	rulesetQueues []*queue.ChannelQueue
}

func newDaemon(ctx context.Context, cfg *config.ModuleConfig, log *zap.Logger) (*daemon, error) {
	reg := ruleset.NewRegistry(log, knownParsers)

	// The legacy directive table has no action/rule syntax (spec.md §6);
	// this daemon attaches the configured output action to a single
	// "default" ruleset's default rule before the directive file loads,
	// so rulesetparser/rulesetcreatemainqueue directives have a current
	// ruleset to target.
	rs, err := reg.Construct("default")
	if err != nil {
		return nil, fmt.Errorf("construct default ruleset: %w", err)
	}
	act, err := buildOutputAction(cfg.Output, log)
	if err != nil {
		return nil, fmt.Errorf("build output action: %w", err)
	}
	reg.AddRule(rs, &ruleset.Rule{Actions: []ruleset.Action{act}})

	proc, err := metrics.NewProcessSampler(log)
	if err != nil {
		return nil, fmt.Errorf("process sampler: %w", err)
	}
	stats := health.NewStats(proc)

	router := batch.NewRouter(log, reg)

	d := &daemon{
		log:    log,
		cfg:    cfg,
		reg:    reg,
		router: router,
		stats:  stats,
		proc:   proc,
	}

	facade := input.New(log, reg)
	facade.SetQueueFactory(func(rulesetName string) queue.Queue {
		q := newRulesetQueue(log, cfg, router, func(*ruleset.Message) *ruleset.Ruleset {
			r, _ := reg.Get(rulesetName)
			return r
		})
		d.rulesetQueues = append(d.rulesetQueues, q)
		return q
	})
	d.facade = facade

	mainQueue := newRulesetQueue(log, cfg, router, d.resolveByInputName)
	d.mainQueue = mainQueue

	f, err := os.Open(cfg.DirectiveFile)
	if err != nil {
		return nil, fmt.Errorf("open directive file: %w", err)
	}
	defer f.Close()
	if err := config.LoadDirectives(f, facade); err != nil {
		return nil, fmt.Errorf("load directives: %w", err)
	}

	srv, err := facade.ActivatePrePrivDrop(tcpserver.Callbacks{
		OnRegularClose: func(s *session.Session) { d.stats.SessionsClosed.Add(1) },
		OnErrClose:     func(s *session.Session) { d.stats.SessionsClosed.Add(1) },
	}, d.dispatch, cfg.AcceptWarnInterval)
	if err != nil {
		return nil, fmt.Errorf("activate listeners: %w", err)
	}
	d.server = srv

	d.healthSrv = health.NewServer(cfg.HealthAddr, version, stats, log)
	return d, nil
}

func (d *daemon) Start(ctx context.Context) error {
	d.mainQueue.Start(ctx)
	for _, q := range d.rulesetQueues {
		q.Start(ctx)
	}
	d.proc.Start(ctx, 15*time.Second)
	d.server.Run(ctx)
	if err := d.healthSrv.Start(ctx); err != nil {
		return err
	}
	d.healthSrv.SetReady(true)
	return nil
}

func (d *daemon) Stop() {
	d.healthSrv.SetReady(false)
	d.server.Destruct()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()

	d.reg.DestroyAll(func(q queue.Queue) error { return q.Close(shutdownCtx) })
	if err := d.mainQueue.Close(shutdownCtx); err != nil {
		d.log.Warn("daemon: main queue close error", zap.Error(err))
	}
	d.proc.Stop()
	if err := d.healthSrv.Stop(); err != nil {
		d.log.Warn("daemon: health server stop error", zap.Error(err))
	}
}

// HUP propagates SIGHUP to every action across every ruleset, closing
// any persistent connection so the next Invoke reconnects -- the
// original's doHUP traversal (spec §12, "iterate_all_actions is used for
// two distinct purposes").
func (d *daemon) HUP() {
	d.reg.IterateAllActions(func(rulesetName string, a ruleset.Action) {
		if closer, ok := a.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				d.log.Warn("daemon: action close on HUP failed",
					zap.String("ruleset", rulesetName), zap.String("action", a.Name()), zap.Error(err))
			}
		}
	})
}

// Reload re-reads the directive file and re-activates listeners. The
// ruleset registry and its rules/actions/queues are left untouched --
// only the listener set is rebuilt, matching imtcp.c's directives being
// purely additive across a reload in this simplified daemon.
func (d *daemon) Reload() error {
	f, err := os.Open(d.cfg.DirectiveFile)
	if err != nil {
		return fmt.Errorf("open directive file: %w", err)
	}
	defer f.Close()

	newFacade := input.New(d.log, d.reg)
	if err := config.LoadDirectives(f, newFacade); err != nil {
		return fmt.Errorf("load directives: %w", err)
	}

	oldServer := d.server
	srv, err := newFacade.ActivatePrePrivDrop(tcpserver.Callbacks{
		OnRegularClose: func(s *session.Session) { d.stats.SessionsClosed.Add(1) },
		OnErrClose:     func(s *session.Session) { d.stats.SessionsClosed.Add(1) },
	}, d.dispatch, d.cfg.AcceptWarnInterval)
	if err != nil {
		return fmt.Errorf("activate listeners: %w", err)
	}

	d.facade = newFacade
	d.server = srv
	d.server.Run(context.Background())
	oldServer.Destruct()
	return nil
}

// dispatch is the Dispatch session.Sink shared across every listener:
// route to the bound ruleset's private queue if it has one, otherwise
// the daemon's shared main queue.
func (d *daemon) dispatch(msg *queue.Message) {
	d.stats.MessagesIngested.Add(1)
	d.stats.BytesIngested.Add(int64(len(msg.Payload)))

	if rs := d.resolveByInputName(msg); rs != nil {
		if q := rs.Queue(); q != nil {
			q.Enqueue(msg)
			return
		}
	}
	d.mainQueue.Enqueue(msg)
}

func (d *daemon) resolveByInputName(msg *ruleset.Message) *ruleset.Ruleset {
	rs, ok := d.facade.InputRulesets()[msg.InputName]
	if !ok {
		return d.reg.Default()
	}
	return rs
}

// newRulesetQueue builds a ChannelQueue whose Drain pushes every batch
// through the router, resolving each message's ruleset via resolve.
func newRulesetQueue(log *zap.Logger, cfg *config.ModuleConfig, router *batch.Router, resolve func(*ruleset.Message) *ruleset.Ruleset) *queue.ChannelQueue {
	drain := func(msgs []*queue.Message) {
		b := batch.New(msgs, resolve)
		if err := router.Process(context.Background(), b); err != nil {
			log.Warn("daemon: batch processing error", zap.Error(err))
		}
	}
	return queue.NewChannelQueue(log, drain,
		queue.WithBatchSize(cfg.QueueBatchSize),
		queue.WithFlushInterval(cfg.QueueFlushInterval),
		queue.WithChannelSize(cfg.QueueChannelSize),
	)
}

func buildOutputAction(cfg config.OutputConfig, log *zap.Logger) (ruleset.Action, error) {
	switch cfg.Type {
	case "tcp_forward":
		return action.NewTCPForwardAction("tcp-forward", cfg.Address, log), nil
	case "otlp":
		return action.NewOTLPForwardAction("otlp-forward", action.OTLPForwardConfig{
			Endpoint:    cfg.Endpoint,
			ServiceName: cfg.ServiceName,
			Insecure:    cfg.Insecure,
		}, log)
	default:
		format := cfg.Format
		if format == "" {
			format = "text"
		}
		return action.NewStdoutAction("stdout", format, log), nil
	}
}
