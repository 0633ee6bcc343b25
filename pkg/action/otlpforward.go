// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package action

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // register gzip compressor

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/relaylog/logcore/pkg/queue"
)

// OTLPForwardAction converts each message into an OTLP LogRecord and
// sends it over gRPC to a collector endpoint, adapted from
// pkg/export.OTLPExporter's ExportLogs/connect/reconnect machinery --
// here a single message at a time (one Invoke per rule dispatch) rather
// than a pre-batched slice, since the ruleset engine already amortizes
// batching upstream of the action.
type OTLPForwardAction struct {
	name        string
	log         *zap.Logger
	endpoint    string
	serviceName string
	opts        []grpc.DialOption
	cb          *CircuitBreaker

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	logSvc collogspb.LogsServiceClient
}

// OTLPForwardConfig configures an OTLPForwardAction.
type OTLPForwardConfig struct {
	Endpoint    string
	ServiceName string // reported as the OTEL resource's service.name; defaults to "logcored"
	Insecure    bool
	Compression string // "gzip" or "none"
}

// NewOTLPForwardAction dials endpoint and returns a ready action, or an
// error if the initial dial fails.
func NewOTLPForwardAction(name string, cfg OTLPForwardConfig, log *zap.Logger) (*OTLPForwardAction, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "logcored"
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.Compression == "" || cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}

	a := &OTLPForwardAction{
		name:        name,
		log:         log,
		endpoint:    cfg.Endpoint,
		serviceName: cfg.ServiceName,
		opts:        opts,
		cb:          NewCircuitBreaker(5, 30*time.Second),
	}
	if err := a.connect(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *OTLPForwardAction) Name() string { return a.name }

func (a *OTLPForwardAction) connect() error {
	conn, err := grpc.Dial(a.endpoint, a.opts...)
	if err != nil {
		return fmt.Errorf("action %s: dial OTLP endpoint %s: %w", a.name, a.endpoint, err)
	}
	a.conn = conn
	a.logSvc = collogspb.NewLogsServiceClient(conn)
	return nil
}

func (a *OTLPForwardAction) ensureConnected() error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()

	if conn == nil {
		return a.reconnect()
	}
	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return a.reconnect()
	default:
		return nil
	}
}

func (a *OTLPForwardAction) reconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		state := a.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		a.conn.Close()
	}
	a.log.Info("action: reconnecting to OTLP endpoint", zap.String("endpoint", a.endpoint))
	conn, err := grpc.Dial(a.endpoint, a.opts...)
	if err != nil {
		return fmt.Errorf("action %s: reconnect %s: %w", a.name, a.endpoint, err)
	}
	a.conn = conn
	a.logSvc = collogspb.NewLogsServiceClient(conn)
	return nil
}

func (a *OTLPForwardAction) resource(msg *queue.Message) *resourcepb.Resource {
	hostname, _ := os.Hostname()
	attrs := []*commonpb.KeyValue{
		strAttr("service.name", a.serviceName),
		strAttr("telemetry.sdk.name", "logcore"),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("host.name", hostname),
		strAttr("log.input.name", msg.InputName),
	}
	if msg.PeerAddr != "" {
		attrs = append(attrs, strAttr("net.peer.ip", msg.PeerAddr))
	}
	if msg.PeerTLSName != "" {
		attrs = append(attrs, strAttr("net.peer.tls_name", msg.PeerTLSName))
	}
	return &resourcepb.Resource{Attributes: attrs}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

// Invoke converts msg to an OTLP LogRecord and exports it. Guarded by a
// CircuitBreaker: a wedged collector degrades to fast-fail instead of
// stalling the calling rule on every dispatch.
func (a *OTLPForwardAction) Invoke(msg *queue.Message) error {
	if !a.cb.Allow() {
		return fmt.Errorf("action %s: circuit open, OTLP endpoint %s unavailable", a.name, a.endpoint)
	}
	if err := a.ensureConnected(); err != nil {
		a.cb.RecordFailure()
		return err
	}

	body := string(msg.Payload)
	if !utf8.ValidString(body) {
		body = sanitizeUTF8(body)
	}

	rec := &logspb.LogRecord{
		TimeUnixNano: uint64(time.Now().UnixNano()),
		Body: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: body},
		},
	}

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{
			{
				Resource: a.resource(msg),
				ScopeLogs: []*logspb.ScopeLogs{
					{
						Scope:      &commonpb.InstrumentationScope{Name: "logcore", Version: "0.1.0"},
						LogRecords: []*logspb.LogRecord{rec},
					},
				},
			},
		},
	}

	a.mu.RLock()
	svc := a.logSvc
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := svc.Export(ctx, req); err != nil {
		a.cb.RecordFailure()
		return fmt.Errorf("action %s: export: %w", a.name, err)
	}
	a.cb.RecordSuccess()
	return nil
}

// Close releases the gRPC connection.
func (a *OTLPForwardAction) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func sanitizeUTF8(s string) string {
	return string([]rune(s))
}
