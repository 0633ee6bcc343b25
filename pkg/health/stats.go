// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/relaylog/logcore/pkg/metrics"
)

// Stats tracks self-monitoring counters for the daemon: session
// lifecycle, ingestion volume, and error categories a health consumer
// would want a gauge or counter for. Adapted from the original agent's
// Stats (same atomic-counter-plus-Snapshot shape), fields renamed from
// telemetry-export counters to ingestion-core counters.
type Stats struct {
	startTime time.Time
	proc      *metrics.ProcessSampler

	SessionsOpened   atomic.Int64
	SessionsClosed   atomic.Int64
	SessionsRejected atomic.Int64 // rejected for exceeding max_sessions
	MessagesIngested atomic.Int64
	BytesIngested    atomic.Int64
	FramesMalformed  atomic.Int64
	ActionErrors     atomic.Int64
	MessagesDropped  atomic.Int64 // queue full
}

// NewStats creates a new Stats instance. proc may be nil, in which case
// process-level gauges are omitted from the snapshot.
func NewStats(proc *metrics.ProcessSampler) *Stats {
	return &Stats{
		startTime: time.Now(),
		proc:      proc,
	}
}

// Uptime returns daemon uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters plus runtime/process
// gauges.
type Snapshot struct {
	UptimeSeconds    float64
	Goroutines       int
	MemoryRSSBytes   uint64
	ProcessCPUPct    float64
	ProcessRSSBytes  uint64
	OpenSessions     int64
	SessionsOpened   int64
	SessionsClosed   int64
	SessionsRejected int64
	MessagesIngested int64
	BytesIngested    int64
	FramesMalformed  int64
	ActionErrors     int64
	MessagesDropped  int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	opened := s.SessionsOpened.Load()
	closed := s.SessionsClosed.Load()

	snap := Snapshot{
		UptimeSeconds:    s.Uptime().Seconds(),
		Goroutines:       runtime.NumGoroutine(),
		MemoryRSSBytes:   memStats.Sys,
		OpenSessions:     opened - closed,
		SessionsOpened:   opened,
		SessionsClosed:   closed,
		SessionsRejected: s.SessionsRejected.Load(),
		MessagesIngested: s.MessagesIngested.Load(),
		BytesIngested:    s.BytesIngested.Load(),
		FramesMalformed:  s.FramesMalformed.Load(),
		ActionErrors:     s.ActionErrors.Load(),
		MessagesDropped:  s.MessagesDropped.Load(),
	}

	if s.proc != nil {
		if ps, ok := s.proc.Latest(); ok {
			snap.ProcessCPUPct = ps.CPUPercent
			snap.ProcessRSSBytes = ps.RSSBytes
		}
	}

	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()
	return prometheusFormat(snap)
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "logcore_uptime_seconds", "gauge", "Daemon uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "logcore_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "logcore_memory_rss_bytes", "gauge", "Go runtime memory reserved from the OS", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "logcore_process_cpu_utilization", "gauge", "Process CPU utilization ratio", snap.ProcessCPUPct/100)
	b = appendMetric(b, "logcore_process_memory_rss_bytes", "gauge", "Process resident set size", float64(snap.ProcessRSSBytes))
	b = appendMetric(b, "logcore_sessions_open", "gauge", "Currently open TCP sessions", float64(snap.OpenSessions))
	b = appendMetric(b, "logcore_sessions_opened_total", "counter", "Total sessions opened", float64(snap.SessionsOpened))
	b = appendMetric(b, "logcore_sessions_closed_total", "counter", "Total sessions closed", float64(snap.SessionsClosed))
	b = appendMetric(b, "logcore_sessions_rejected_total", "counter", "Sessions rejected for exceeding max_sessions", float64(snap.SessionsRejected))
	b = appendMetric(b, "logcore_messages_ingested_total", "counter", "Total framed messages ingested", float64(snap.MessagesIngested))
	b = appendMetric(b, "logcore_bytes_ingested_total", "counter", "Total bytes read from sessions", float64(snap.BytesIngested))
	b = appendMetric(b, "logcore_frames_malformed_total", "counter", "Frames rejected as malformed", float64(snap.FramesMalformed))
	b = appendMetric(b, "logcore_action_errors_total", "counter", "Action invocation errors", float64(snap.ActionErrors))
	b = appendMetric(b, "logcore_messages_dropped_total", "counter", "Messages dropped by a full queue", float64(snap.MessagesDropped))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, f float64) []byte {
	if f == float64(int64(f)) {
		return append(b, []byte(intToStr(int64(f)))...)
	}
	return append(b, []byte(floatToStr(f))...)
}

func intToStr(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte(n%10) + '0'
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func floatToStr(f float64) string {
	neg := f < 0
	if neg {
		f = -f
	}
	whole := int64(f)
	frac := int64((f - float64(whole)) * 1000000)
	if frac < 0 {
		frac = -frac
	}

	s := intToStr(whole) + "."
	fracStr := intToStr(frac)
	for len(fracStr) < 6 {
		fracStr = "0" + fracStr
	}
	s += fracStr

	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}

	if neg {
		s = "-" + s
	}
	return s
}
