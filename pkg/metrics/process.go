// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package metrics samples the daemon's own process for the health
// endpoint's gauges. Adapted from the original agent's ProcessCollector
// (same gopsutil/v3 sampling loop), trimmed from "watch an arbitrary set
// of observed PIDs and emit OTLP-shaped Metric events" down to "watch
// this process and hold the latest sample" -- logcored has no use for
// per-PID registration, only its own resource footprint.
package metrics

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ProcessStats is a point-in-time sample of the daemon's own process.
type ProcessStats struct {
	CPUPercent float64
	RSSBytes   uint64
	VMSBytes   uint64
	Threads    int32
	FDs        int32
	SampledAt  time.Time
}

// ProcessSampler periodically samples the current process and holds the
// latest result for readers (the health endpoint) to fetch without
// blocking on a fresh gopsutil call per request.
type ProcessSampler struct {
	log  *zap.Logger
	proc *process.Process

	latest atomic.Pointer[ProcessStats]

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewProcessSampler builds a sampler for the calling process.
func NewProcessSampler(log *zap.Logger) (*ProcessSampler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{log: log, proc: proc, stopCh: make(chan struct{})}, nil
}

// Start launches the periodic sampling loop. Samples once immediately
// so Latest has a value before the first interval elapses.
func (s *ProcessSampler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s.sample()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sampling loop.
func (s *ProcessSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Latest returns the most recent sample, or ok=false if none has been
// taken yet.
func (s *ProcessSampler) Latest() (ProcessStats, bool) {
	p := s.latest.Load()
	if p == nil {
		return ProcessStats{}, false
	}
	return *p, true
}

func (s *ProcessSampler) sample() {
	stats := ProcessStats{SampledAt: time.Now()}

	if cpuPct, err := s.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpuPct
	} else {
		s.log.Debug("metrics: cpu percent sample failed", zap.Error(err))
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
		stats.VMSBytes = mem.VMS
	} else {
		s.log.Debug("metrics: memory sample failed", zap.Error(err))
	}
	if threads, err := s.proc.NumThreads(); err == nil {
		stats.Threads = threads
	}
	if fds, err := s.proc.NumFDs(); err == nil {
		stats.FDs = fds
	}

	s.latest.Store(&stats)
}
