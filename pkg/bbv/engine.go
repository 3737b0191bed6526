// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bbv implements a basic-block-vector profiling engine.
//
// The engine runs inside a hosting instrumentation runtime (see pkg/host):
// it assigns every discovered basic block a stable id, counts dynamic
// executions through host-managed inline counters, slices execution by a
// configurable boundary policy, and writes one BBV row per slice to an
// output sink. The rows feed SimPoint-style phase-clustering tools, so
// ids must stay stable for the whole run and slices must appear in
// chronological order.
package bbv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/Project-Slicer/qpoints/pkg/bbv/sink"
	"github.com/Project-Slicer/qpoints/pkg/host"
)

// Engine is the block-execution accounting and slicing engine. It
// implements host.Plugin.
//
// The hot path is the host's inline adds into counter cells; they run on
// every block execution on the originating vCPU thread and never take the
// engine lock. Everything else, registry mutation, boundary checks and
// slice emission, runs under one mutex.
type Engine struct {
	cfg    Config
	logger logr.Logger
	out    sink.Sink

	mu         sync.Mutex
	reg        *registry
	policy     boundaryPolicy
	firstSlice bool

	// Counter cells shared with the host's inline instrumentation.
	// Accessed atomically outside the lock.
	instAccum uint64
	ckptHits  uint64

	slicesEmitted   uint64
	slicesDiscarded uint64
	exited          bool
}

// Stats is a point-in-time summary of the engine's run.
type Stats struct {
	Blocks          int
	SlicesEmitted   uint64
	SlicesDiscarded uint64
}

// New validates cfg and returns an installed engine writing slice rows to
// out. The engine does not own the sink; the caller closes it after
// Exit has been delivered.
func New(cfg Config, out sink.Sink, logger logr.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("output sink must not be nil")
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.WithName("bbv"),
		out:        out,
		reg:        newRegistry(),
		firstSlice: true,
	}

	switch cfg.Policy {
	case PolicyInterval:
		e.policy = &intervalPolicy{accum: &e.instAccum, size: cfg.IntervalSize}
	case PolicyCheckpoint:
		e.policy = &checkpointPolicy{hits: &e.ckptHits}
	}

	e.logger.Info("engine installed",
		"policy", cfg.Policy, "interval", cfg.IntervalSize,
		"top", cfg.TopK, "output", cfg.OutputFile())
	return e, nil
}

// Translate registers instrumentation for a newly discovered block. Blocks
// in the checkpoint marker range feed the checkpoint hit counter even when
// they live above the kernel threshold; kernel blocks are otherwise
// ignored entirely.
func (e *Engine) Translate(tb host.TranslationBlock) host.Instrumentation {
	var adds []host.InlineAdd

	if e.cfg.Policy == PolicyCheckpoint &&
		tb.VAddr >= e.cfg.CkptStart && tb.VAddr < e.cfg.CkptStart+e.cfg.CkptLen {
		adds = append(adds, host.InlineAdd{Cell: &e.ckptHits, Delta: 1})
	}

	if e.cfg.KVAStart != 0 && tb.VAddr >= e.cfg.KVAStart {
		if adds == nil {
			return host.Instrumentation{}
		}
		return host.Instrumentation{InlineAdds: adds, OnExec: e.onExec}
	}

	e.mu.Lock()
	rec := e.reg.lookupOrCreate(tb.VAddr, tb.Insns)
	e.mu.Unlock()

	adds = append(adds,
		host.InlineAdd{Cell: &rec.ExecCount, Delta: 1},
		host.InlineAdd{Cell: &e.instAccum, Delta: tb.Insns},
	)
	return host.Instrumentation{InlineAdds: adds, OnExec: e.onExec}
}

// onExec is the per-execution boundary check, registered with the host for
// every instrumented block.
func (e *Engine) onExec(vcpu uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.policy.fire() {
		return
	}

	if e.firstSlice {
		// The interval up to the first boundary is warm-up, not a
		// representative phase: discard it instead of emitting.
		e.firstSlice = false
		e.resetCounters()
		e.slicesDiscarded++
		e.logger.V(1).Info("discarded first slice", "vcpu", vcpu)
		return
	}

	e.emitSlice()
}

// Exit implements the host's shutdown notification. Depending on the
// flush-at-exit policy it writes the trailing partial slice before the
// engine goes quiet. It never closes the sink; the installer owns it.
func (e *Engine) Exit() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exited {
		return
	}
	e.exited = true

	if e.shouldFlushAtExit() && !e.firstSlice {
		e.emitSlice()
	}

	e.logger.Info("engine shut down",
		"blocks", e.reg.size(),
		"slices_emitted", e.slicesEmitted,
		"slices_discarded", e.slicesDiscarded)
}

func (e *Engine) shouldFlushAtExit() bool {
	switch e.cfg.FlushAtExit {
	case FlushAlways:
		return true
	case FlushNever:
		return false
	default:
		return e.policy.flushAtExit()
	}
}

// Stats returns a snapshot of the run so far.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Blocks:          e.reg.size(),
		SlicesEmitted:   e.slicesEmitted,
		SlicesDiscarded: e.slicesDiscarded,
	}
}

// emitSlice writes one BBV row for every block that executed since the
// last reset and re-bases all counters for the next slice. Counters are
// zeroed for every contributing block even when top-K truncation drops it
// from the row, so no execution is carried across a slice boundary.
// Callers must hold the lock.
func (e *Engine) emitSlice() {
	entries := make([]sliceEntry, 0, e.reg.size())
	for _, rec := range e.reg.records {
		n := atomic.LoadUint64(&rec.ExecCount)
		if n == 0 {
			continue
		}
		atomic.StoreUint64(&rec.ExecCount, 0)
		entries = append(entries, sliceEntry{id: rec.ID, weight: n * rec.Insns})
	}
	if len(entries) == 0 {
		return
	}

	entries = rankEntries(entries, e.cfg.TopK)
	line := formatSlice(entries)
	if _, err := e.out.Write([]byte(line)); err != nil {
		// No recovery path for a failing local sink; keep counting so the
		// run at least finishes.
		e.logger.Error(err, "failed to write slice row")
		return
	}
	e.slicesEmitted++
	e.logger.V(1).Info("emitted slice", "blocks", len(entries))
}

// resetCounters zeroes every block's execution counter without touching
// identities. Callers must hold the lock.
func (e *Engine) resetCounters() {
	for _, rec := range e.reg.records {
		atomic.StoreUint64(&rec.ExecCount, 0)
	}
}
