// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package hostsim is a simulated instrumentation runtime. It drives a
// host.Plugin the way a real translating runtime would: blocks are
// translated on first sight, inline counter adds are applied atomically on
// the executing goroutine, per-execution callbacks fire after the adds,
// and shutdown is delivered exactly once. It exists for tests and for
// replaying recorded block traces through an engine offline.
package hostsim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Project-Slicer/qpoints/pkg/host"
)

// Host drives one attached plugin. Exec may be called concurrently from
// multiple goroutines, each acting as a vCPU thread.
type Host struct {
	mu       sync.RWMutex
	plugin   host.Plugin
	blocks   map[host.TranslationBlock]host.Instrumentation
	shutdown bool
}

func New() *Host {
	return &Host{
		blocks: make(map[host.TranslationBlock]host.Instrumentation),
	}
}

// Attach installs the plugin that will receive translation and exit
// events. It must be called before the first Exec.
func (h *Host) Attach(p host.Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plugin = p
}

// Exec performs one dynamic execution of the block at vaddr on vCPU 0,
// translating it first if this is the block's first sighting.
func (h *Host) Exec(vaddr, insns uint64) {
	h.ExecOn(0, vaddr, insns)
}

// ExecN executes the block n times on vCPU 0.
func (h *Host) ExecN(vaddr, insns, n uint64) {
	for i := uint64(0); i < n; i++ {
		h.ExecOn(0, vaddr, insns)
	}
}

// ExecOn performs one dynamic execution of the block at vaddr on the given
// vCPU. The caller's goroutine is the executing thread: inline adds happen
// on it, then the plugin's per-execution callback.
func (h *Host) ExecOn(vcpu uint32, vaddr, insns uint64) {
	tb := host.TranslationBlock{VAddr: vaddr, Insns: insns}

	h.mu.RLock()
	inst, ok := h.blocks[tb]
	h.mu.RUnlock()

	if !ok {
		inst = h.translate(tb)
	}

	for _, add := range inst.InlineAdds {
		atomic.AddUint64(add.Cell, add.Delta)
	}
	if inst.OnExec != nil {
		inst.OnExec(vcpu)
	}
}

func (h *Host) translate(tb host.TranslationBlock) host.Instrumentation {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Another vCPU may have translated the block while we waited.
	if inst, ok := h.blocks[tb]; ok {
		return inst
	}
	if h.plugin == nil {
		panic("hostsim: Exec before Attach")
	}
	if h.shutdown {
		panic("hostsim: Exec after Shutdown")
	}

	inst := h.plugin.Translate(tb)
	h.blocks[tb] = inst
	return inst
}

// Retranslate models the runtime evicting and re-discovering a block it
// already knows, e.g. on translation-cache pressure: the plugin sees a
// fresh Translate call and its returned instrumentation replaces the old.
func (h *Host) Retranslate(vaddr, insns uint64) {
	tb := host.TranslationBlock{VAddr: vaddr, Insns: insns}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.plugin == nil {
		panic("hostsim: Retranslate before Attach")
	}
	h.blocks[tb] = h.plugin.Translate(tb)
}

// Shutdown delivers the plugin's exit notification. Only the first call
// has any effect; no Exec may follow.
func (h *Host) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.shutdown = true
	if h.plugin != nil {
		h.plugin.Exit()
	}
}

// Blocks reports how many distinct blocks the host has translated.
func (h *Host) Blocks() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.blocks)
}

// Replay feeds every trace event through the host in order.
func (h *Host) Replay(t *Trace) error {
	for i, ev := range t.Events {
		if ev.Insns == 0 {
			return fmt.Errorf("event %d: instruction count must be nonzero", i)
		}
		n := ev.Count
		if n == 0 {
			n = 1
		}
		for j := uint64(0); j < n; j++ {
			h.ExecOn(ev.VCPU, ev.Addr, ev.Insns)
		}
	}
	return nil
}
