// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package host defines the contract between a basic-block profiling plugin
// and the instrumentation runtime that hosts it.
//
// The runtime discovers basic blocks at translation time, drives dynamic
// execution on one or more vCPU threads, and delivers exactly one shutdown
// notification. The plugin never sees the instruction stream directly; it
// only receives translation events and wires up the instrumentation it
// wants per block.
package host

// TranslationBlock describes one basic block as discovered by the runtime:
// the virtual address of its first instruction and the number of
// instructions it statically contains.
type TranslationBlock struct {
	VAddr uint64
	Insns uint64
}

// InlineAdd asks the runtime to add Delta to *Cell on every dynamic
// execution of the instrumented block. The runtime performs the add
// synchronously on the executing thread using its lowest-overhead
// mechanism; the plugin must not assume the adds are coordinated with any
// lock it holds. Cell must stay valid until the runtime shuts down.
type InlineAdd struct {
	Cell  *uint64
	Delta uint64
}

// Instrumentation is what a plugin requests for a single block. A zero
// value means the block is not instrumented at all.
type Instrumentation struct {
	InlineAdds []InlineAdd

	// OnExec, if non-nil, is invoked once per dynamic execution of the
	// block, after the inline adds, on the executing vCPU's thread.
	OnExec func(vcpu uint32)
}

// Plugin is the runtime-facing surface of a profiler.
//
// Translate is called once per distinct block discovery, and again if the
// runtime re-translates a block it has evicted. Exit is delivered exactly
// once at guest shutdown, before any runtime resources are torn down;
// after Exit returns no further callbacks occur.
type Plugin interface {
	Translate(tb TranslationBlock) Instrumentation
	Exit()
}
