// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bbv

import "fmt"

// blockID is the fingerprint a block is looked up by: its entry address
// xor'ed with its static instruction count. The instrumentation runtime
// does not expose block contents, so two physically different blocks can
// in principle collide; the registry treats a collision it can detect as
// a fatal invariant violation rather than corrupting the output.
type blockID uint64

func fingerprint(vaddr, insns uint64) blockID {
	return blockID(vaddr ^ insns)
}

// BlockRecord is the per-block accounting state. Records are created on
// first translation and live until the engine is torn down; their counters
// reset at slice boundaries but their identity never changes.
type BlockRecord struct {
	// ID is the record's column label in BBV output, assigned in
	// first-seen order starting at 1. Never reused.
	ID uint64

	// StartAddr is the virtual address of the block's first instruction.
	StartAddr uint64

	// Insns is the block's static instruction count.
	Insns uint64

	// ExecCount counts dynamic executions since the last slice reset. It
	// is the cell handed to the host's inline instrumentation: incremented
	// without the engine lock, so it must only be read and reset with
	// atomic operations.
	ExecCount uint64

	// TransCount counts how many times the host translated this block.
	TransCount uint64
}

// registry is an arena of BlockRecords indexed by fingerprint. Records are
// stored behind stable pointers since the host holds their counter cells
// for the life of the run.
type registry struct {
	records []*BlockRecord
	index   map[blockID]int
	nextID  uint64
}

func newRegistry() *registry {
	return &registry{
		index: make(map[blockID]int),
	}
}

// lookupOrCreate returns the record for (vaddr, insns), creating it on
// first sight. Re-translations of a known block bump TransCount. Callers
// must hold the engine lock.
func (r *registry) lookupOrCreate(vaddr, insns uint64) *BlockRecord {
	id := fingerprint(vaddr, insns)
	if i, ok := r.index[id]; ok {
		rec := r.records[i]
		if rec.Insns != insns || rec.StartAddr != vaddr {
			panic(fmt.Sprintf(
				"block fingerprint collision: %#x/%d insns vs existing %#x/%d insns",
				vaddr, insns, rec.StartAddr, rec.Insns))
		}
		rec.TransCount++
		return rec
	}

	r.nextID++
	rec := &BlockRecord{
		ID:         r.nextID,
		StartAddr:  vaddr,
		Insns:      insns,
		TransCount: 1,
	}
	r.index[id] = len(r.records)
	r.records = append(r.records, rec)
	return rec
}

func (r *registry) size() int {
	return len(r.records)
}
