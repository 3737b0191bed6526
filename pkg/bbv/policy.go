// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bbv

import "sync/atomic"

// boundaryPolicy decides, on each block-boundary event, whether the
// current slice has ended. fire both checks and consumes the trigger as
// one step, so the counter state a flush observes is exactly the state
// the next slice starts from. Callers must hold the engine lock; the cells
// a policy reads are incremented by the host without it, so access is
// atomic.
type boundaryPolicy interface {
	fire() bool

	// flushAtExit reports the policy's reference behavior for a trailing
	// partial slice at guest shutdown.
	flushAtExit() bool
}

// intervalPolicy ends a slice once the shared instruction accumulator
// reaches size. The accumulator is fed by an inline add of each block's
// static instruction count per execution.
type intervalPolicy struct {
	accum *uint64
	size  uint64
}

func (p *intervalPolicy) fire() bool {
	if atomic.LoadUint64(p.accum) < p.size {
		return false
	}
	atomic.StoreUint64(p.accum, 0)
	return true
}

// The interval variant never flushes a partial trailing slice.
func (p *intervalPolicy) flushAtExit() bool {
	return false
}

// checkpointPolicy ends a slice whenever the checkpoint marker range has
// executed since the last flush. The marker is assumed rare, so any
// nonzero hit count is a boundary signal, not a magnitude.
type checkpointPolicy struct {
	hits *uint64
}

func (p *checkpointPolicy) fire() bool {
	if atomic.LoadUint64(p.hits) == 0 {
		return false
	}
	atomic.StoreUint64(p.hits, 0)
	return true
}

// The checkpoint variant flushes whatever accumulated after the last
// checkpoint before the process exits.
func (p *checkpointPolicy) flushAtExit() bool {
	return true
}
