// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hostsim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-Slicer/qpoints/pkg/host"
	"github.com/Project-Slicer/qpoints/pkg/host/hostsim"
)

// recordingPlugin wires one counter cell per block plus a callback counter,
// and records every translation and exit it sees.
type recordingPlugin struct {
	translations []host.TranslationBlock
	cells        map[host.TranslationBlock]*uint64
	execCalls    uint64
	lastVCPU     uint32
	exits        int
}

func newRecordingPlugin() *recordingPlugin {
	return &recordingPlugin{cells: make(map[host.TranslationBlock]*uint64)}
}

func (p *recordingPlugin) Translate(tb host.TranslationBlock) host.Instrumentation {
	p.translations = append(p.translations, tb)
	cell, ok := p.cells[tb]
	if !ok {
		cell = new(uint64)
		p.cells[tb] = cell
	}
	return host.Instrumentation{
		InlineAdds: []host.InlineAdd{{Cell: cell, Delta: 1}},
		OnExec: func(vcpu uint32) {
			p.execCalls++
			p.lastVCPU = vcpu
		},
	}
}

func (p *recordingPlugin) Exit() {
	p.exits++
}

func TestTranslateOncePerBlock(t *testing.T) {
	p := newRecordingPlugin()
	h := hostsim.New()
	h.Attach(p)

	h.ExecN(0x400000, 2, 5)
	h.Exec(0x400010, 4)
	h.ExecN(0x400000, 2, 3)

	require.Len(t, p.translations, 2)
	assert.Equal(t, host.TranslationBlock{VAddr: 0x400000, Insns: 2}, p.translations[0])
	assert.Equal(t, host.TranslationBlock{VAddr: 0x400010, Insns: 4}, p.translations[1])
	assert.Equal(t, 2, h.Blocks())
}

func TestInlineAddsAndCallbacksPerExecution(t *testing.T) {
	p := newRecordingPlugin()
	h := hostsim.New()
	h.Attach(p)

	h.ExecN(0x400000, 2, 7)
	h.ExecOn(3, 0x400010, 4)

	assert.Equal(t, uint64(7), *p.cells[host.TranslationBlock{VAddr: 0x400000, Insns: 2}])
	assert.Equal(t, uint64(1), *p.cells[host.TranslationBlock{VAddr: 0x400010, Insns: 4}])
	assert.Equal(t, uint64(8), p.execCalls)
	assert.Equal(t, uint32(3), p.lastVCPU)
}

func TestRetranslateReplacesInstrumentation(t *testing.T) {
	p := newRecordingPlugin()
	h := hostsim.New()
	h.Attach(p)

	h.Exec(0x400000, 2)
	h.Retranslate(0x400000, 2)
	h.Exec(0x400000, 2)

	require.Len(t, p.translations, 2)
	// Same cell both times, so counts survive the retranslation.
	assert.Equal(t, uint64(2), *p.cells[host.TranslationBlock{VAddr: 0x400000, Insns: 2}])
	assert.Equal(t, 1, h.Blocks())
}

func TestShutdownDeliversExitOnce(t *testing.T) {
	p := newRecordingPlugin()
	h := hostsim.New()
	h.Attach(p)

	h.Exec(0x400000, 2)
	h.Shutdown()
	h.Shutdown()

	assert.Equal(t, 1, p.exits)
}

func TestExecBeforeAttachPanics(t *testing.T) {
	h := hostsim.New()
	assert.Panics(t, func() {
		h.Exec(0x400000, 2)
	})
}

func TestReplay(t *testing.T) {
	p := newRecordingPlugin()
	h := hostsim.New()
	h.Attach(p)

	trace := &hostsim.Trace{
		Events: []hostsim.TraceEvent{
			{Addr: 0x400000, Insns: 2, Count: 3},
			{Addr: 0x400010, Insns: 4}, // count defaults to 1
			{Addr: 0x400000, Insns: 2, Count: 2, VCPU: 1},
		},
	}
	require.NoError(t, h.Replay(trace))

	assert.Equal(t, uint64(5), *p.cells[host.TranslationBlock{VAddr: 0x400000, Insns: 2}])
	assert.Equal(t, uint64(1), *p.cells[host.TranslationBlock{VAddr: 0x400010, Insns: 4}])
	assert.Equal(t, uint64(6), p.execCalls)
	assert.Equal(t, uint32(1), p.lastVCPU)
}

func TestReplayRejectsZeroInsns(t *testing.T) {
	h := hostsim.New()
	h.Attach(newRecordingPlugin())

	err := h.Replay(&hostsim.Trace{Events: []hostsim.TraceEvent{{Addr: 0x400000}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instruction count")
}
