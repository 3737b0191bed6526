// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bbv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAssignsIDsInDiscoveryOrder(t *testing.T) {
	r := newRegistry()

	a := r.lookupOrCreate(0x400000, 2)
	b := r.lookupOrCreate(0x400010, 4)
	c := r.lookupOrCreate(0x400020, 1)

	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, uint64(2), b.ID)
	assert.Equal(t, uint64(3), c.ID)
	assert.Equal(t, 3, r.size())
}

func TestRegistryIdentityStability(t *testing.T) {
	r := newRegistry()

	first := r.lookupOrCreate(0x400000, 2)
	for i := 0; i < 10; i++ {
		again := r.lookupOrCreate(0x400000, 2)
		require.Same(t, first, again)
	}

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(11), first.TransCount)
	assert.Equal(t, 1, r.size())
}

func TestRegistryRecordFields(t *testing.T) {
	r := newRegistry()

	rec := r.lookupOrCreate(0xffffffc000080000, 17)
	assert.Equal(t, uint64(0xffffffc000080000), rec.StartAddr)
	assert.Equal(t, uint64(17), rec.Insns)
	assert.Equal(t, uint64(0), rec.ExecCount)
	assert.Equal(t, uint64(1), rec.TransCount)
}

func TestRegistryCollisionPanics(t *testing.T) {
	// 0x1001^5 and 0x1006^2 share the fingerprint 0x1004.
	require.Equal(t, fingerprint(0x1001, 5), fingerprint(0x1006, 2))

	r := newRegistry()
	r.lookupOrCreate(0x1001, 5)
	assert.Panics(t, func() {
		r.lookupOrCreate(0x1006, 2)
	})
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name  string
		vaddr uint64
		insns uint64
		want  blockID
	}{
		{name: "zero address", vaddr: 0, insns: 3, want: 3},
		{name: "aligned block", vaddr: 0x400000, insns: 8, want: 0x400008},
		{name: "insns folds into low bits", vaddr: 0x400008, insns: 8, want: 0x400000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fingerprint(tt.vaddr, tt.insns))
		})
	}
}
